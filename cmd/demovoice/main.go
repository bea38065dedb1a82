// ABOUTME: Entry point for the demovoice converter
// ABOUTME: Parses CLI flags and runs a demo-to-WAV conversion
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"demovoice/internal/config"
	"demovoice/internal/convert"
	"demovoice/internal/timeline"
	"demovoice/internal/voice"
	"demovoice/internal/wavout"
	"demovoice/pkg/demo"
)

var (
	configPath = flag.String("config", "", "Path to YAML config file (defaults apply when omitted)")
	outDir     = flag.String("out", "", "Output directory for per-speaker WAV files (overrides config)")
	outRate    = flag.Int("rate", -1, "Output sample rate, 0 keeps the 24kHz pipeline rate (overrides config)")
	logLevel   = flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <demo file>\n\nFlags:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load config")
		}
	}
	if *outDir != "" {
		cfg.Output.Directory = *outDir
	}
	if *outRate >= 0 {
		cfg.Output.SampleRate = *outRate
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid log level")
	}
	zerolog.SetGlobalLevel(level)

	if err := run(cfg, flag.Arg(0)); err != nil {
		log.Fatal().Err(err).Msg("conversion failed")
	}
}

func run(cfg *config.Config, input string) error {
	format, err := voice.ParseSampleFormat(cfg.Audio.SampleFormat)
	if err != nil {
		return err
	}

	d, err := demo.Open(input)
	if err != nil {
		return err
	}
	log.Info().
		Str("map", d.Header.MapName).
		Str("game", d.Header.GameDir).
		Int("entries", len(d.Entries)).
		Msg("demo loaded")

	if err := os.MkdirAll(cfg.Output.Directory, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	conv := convert.New(
		convert.Config{
			SampleRate:    cfg.Audio.SampleRate,
			SampleFormat:  format,
			FrameSamples:  cfg.Audio.FrameSamples,
			WarmupSeconds: cfg.Audio.WarmupSeconds,
			MaxConceal:    cfg.Audio.MaxConcealment,
		},
		convert.DemoOpener(d),
		func() (voice.Codec, error) {
			return voice.NewOpusCodec(cfg.Audio.SampleRate, format)
		},
		func(speakerID uint64) (timeline.FrameSink, error) {
			path := filepath.Join(cfg.Output.Directory, fmt.Sprintf("voice_%d.wav", speakerID))
			log.Info().Uint64("speaker", speakerID).Str("path", path).Msg("writing track")
			return wavout.Create(path, format, cfg.Audio.SampleRate, cfg.Output.SampleRate)
		},
	)

	return conv.Run()
}
