// ABOUTME: Replay source backed by a parsed GoldSrc demo
// ABOUTME: Adapts demo frames to converter ticks with embedded voice
package convert

import (
	"demovoice/pkg/demo"
	"demovoice/pkg/steamvoice"
)

// demoSource adapts a demo frame stream to the converter's Source.
type demoSource struct {
	frames *demo.FrameReader
}

// DemoOpener returns an OpenFunc that starts a fresh pass over d on
// every call.
func DemoOpener(d *demo.Demo) OpenFunc {
	return func() (Source, error) {
		return &demoSource{frames: d.Frames()}, nil
	}
}

func (s *demoSource) Next() (*Frame, error) {
	f, err := s.frames.Next()
	if err != nil {
		return nil, err
	}
	frame := &Frame{Time: float64(f.Time)}
	if len(f.GameData) > 0 {
		frame.Voice = steamvoice.Scan(f.GameData)
	}
	return frame, nil
}
