package cnl

import (
	"bytes"
	"testing"

	"github.com/kstaniek/go-socketcan/can"
)

func FuzzCodecRoundTrip(f *testing.F) {
	c := Codec{}
	f.Add(c.Encode(mixedFrames()))
	f.Add([]byte{0, 0, 0, 1, 0})
	f.Add([]byte{0, 0, 0, 4, 0x80 | 12, 1})
	f.Fuzz(func(t *testing.T, data []byte) {
		var frames []can.Frame
		_, _ = c.DecodeN(bytes.NewReader(data), 16, func(fr can.Frame) { frames = append(frames, fr) })
		// whatever decoded must re-encode and decode to the same frames
		var again []can.Frame
		_, _ = c.DecodeN(bytes.NewReader(c.Encode(frames)), 0, func(fr can.Frame) { again = append(again, fr) })
		if len(again) != len(frames) {
			t.Fatalf("re-decode %d frames, want %d", len(again), len(frames))
		}
		for i := range frames {
			if again[i] != frames[i] {
				t.Fatalf("frame %d changed: %v -> %v", i, frames[i], again[i])
			}
		}
	})
}
