package audio

import (
	"bytes"
	"fmt"
)

// Assemble joins chunk payloads in arrival order into one recording.
//
// When every non-empty chunk is a mono 16-bit PCM WAV file at the same
// sample rate the samples are merged under a single header. Anything else
// is concatenated byte for byte, which is what containers such as WebM
// segments from a MediaRecorder expect.
func Assemble(chunks []*Chunk) ([]byte, error) {
	payloads := make([][]byte, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Payload) > 0 {
			payloads = append(payloads, c.Payload)
		}
	}
	if len(payloads) == 0 {
		return nil, fmt.Errorf("no audio to assemble")
	}

	if merged, ok := mergePCM(payloads); ok {
		return merged, nil
	}
	return bytes.Join(payloads, nil), nil
}

func mergePCM(payloads [][]byte) ([]byte, bool) {
	var all []int16
	rate := 0
	for _, p := range payloads {
		if !IsWAV(p) {
			return nil, false
		}
		samples, sr, err := DecodeWAV(p)
		if err != nil {
			return nil, false
		}
		if rate != 0 && sr != rate {
			return nil, false
		}
		rate = sr
		all = append(all, samples...)
	}

	out, err := EncodeWAV(all, rate)
	if err != nil {
		return nil, false
	}
	return out, true
}
