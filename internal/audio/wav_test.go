package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func sineSamples(sampleRate int, seconds float64) []int16 {
	n := int(float64(sampleRate) * seconds)
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(sampleRate)
		samples[i] = int16(16383.0 * math.Sin(2*math.Pi*440.0*t))
	}
	return samples
}

func TestEncodeWAV(t *testing.T) {
	sampleRate := 16000
	samples := sineSamples(sampleRate, 0.1)

	wavData, err := EncodeWAV(samples, sampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	expectedSize := 44 + len(samples)*2
	if len(wavData) != expectedSize {
		t.Errorf("Expected WAV size %d, got %d", expectedSize, len(wavData))
	}

	info, err := GetWAVInfo(wavData)
	if err != nil {
		t.Fatalf("Failed to get WAV info: %v", err)
	}
	if info.SampleRate != uint32(sampleRate) {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, info.SampleRate)
	}
	if info.Channels != 1 {
		t.Errorf("Expected 1 channel, got %d", info.Channels)
	}
	if info.DataOffset != 44 {
		t.Errorf("Expected data offset 44, got %d", info.DataOffset)
	}
	if math.Abs(info.Duration-0.1) > 0.001 {
		t.Errorf("Expected duration 0.100, got %.3f", info.Duration)
	}
}

func TestDecodeWAV(t *testing.T) {
	original := []int16{100, -200, 300, -400, 500}

	wavData, err := EncodeWAV(original, 8000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	decoded, rate, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if rate != 8000 {
		t.Errorf("Expected sample rate 8000, got %d", rate)
	}
	if len(decoded) != len(original) {
		t.Fatalf("Expected %d samples, got %d", len(original), len(decoded))
	}
	for i := range original {
		if decoded[i] != original[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, original[i], decoded[i])
		}
	}
}

func TestGetWAVInfoSkipsExtraChunks(t *testing.T) {
	wavData, err := EncodeWAV([]int16{1, 2, 3, 4}, 8000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	// splice an odd-sized LIST chunk between fmt and data
	list := []byte{'L', 'I', 'S', 'T', 0, 0, 0, 0, 'a', 'b', 'c', 0}
	binary.LittleEndian.PutUint32(list[4:8], 3)
	withList := append([]byte{}, wavData[:36]...)
	withList = append(withList, list...)
	withList = append(withList, wavData[36:]...)

	samples, _, err := DecodeWAV(withList)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if len(samples) != 4 || samples[3] != 4 {
		t.Errorf("Expected samples [1 2 3 4], got %v", samples)
	}
}

func TestEncodeWAVErrors(t *testing.T) {
	tests := []struct {
		name       string
		samples    []int16
		sampleRate int
	}{
		{"empty samples", []int16{}, 8000},
		{"zero sample rate", []int16{1, 2}, 0},
		{"negative sample rate", []int16{1, 2}, -1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EncodeWAV(tt.samples, tt.sampleRate); err == nil {
				t.Error("Expected error but got none")
			}
		})
	}
}

func TestValidateWAV(t *testing.T) {
	if err := ValidateWAV([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for too short WAV data")
	}

	invalid := make([]byte, 50)
	copy(invalid[0:4], "FAKE")
	if err := ValidateWAV(invalid); err == nil {
		t.Error("Expected error for invalid RIFF header")
	}

	noData := make([]byte, 12)
	copy(noData[0:4], "RIFF")
	copy(noData[8:12], "WAVE")
	if err := ValidateWAV(noData); err == nil {
		t.Error("Expected error for missing fmt chunk")
	}

	if IsWAV([]byte("OggS....")) {
		t.Error("Expected Ogg data not to be detected as WAV")
	}
}

func TestGetWAVDuration(t *testing.T) {
	wavData, err := EncodeWAV(make([]int16, 8000), 8000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	duration, err := GetWAVDuration(wavData)
	if err != nil {
		t.Fatalf("GetWAVDuration failed: %v", err)
	}
	if math.Abs(duration-1.0) > 0.001 {
		t.Errorf("Expected duration 1.000, got %.3f", duration)
	}
}

func TestSplitWAV(t *testing.T) {
	sampleRate := 8000
	wavData, err := EncodeWAV(sineSamples(sampleRate, 2.5), sampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	parts, durations, err := SplitWAV(wavData, 1.0)
	if err != nil {
		t.Fatalf("SplitWAV failed: %v", err)
	}
	if len(parts) != 3 {
		t.Fatalf("Expected 3 parts, got %d", len(parts))
	}

	expected := []float64{1.0, 1.0, 0.5}
	total := 0.0
	for i, d := range durations {
		if math.Abs(d-expected[i]) > 0.001 {
			t.Errorf("Part %d: expected duration %.3f, got %.3f", i, expected[i], d)
		}
		if err := ValidateWAV(parts[i]); err != nil {
			t.Errorf("Part %d is not a valid WAV: %v", i, err)
		}
		total += d
	}
	if math.Abs(total-2.5) > 0.001 {
		t.Errorf("Expected total duration 2.5, got %.3f", total)
	}

	if _, _, err := SplitWAV(wavData, 0); err == nil {
		t.Error("Expected error for zero segment length")
	}
}

func TestSplitBytes(t *testing.T) {
	tests := []struct {
		name     string
		size     int
		dataLen  int
		expected []int
	}{
		{"exact multiple", 4, 8, []int{4, 4}},
		{"short tail", 4, 10, []int{4, 4, 2}},
		{"smaller than one chunk", 16, 5, []int{5}},
		{"empty", 4, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, tt.dataLen)
			for i := range data {
				data[i] = byte(i)
			}

			parts, err := SplitBytes(data, tt.size)
			if err != nil {
				t.Fatalf("SplitBytes failed: %v", err)
			}
			if len(parts) != len(tt.expected) {
				t.Fatalf("Expected %d parts, got %d", len(tt.expected), len(parts))
			}
			offset := 0
			for i, p := range parts {
				if len(p) != tt.expected[i] {
					t.Errorf("Part %d: expected %d bytes, got %d", i, tt.expected[i], len(p))
				}
				if len(p) > 0 && p[0] != byte(offset) {
					t.Errorf("Part %d: expected to start at byte %d, got %d", i, offset, p[0])
				}
				offset += len(p)
			}
		})
	}

	if _, err := SplitBytes([]byte("abc"), 0); err == nil {
		t.Error("Expected error for zero chunk size")
	}
}
