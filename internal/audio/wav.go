package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	wavHeaderSize = 44
	pcmFormat     = 1
)

// wavHeader is the canonical 44-byte header written by EncodeWAV.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// WAVInfo describes a parsed WAV payload.
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	AudioFormat   uint16  `json:"audio_format"`
	Duration      float64 `json:"duration_seconds"`
	DataOffset    int     `json:"data_offset"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`
}

// EncodeWAV encodes mono PCM-16 samples into a WAV file.
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	dataSize := uint32(len(samples) * 2)
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   pcmFormat,
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * 2,
		BlockAlign:    2,
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(samples)*2))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}
	return buf.Bytes(), nil
}

// GetWAVInfo walks the RIFF chunk list and returns the format and the
// location of the data chunk. Extra chunks (LIST, fact, ...) are skipped,
// so files written by browsers and ffmpeg parse as well as our own.
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("WAV data too short: need at least 12 bytes, got %d", len(data))
	}
	if string(data[0:4]) != "RIFF" {
		return nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	}
	if string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	info := &WAVInfo{}
	haveFmt := false
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return nil, fmt.Errorf("invalid WAV file: truncated fmt chunk")
			}
			info.AudioFormat = binary.LittleEndian.Uint16(data[body : body+2])
			info.Channels = binary.LittleEndian.Uint16(data[body+2 : body+4])
			info.SampleRate = binary.LittleEndian.Uint32(data[body+4 : body+8])
			info.BitsPerSample = binary.LittleEndian.Uint16(data[body+14 : body+16])
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("invalid WAV file: data chunk before fmt chunk")
			}
			if body+size > len(data) {
				// streaming writers leave the size unset; trust the bytes we have
				size = len(data) - body
			}
			info.DataOffset = body
			info.DataSize = uint32(size)
			if info.SampleRate == 0 || info.Channels == 0 || info.BitsPerSample == 0 {
				return nil, fmt.Errorf("invalid WAV file: zero sample rate, channels or bit depth")
			}
			frameSize := uint32(info.Channels) * uint32(info.BitsPerSample) / 8
			if frameSize == 0 {
				return nil, fmt.Errorf("invalid WAV file: frame size is zero")
			}
			info.NumSamples = info.DataSize / frameSize
			info.Duration = float64(info.NumSamples) / float64(info.SampleRate)
			return info, nil
		}

		// chunks are word aligned
		offset = body + size + size%2
	}

	if !haveFmt {
		return nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	return nil, fmt.Errorf("invalid WAV file: missing data chunk")
}

// ValidateWAV reports whether data is a WAV file we can parse.
func ValidateWAV(data []byte) error {
	_, err := GetWAVInfo(data)
	return err
}

// IsWAV is a cheap check on the RIFF/WAVE magic only.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// GetWAVDuration returns the duration of a WAV file in seconds.
func GetWAVDuration(data []byte) (float64, error) {
	info, err := GetWAVInfo(data)
	if err != nil {
		return 0, err
	}
	return info.Duration, nil
}

// DecodeWAV decodes a mono 16-bit PCM WAV file into samples.
func DecodeWAV(data []byte) ([]int16, int, error) {
	info, err := GetWAVInfo(data)
	if err != nil {
		return nil, 0, err
	}
	if info.AudioFormat != pcmFormat {
		return nil, 0, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", info.AudioFormat)
	}
	if info.BitsPerSample != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", info.BitsPerSample)
	}
	if info.Channels != 1 {
		return nil, 0, fmt.Errorf("unsupported channel count: %d (only mono is supported)", info.Channels)
	}
	if info.NumSamples == 0 {
		return nil, 0, fmt.Errorf("no audio data found")
	}

	samples := make([]int16, info.NumSamples)
	pcm := data[info.DataOffset : info.DataOffset+int(info.NumSamples)*2]
	if err := binary.Read(bytes.NewReader(pcm), binary.LittleEndian, samples); err != nil {
		return nil, 0, fmt.Errorf("failed to read audio samples: %w", err)
	}
	return samples, int(info.SampleRate), nil
}

// SplitWAV cuts a mono 16-bit WAV file into standalone WAV files of at most
// segment seconds each. The returned durations match the segments.
func SplitWAV(data []byte, segment float64) ([][]byte, []float64, error) {
	if segment <= 0 {
		return nil, nil, fmt.Errorf("segment length must be positive, got %f", segment)
	}

	samples, sampleRate, err := DecodeWAV(data)
	if err != nil {
		return nil, nil, err
	}

	per := int(segment * float64(sampleRate))
	if per <= 0 {
		per = 1
	}

	var parts [][]byte
	var durations []float64
	for start := 0; start < len(samples); start += per {
		end := start + per
		if end > len(samples) {
			end = len(samples)
		}
		part, err := EncodeWAV(samples[start:end], sampleRate)
		if err != nil {
			return nil, nil, fmt.Errorf("encode segment at sample %d: %w", start, err)
		}
		parts = append(parts, part)
		durations = append(durations, float64(end-start)/float64(sampleRate))
	}
	return parts, durations, nil
}

// SplitBytes cuts a payload of unknown format into pieces of at most size
// bytes. Used for containers that cannot be split on sample boundaries.
func SplitBytes(data []byte, size int) ([][]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}

	var parts [][]byte
	for start := 0; start < len(data); start += size {
		end := min(start+size, len(data))
		parts = append(parts, data[start:end:end])
	}
	return parts, nil
}
