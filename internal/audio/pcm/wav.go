package pcm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// wavHeader is the canonical 44-byte RIFF header for 16-bit PCM.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// EncodeWAV writes buf as a 16-bit PCM WAV file.
func EncodeWAV(buf *Buffer) ([]byte, error) {
	if buf == nil || len(buf.Channels) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio buffer")
	}
	if buf.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", buf.SampleRate)
	}

	data, err := EncodeBuffer(buf)
	if err != nil {
		return nil, err
	}

	numChannels := uint16(len(buf.Channels))
	bitsPerSample := uint16(16)
	dataSize := uint32(len(data))

	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   numChannels,
		SampleRate:    uint32(buf.SampleRate),
		ByteRate:      uint32(buf.SampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	out := bytes.NewBuffer(make([]byte, 0, 44+len(data)))
	if err := binary.Write(out, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	out.Write(data)
	return out.Bytes(), nil
}

// DecodeWAV reads a 16-bit PCM WAV file. Chunks other than "fmt " and
// "data" are skipped.
func DecodeWAV(data []byte) (*Buffer, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("WAV data too short: got %d bytes", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, errors.New("invalid WAV format: missing RIFF/WAVE markers")
	}

	var (
		channels   int
		sampleRate int
		haveFormat bool
	)

	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if body+size > len(data) {
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("fmt chunk too short: %d bytes", size)
			}
			audioFormat := binary.LittleEndian.Uint16(data[body:])
			channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			bits := binary.LittleEndian.Uint16(data[body+14:])
			if audioFormat != 1 || bits != 16 || channels <= 0 {
				return nil, fmt.Errorf("unsupported WAV encoding: format=%d bits=%d", audioFormat, bits)
			}
			haveFormat = true
		case "data":
			if !haveFormat {
				return nil, errors.New("WAV data chunk precedes fmt chunk")
			}
			pcm := data[body : body+size]
			// 奇数长度的尾字节直接丢弃
			pcm = pcm[:len(pcm)-len(pcm)%(2*channels)]
			return DecodePCM16(pcm, sampleRate, channels)
		}

		offset = body + size + size%2
	}

	return nil, errors.New("WAV file has no data chunk")
}
