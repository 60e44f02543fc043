package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
)

const (
	wavChannels      = 1
	wavBitsPerSample = 16
)

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container so
// platform players can consume synthesized speech directly.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	dataSize := uint32(len(pcm))
	byteRate := uint32(sampleRate * wavChannels * wavBitsPerSample / 8)
	blockAlign := uint16(wavChannels * wavBitsPerSample / 8)

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	buf.WriteString("RIFF")
	writeLE(&buf, uint32(36+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	writeLE(&buf, uint32(16))
	writeLE(&buf, uint16(1)) // PCM
	writeLE(&buf, uint16(wavChannels))
	writeLE(&buf, uint32(sampleRate))
	writeLE(&buf, byteRate)
	writeLE(&buf, blockAlign)
	writeLE(&buf, uint16(wavBitsPerSample))
	buf.WriteString("data")
	writeLE(&buf, dataSize)
	buf.Write(pcm)
	return buf.Bytes(), nil
}

// WriteTempWAV writes PCM16LE audio to a temporary WAV file and returns its
// path. The caller owns removal of the file once playback finishes.
func WriteTempWAV(pcm []byte, sampleRate int) (string, error) {
	data, err := EncodeWAVPCM16LE(pcm, sampleRate)
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp("", "keeva-playback-*.wav")
	if err != nil {
		return "", fmt.Errorf("create temp wav: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write temp wav: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("close temp wav: %w", err)
	}
	return f.Name(), nil
}

func writeLE(buf *bytes.Buffer, v any) {
	_ = binary.Write(buf, binary.LittleEndian, v)
}
