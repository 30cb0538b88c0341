package audio

import (
	"bytes"
	"fmt"
	"math"
)

// AudioChunker splits a raw PCM16 byte stream into fixed-duration sample chunks
type AudioChunker struct {
	sampleRate  int
	channels    int
	chunkSizeMs int
	buffer      *bytes.Buffer
	bytesPerMs  int
}

// NewAudioChunker creates a new audio chunker
func NewAudioChunker(sampleRate, channels, chunkSizeMs int) *AudioChunker {
	// For PCM16, each sample is 2 bytes (16 bits)
	bytesPerSample := 2
	bytesPerMs := (sampleRate * channels * bytesPerSample) / 1000

	return &AudioChunker{
		sampleRate:  sampleRate,
		channels:    channels,
		chunkSizeMs: chunkSizeMs,
		buffer:      bytes.NewBuffer(nil),
		bytesPerMs:  bytesPerMs,
	}
}

// ProcessChunk buffers data and returns every complete chunk as decoded samples
func (c *AudioChunker) ProcessChunk(data []byte) ([][]float32, error) {
	if _, err := c.buffer.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}

	chunkSizeBytes := c.chunkSizeMs * c.bytesPerMs
	if chunkSizeBytes <= 0 {
		chunkSizeBytes = 2 * c.channels
	}

	var chunks [][]float32
	for c.buffer.Len() >= chunkSizeBytes {
		chunk := make([]byte, chunkSizeBytes)
		n, err := c.buffer.Read(chunk)
		if err != nil {
			return nil, fmt.Errorf("failed to read from buffer: %w", err)
		}
		chunks = append(chunks, DecodePCM16(chunk[:n]))
	}

	return chunks, nil
}

// Flush returns whatever whole frames are left in the buffer
func (c *AudioChunker) Flush() []float32 {
	frame := 2 * c.channels
	usable := c.buffer.Len() - c.buffer.Len()%frame
	if usable <= 0 {
		c.buffer.Reset()
		return nil
	}
	out := DecodePCM16(c.buffer.Next(usable))
	c.buffer.Reset()
	return out
}

// Reset resets the buffer
func (c *AudioChunker) Reset() {
	c.buffer.Reset()
}

// RMS returns the root mean square level of samples
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
