package audio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// WAVHeader represents a canonical 44-byte WAV file header
type WAVHeader struct {
	// RIFF chunk descriptor
	ChunkID   [4]byte // "RIFF"
	ChunkSize uint32  // 4 + (8 + SubChunk1Size) + (8 + SubChunk2Size)
	Format    [4]byte // "WAVE"

	// "fmt " sub-chunk
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // 1 for mono, 2 for stereo
	SampleRate    uint32  // 8000, 44100, etc.
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample/8
	BlockAlign    uint16  // NumChannels * BitsPerSample/8
	BitsPerSample uint16  // 8, 16, etc.

	// "data" sub-chunk
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // NumSamples * NumChannels * BitsPerSample/8
}

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE
	// streamed WAVs (ffmpeg to a pipe) leave the data size at its maximum
	unknownDataSize = 0xFFFFFFFF
)

// createWAVHeader creates a 16-bit PCM WAV header for dataSize bytes of samples
func createWAVHeader(sampleRate, channels int, dataSize uint32) []byte {
	bitsPerSample := uint16(16)

	byteRate := uint32(sampleRate * channels * int(bitsPerSample/8))
	blockAlign := uint16(channels * int(bitsPerSample/8))

	header := WAVHeader{
		ChunkID:   [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize: 36 + dataSize,
		Format:    [4]byte{'W', 'A', 'V', 'E'},

		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   wavFormatPCM,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      byteRate,
		BlockAlign:    blockAlign,
		BitsPerSample: bitsPerSample,

		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	headerBytes := make([]byte, 44)

	copy(headerBytes[0:4], header.ChunkID[:])
	binary.LittleEndian.PutUint32(headerBytes[4:8], header.ChunkSize)
	copy(headerBytes[8:12], header.Format[:])

	copy(headerBytes[12:16], header.Subchunk1ID[:])
	binary.LittleEndian.PutUint32(headerBytes[16:20], header.Subchunk1Size)
	binary.LittleEndian.PutUint16(headerBytes[20:22], header.AudioFormat)
	binary.LittleEndian.PutUint16(headerBytes[22:24], header.NumChannels)
	binary.LittleEndian.PutUint32(headerBytes[24:28], header.SampleRate)
	binary.LittleEndian.PutUint32(headerBytes[28:32], header.ByteRate)
	binary.LittleEndian.PutUint16(headerBytes[32:34], header.BlockAlign)
	binary.LittleEndian.PutUint16(headerBytes[34:36], header.BitsPerSample)

	copy(headerBytes[36:40], header.Subchunk2ID[:])
	binary.LittleEndian.PutUint32(headerBytes[40:44], header.Subchunk2Size)

	return headerBytes
}

// EncodeWAV writes interleaved samples as a 16-bit PCM WAV file
func EncodeWAV(w io.Writer, samples []float32, sampleRate, channels int) error {
	if sampleRate <= 0 || channels <= 0 {
		return fmt.Errorf("invalid wav layout: %d Hz, %d channels", sampleRate, channels)
	}
	dataSize := uint32(len(samples) * 2)

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(createWAVHeader(sampleRate, channels, dataSize)); err != nil {
		return fmt.Errorf("failed to write wav header: %w", err)
	}

	var b [2]byte
	for _, s := range samples {
		binary.LittleEndian.PutUint16(b[:], uint16(floatToPCM16(s)))
		if _, err := bw.Write(b[:]); err != nil {
			return fmt.Errorf("failed to write wav data: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush wav data: %w", err)
	}
	return nil
}

// PCMData is the decoded content of a WAV file
type PCMData struct {
	Samples    []float32
	SampleRate int
	Channels   int
	Encoding   string
}

// DecodeWAV parses a RIFF/WAVE stream. Header problems wrap ErrUnsupportedFormat, read
// errors wrap ErrIOFailure.
func DecodeWAV(r io.Reader) (*PCMData, error) {
	br := bufio.NewReader(r)

	var riff [12]byte
	if _, err := io.ReadFull(br, riff[:]); err != nil {
		return nil, fmt.Errorf("%w: missing RIFF header", ErrUnsupportedFormat)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: not a RIFF/WAVE stream", ErrUnsupportedFormat)
	}

	var (
		haveFmt       bool
		audioFormat   uint16
		channels      int
		sampleRate    int
		bitsPerSample int
	)

	for {
		var chunk [8]byte
		if _, err := io.ReadFull(br, chunk[:]); err != nil {
			return nil, fmt.Errorf("%w: no data chunk", ErrUnsupportedFormat)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("%w: short fmt chunk", ErrUnsupportedFormat)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(br, body); err != nil {
				return nil, fmt.Errorf("%w: failed to read fmt chunk: %v", ErrIOFailure, err)
			}
			audioFormat = binary.LittleEndian.Uint16(body[0:2])
			channels = int(binary.LittleEndian.Uint16(body[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
			if audioFormat == wavFormatExtensible && size >= 26 {
				audioFormat = binary.LittleEndian.Uint16(body[24:26])
			}
			if size%2 == 1 {
				_, _ = br.Discard(1)
			}
			haveFmt = true

		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("%w: data chunk before fmt chunk", ErrUnsupportedFormat)
			}
			encoding, err := wavEncoding(audioFormat, bitsPerSample)
			if err != nil {
				return nil, err
			}
			if channels <= 0 || sampleRate <= 0 {
				return nil, fmt.Errorf("%w: invalid layout %d Hz, %d channels", ErrUnsupportedFormat, sampleRate, channels)
			}

			var data io.Reader = br
			if size != unknownDataSize {
				data = io.LimitReader(br, int64(size))
			}
			raw, err := io.ReadAll(data)
			if err != nil {
				return nil, fmt.Errorf("%w: failed to read wav data: %v", ErrIOFailure, err)
			}

			return &PCMData{
				Samples:    decodeSamples(raw, encoding, channels),
				SampleRate: sampleRate,
				Channels:   channels,
				Encoding:   encoding,
			}, nil

		default:
			skip := int(size) + int(size%2)
			if _, err := br.Discard(skip); err != nil {
				return nil, fmt.Errorf("%w: truncated %q chunk", ErrUnsupportedFormat, id)
			}
		}
	}
}

func wavEncoding(audioFormat uint16, bits int) (string, error) {
	switch {
	case audioFormat == wavFormatPCM && bits == 8:
		return EncodingPCM8, nil
	case audioFormat == wavFormatPCM && bits == 16:
		return EncodingPCM16, nil
	case audioFormat == wavFormatPCM && bits == 24:
		return EncodingPCM24, nil
	case audioFormat == wavFormatPCM && bits == 32:
		return EncodingPCM32, nil
	case audioFormat == wavFormatFloat && bits == 32:
		return EncodingFloat32, nil
	default:
		return "", fmt.Errorf("%w: wav format %d with %d bits", ErrUnsupportedFormat, audioFormat, bits)
	}
}

func bytesPerSample(encoding string) int {
	switch encoding {
	case EncodingPCM8:
		return 1
	case EncodingPCM16:
		return 2
	case EncodingPCM24:
		return 3
	default:
		return 4
	}
}

// decodeSamples converts raw little-endian sample bytes to floats, dropping any
// trailing partial frame.
func decodeSamples(raw []byte, encoding string, channels int) []float32 {
	width := bytesPerSample(encoding)
	frameBytes := width * channels
	usable := len(raw) - len(raw)%frameBytes
	out := make([]float32, 0, usable/width)

	for i := 0; i < usable; i += width {
		var v float32
		switch encoding {
		case EncodingPCM8:
			v = (float32(raw[i]) - 128) / 128
		case EncodingPCM16:
			v = float32(int16(binary.LittleEndian.Uint16(raw[i:]))) / 32768
		case EncodingPCM24:
			x := int32(raw[i]) | int32(raw[i+1])<<8 | int32(raw[i+2])<<16
			if x&0x800000 != 0 {
				x |= ^0xFFFFFF
			}
			v = float32(x) / 8388608
		case EncodingPCM32:
			v = float32(float64(int32(binary.LittleEndian.Uint32(raw[i:]))) / 2147483648)
		case EncodingFloat32:
			v = math.Float32frombits(binary.LittleEndian.Uint32(raw[i:]))
		}
		out = append(out, v)
	}
	return out
}

// DecodePCM16 converts little-endian signed 16-bit samples to floats
func DecodePCM16(raw []byte) []float32 {
	return decodeSamples(raw, EncodingPCM16, 1)
}

func floatToPCM16(s float32) int16 {
	v := float64(s) * 32768
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(math.Round(v))
	}
}

// quantizePCM16 rounds samples to the values a 16-bit encoding can represent
func quantizePCM16(samples []float32) {
	for i, s := range samples {
		samples[i] = float32(floatToPCM16(s)) / 32768
	}
}
