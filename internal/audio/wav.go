/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

var (
	ErrInvalidWAV        = errors.New("invalid wav data")
	ErrUnsupportedFormat = errors.New("unsupported wav format")
)

const (
	formatPCM        = 1
	formatIEEEFloat  = 3
	formatExtensible = 0xFFFE
)

// Clip is mono audio in the [-1, 1] range
type Clip struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the clip length in seconds
func (c *Clip) Duration() float64 {
	if c == nil || c.SampleRate <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

type wavFormat struct {
	audioFormat   uint16
	channels      int
	sampleRate    int
	bitsPerSample int
}

// ReadWAVFile decodes the WAV file at path
func ReadWAVFile(path string) (*Clip, error) {
	f, err := os.Open(path) // #nosec G304 - caller supplied audio path
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return DecodeWAV(f)
}

// DecodeWAV decodes 16-bit PCM or 32-bit float WAV data into a mono clip.
// Multi-channel input is averaged down to one channel.
func DecodeWAV(r io.Reader) (*Clip, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read wav: %w", err)
	}
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	var (
		format  *wavFormat
		payload []byte
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8
		// Streamed writers leave the size at 0xFFFFFFFF
		if size < 0 || off+size > len(data) {
			size = len(data) - off
		}
		body := data[off : off+size]

		switch id {
		case "fmt ":
			if format, err = parseFormat(body); err != nil {
				return nil, err
			}
		case "data":
			payload = body
		}

		off += size + size%2
	}

	if format == nil {
		return nil, fmt.Errorf("%w: missing fmt chunk", ErrInvalidWAV)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
	}

	var interleaved []float32
	switch {
	case format.audioFormat == formatPCM && format.bitsPerSample == 16:
		interleaved = int16ToFloat32(bytesToInt16(payload))
	case format.audioFormat == formatIEEEFloat && format.bitsPerSample == 32:
		interleaved = bytesToFloat32(payload)
	default:
		return nil, fmt.Errorf("%w: format %d with %d bits per sample",
			ErrUnsupportedFormat, format.audioFormat, format.bitsPerSample)
	}

	return &Clip{
		Samples:    ToMono(interleaved, format.channels),
		SampleRate: format.sampleRate,
	}, nil
}

func parseFormat(body []byte) (*wavFormat, error) {
	if len(body) < 16 {
		return nil, fmt.Errorf("%w: fmt chunk too short", ErrInvalidWAV)
	}
	f := &wavFormat{
		audioFormat:   binary.LittleEndian.Uint16(body[0:2]),
		channels:      int(binary.LittleEndian.Uint16(body[2:4])),
		sampleRate:    int(binary.LittleEndian.Uint32(body[4:8])),
		bitsPerSample: int(binary.LittleEndian.Uint16(body[14:16])),
	}
	if f.audioFormat == formatExtensible {
		if len(body) < 26 {
			return nil, fmt.Errorf("%w: extensible fmt chunk too short", ErrInvalidWAV)
		}
		// First two bytes of the sub-format GUID carry the real format code
		f.audioFormat = binary.LittleEndian.Uint16(body[24:26])
	}
	if f.channels <= 0 {
		return nil, fmt.Errorf("%w: %d channels", ErrInvalidWAV, f.channels)
	}
	if f.sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrInvalidWAV, f.sampleRate)
	}
	return f, nil
}

// EncodeWAV writes mono samples as a 32-bit float WAV
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}

	dataSize := len(samples) * 4
	var buf bytes.Buffer
	buf.Grow(44 + dataSize)

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize)) // #nosec G115
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(formatIEEEFloat))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))   // #nosec G115
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*4)) // #nosec G115
	_ = binary.Write(&buf, binary.LittleEndian, uint16(4))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(32))

	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(dataSize)) // #nosec G115
	_ = binary.Write(&buf, binary.LittleEndian, samples)

	return buf.Bytes(), nil
}

// bytesToInt16 converts little-endian PCM bytes to int16 samples
func bytesToInt16(buf []byte) []int16 {
	samples := make([]int16, len(buf)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*2:])) // #nosec G115 - reinterpreting PCM bits
	}
	return samples
}

func bytesToFloat32(buf []byte) []float32 {
	samples := make([]float32, len(buf)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return samples
}

// int16ToFloat32 scales int16 samples to [-1, 1)
func int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// float32ToInt16 scales [-1, 1] samples to int16, clipping out-of-range values
func float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := float64(s) * 32767.0
		switch {
		case v > math.MaxInt16:
			v = math.MaxInt16
		case v < math.MinInt16:
			v = math.MinInt16
		}
		out[i] = int16(math.Round(v))
	}
	return out
}
