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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pcm16WAV builds a 16-bit PCM WAV from interleaved samples
func pcm16WAV(t *testing.T, samples []int16, channels, sampleRate int, extensible bool) []byte {
	t.Helper()

	fmtSize := 16
	if extensible {
		fmtSize = 40
	}
	dataSize := len(samples) * 2

	var buf bytes.Buffer
	w := func(v any) { require.NoError(t, binary.Write(&buf, binary.LittleEndian, v)) }

	buf.WriteString("RIFF")
	w(uint32(4 + 8 + fmtSize + 8 + dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	w(uint32(fmtSize))
	if extensible {
		w(uint16(formatExtensible))
	} else {
		w(uint16(formatPCM))
	}
	w(uint16(channels))
	w(uint32(sampleRate))
	w(uint32(sampleRate * channels * 2))
	w(uint16(channels * 2))
	w(uint16(16))
	if extensible {
		w(uint16(22))               // cbSize
		w(uint16(16))               // valid bits
		w(uint32(0))                // channel mask
		w(uint16(formatPCM))        // sub-format code
		buf.Write(make([]byte, 14)) // rest of the GUID
	}

	// An unrelated chunk with odd size exercises padding
	buf.WriteString("LIST")
	w(uint32(3))
	buf.Write([]byte{1, 2, 3, 0})

	buf.WriteString("data")
	w(uint32(dataSize))
	w(samples)

	return buf.Bytes()
}

func TestDecodeWAV_Float32RoundTrip(t *testing.T) {
	samples := []float32{0, 0.25, -0.5, 1, -1}

	data, err := EncodeWAV(samples, 22050)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Len(t, data, 44+len(samples)*4)

	clip, err := DecodeWAV(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 22050, clip.SampleRate)
	assert.Equal(t, samples, clip.Samples)
	assert.InDelta(t, 5.0/22050.0, clip.Duration(), 1e-12)
}

func TestDecodeWAV_PCM16(t *testing.T) {
	tests := []struct {
		name       string
		samples    []int16
		channels   int
		extensible bool
		expected   []float32
	}{
		{
			name:     "mono",
			samples:  []int16{0, 16384, -32768},
			channels: 1,
			expected: []float32{0, 0.5, -1},
		},
		{
			name:     "stereo is averaged",
			samples:  []int16{16384, 0, -16384, -16384},
			channels: 2,
			expected: []float32{0.25, -0.5},
		},
		{
			name:       "extensible header",
			samples:    []int16{8192, -8192},
			channels:   1,
			extensible: true,
			expected:   []float32{0.25, -0.25},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := pcm16WAV(t, tt.samples, tt.channels, 8000, tt.extensible)

			clip, err := DecodeWAV(bytes.NewReader(data))
			require.NoError(t, err)
			assert.Equal(t, 8000, clip.SampleRate)
			assert.Equal(t, tt.expected, clip.Samples)
		})
	}
}

func TestDecodeWAV_Errors(t *testing.T) {
	valid := pcm16WAV(t, []int16{1, 2}, 1, 16000, false)

	eightBit := bytes.Clone(valid)
	// bits per sample lives at offset 34 of a canonical header
	binary.LittleEndian.PutUint16(eightBit[34:36], 8)

	noData := bytes.Clone(valid[:36])

	tests := []struct {
		name     string
		data     []byte
		expected error
	}{
		{"empty", nil, ErrInvalidWAV},
		{"not riff", []byte("RIFX\x00\x00\x00\x00WAVEfmt "), ErrInvalidWAV},
		{"missing data chunk", noData, ErrInvalidWAV},
		{"unsupported bit depth", eightBit, ErrUnsupportedFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeWAV(bytes.NewReader(tt.data))
			assert.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestReadWAVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	data, err := EncodeWAV([]float32{0.1, 0.2}, 16000)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0600))

	clip, err := ReadWAVFile(path)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, clip.Samples)

	_, err = ReadWAVFile(filepath.Join(t.TempDir(), "missing.wav"))
	assert.Error(t, err)
}

func TestEncodeWAV_InvalidRate(t *testing.T) {
	_, err := EncodeWAV([]float32{0}, 0)
	assert.Error(t, err)
}

func TestFloat32ToInt16_Clips(t *testing.T) {
	assert.Equal(t, []int16{32767, -32768, 0, 16384}, float32ToInt16([]float32{2, -2, 0, 0.5}))
}
