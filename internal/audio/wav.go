package audio

import (
	"bytes"
	"fmt"
	"io"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// DecodeWAV reads a mono 16-bit WAV stream into normalized samples.
func DecodeWAV(r io.ReadSeeker) ([]float64, int, error) {
	dec := wav.NewDecoder(r)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 {
		return nil, 0, fmt.Errorf("decode wav: missing format")
	}
	if buf.Format.NumChannels != 1 {
		return nil, 0, fmt.Errorf("decode wav: expected mono audio, got %d channels", buf.Format.NumChannels)
	}
	scale := 32768.0
	if buf.SourceBitDepth > 0 {
		scale = float64(int(1) << (buf.SourceBitDepth - 1))
	}
	samples := make([]float64, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float64(v) / scale
	}
	return samples, buf.Format.SampleRate, nil
}

// EncodeWAV renders normalized samples as a mono 16-bit WAV file.
func EncodeWAV(samples []float64, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("encode wav: invalid sample rate %d", sampleRate)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		SourceBitDepth: 16,
		Data:           make([]int, len(samples)),
	}
	for i, s := range samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		buf.Data[i] = int(math.Round(s * 32767.0))
	}

	var out writeSeekBuffer
	enc := wav.NewEncoder(&out, sampleRate, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}
	return out.Bytes(), nil
}

// writeSeekBuffer adapts an in-memory buffer to io.WriteSeeker for the wav
// encoder, which rewinds to patch chunk sizes on Close.
type writeSeekBuffer struct {
	buf []byte
	pos int
}

func (w *writeSeekBuffer) Write(p []byte) (int, error) {
	if w.pos+len(p) > len(w.buf) {
		grown := make([]byte, w.pos+len(p))
		copy(grown, w.buf)
		w.buf = grown
	}
	copy(w.buf[w.pos:], p)
	w.pos += len(p)
	return len(p), nil
}

func (w *writeSeekBuffer) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = int64(w.pos) + offset
	case io.SeekEnd:
		pos = int64(len(w.buf)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if pos < 0 {
		return 0, fmt.Errorf("negative seek position %d", pos)
	}
	w.pos = int(pos)
	return pos, nil
}

func (w *writeSeekBuffer) Bytes() []byte { return w.buf }

// NewWAVReader wraps raw WAV bytes for decoding.
func NewWAVReader(data []byte) io.ReadSeeker { return bytes.NewReader(data) }
