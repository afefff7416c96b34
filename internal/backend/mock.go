package backend

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"time"
)

const mockCodesMagic = "vfcodes1"

// mockBackend produces deterministic synthetic audio. Output duration grows
// with text length so pacing and assembly behavior can be tested without
// model weights.
type mockBackend struct {
	sampleRate     int
	samplesPerChar int
}

func NewMockBackend(sampleRate int) Backend {
	// 25ms of audio per character.
	return &mockBackend{sampleRate: sampleRate, samplesPerChar: sampleRate / 40}
}

func (m *mockBackend) EncodeReference(ctx context.Context, samples []float64, sampleRate int, refText string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Millisecond):
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("empty reference audio")
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(refText))

	codes := make([]byte, 0, len(mockCodesMagic)+20)
	codes = append(codes, mockCodesMagic...)
	codes = binary.LittleEndian.AppendUint32(codes, uint32(sampleRate))
	codes = binary.LittleEndian.AppendUint64(codes, uint64(len(samples)))
	codes = binary.LittleEndian.AppendUint64(codes, h.Sum64())
	return codes, nil
}

func (m *mockBackend) Generate(ctx context.Context, text string, refCodes []byte) ([]float64, int, error) {
	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case <-time.After(5 * time.Millisecond):
	}
	if len(refCodes) < len(mockCodesMagic) || string(refCodes[:len(mockCodesMagic)]) != mockCodesMagic {
		return nil, 0, fmt.Errorf("unrecognized reference codes")
	}

	n := len(text) * m.samplesPerChar
	if n == 0 {
		n = m.samplesPerChar
	}
	samples := make([]float64, n)
	freq := 220.0 + float64(refCodes[len(refCodes)-1])
	for i := range samples {
		samples[i] = 0.2 * math.Sin(2*math.Pi*freq*float64(i)/float64(m.sampleRate))
	}
	return samples, m.sampleRate, nil
}
