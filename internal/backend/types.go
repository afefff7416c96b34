package backend

import "context"

// Backend is the contract for the external neural inference system. It is
// the only component that touches model weights; everything above it works
// with plain sample slices and opaque reference codes.
type Backend interface {
	// EncodeReference turns a mono reference recording plus its transcript
	// into opaque voice codes. Called once per voice clone.
	EncodeReference(ctx context.Context, samples []float64, sampleRate int, refText string) ([]byte, error)

	// Generate synthesizes one text segment with the given voice codes and
	// returns the waveform plus its native sample rate.
	Generate(ctx context.Context, text string, refCodes []byte) ([]float64, int, error)
}
