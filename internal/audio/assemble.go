package audio

import (
	"errors"
	"fmt"
	"math"
	"time"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Segment is a mono waveform produced for one text segment.
type Segment struct {
	Index      int
	Samples    []float64
	SampleRate int
}

// ErrSampleRateMismatch is returned when segment rates differ and cannot be
// reconciled by resampling.
var ErrSampleRateMismatch = errors.New("sample rate mismatch")

// Assemble concatenates segments in index order into one continuous waveform.
// Mixed sample rates are resampled up to the maximum rate observed before
// concatenation. A constant silence padding is inserted between consecutive
// segments; none before the first or after the last. The speed factor scales
// the time axis of the whole result (2.0 halves the duration), applied once
// over the concatenated waveform so relative timing stays consistent with the
// inserted padding. Trailing samples are never trimmed.
//
// Zero segments yield a zero-length result, not an error.
func Assemble(segments []Segment, padding time.Duration, speed float64) (Segment, error) {
	if len(segments) == 0 {
		return Segment{}, nil
	}

	maxRate := 0
	for _, seg := range segments {
		if seg.SampleRate <= 0 {
			return Segment{}, fmt.Errorf("%w: segment %d has rate %d", ErrSampleRateMismatch, seg.Index, seg.SampleRate)
		}
		if seg.SampleRate > maxRate {
			maxRate = seg.SampleRate
		}
	}

	total := 0
	resampled := make([][]float64, len(segments))
	for i, seg := range segments {
		samples := seg.Samples
		if seg.SampleRate != maxRate {
			var err error
			samples, err = Resample(samples, seg.SampleRate, maxRate)
			if err != nil {
				return Segment{}, fmt.Errorf("%w: segment %d: %v", ErrSampleRateMismatch, seg.Index, err)
			}
		}
		resampled[i] = samples
		total += len(samples)
	}

	silence := int(float64(maxRate) * padding.Seconds())
	if silence < 0 {
		silence = 0
	}
	total += silence * (len(segments) - 1)

	out := make([]float64, 0, total)
	for i, samples := range resampled {
		if i > 0 && silence > 0 {
			out = append(out, make([]float64, silence)...)
		}
		out = append(out, samples...)
	}

	if speed != 1.0 {
		out = ScaleSpeed(out, speed)
	}

	return Segment{Samples: out, SampleRate: maxRate}, nil
}

// Resample converts a mono waveform from one sample rate to another. The
// one-shot path flushes the filter tail so the output covers the whole input
// duration.
func Resample(samples []float64, from, to int) ([]float64, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("invalid rate %d -> %d", from, to)
	}
	if from == to || len(samples) == 0 {
		return samples, nil
	}
	out, err := resampling.ResampleMono(samples, float64(from), float64(to), resampling.QualityHigh)
	if err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}
	return out, nil
}

// ScaleSpeed compresses or stretches the time axis by picking sample indices
// evenly across the source, the same uniform scaling the speed control applies
// in playback terms: speed 2.0 halves the duration.
func ScaleSpeed(samples []float64, speed float64) []float64 {
	if speed == 1.0 || len(samples) == 0 {
		return samples
	}
	target := int(float64(len(samples)) / speed)
	if target <= 0 {
		return []float64{}
	}
	out := make([]float64, target)
	if target == 1 {
		out[0] = samples[0]
		return out
	}
	step := float64(len(samples)-1) / float64(target-1)
	for i := range out {
		idx := int(math.Round(float64(i) * step))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		out[i] = samples[idx]
	}
	return out
}

// Duration reports the playback time of a waveform at the given rate.
func Duration(samples []float64, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(samples)) / float64(sampleRate) * float64(time.Second))
}
