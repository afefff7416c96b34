package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/voiceforgelabs/voiceforge-core/internal/audio"
	"github.com/voiceforgelabs/voiceforge-core/internal/backend"
	"github.com/voiceforgelabs/voiceforge-core/internal/chunker"
	"github.com/voiceforgelabs/voiceforge-core/internal/config"
	"github.com/voiceforgelabs/voiceforge-core/internal/voicestore"
)

// Orchestrator owns the end-to-end generation call: load voice, chunk text,
// synthesize each segment in order, assemble, return. Segments within one
// request are strictly sequential; the backend holds exclusive model state.
// Independent requests may run concurrently, the orchestrator itself keeps
// no per-request state.
type Orchestrator struct {
	store   *voicestore.Store
	backend backend.Backend
	cfg     config.GenerationConfig
	log     *slog.Logger
	tracer  trace.Tracer

	segmentCounter metric.Int64Counter
	failureCounter metric.Int64Counter
	elapsedHist    metric.Float64Histogram
}

func New(store *voicestore.Store, be backend.Backend, cfg config.GenerationConfig, log *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		store:   store,
		backend: be,
		cfg:     cfg,
		log:     log.With(slog.String("component", "pipeline")),
		tracer:  otel.Tracer("github.com/voiceforgelabs/voiceforge-core/pipeline"),
	}
	o.initMetrics()
	return o
}

func (o *Orchestrator) initMetrics() {
	meter := otel.Meter("github.com/voiceforgelabs/voiceforge-core/pipeline")
	var err error
	if o.segmentCounter, err = meter.Int64Counter("voiceforge.segments.synthesized",
		metric.WithDescription("Segments synthesized across all requests")); err != nil {
		o.log.Warn("failed to initialize segment counter", slogError(err))
	}
	if o.failureCounter, err = meter.Int64Counter("voiceforge.generations.failed",
		metric.WithDescription("Generation requests that ended in failure")); err != nil {
		o.log.Warn("failed to initialize failure counter", slogError(err))
	}
	if o.elapsedHist, err = meter.Float64Histogram("voiceforge.generation.seconds",
		metric.WithDescription("Wall time of completed generation requests")); err != nil {
		o.log.Warn("failed to initialize duration histogram", slogError(err))
	}
}

// Generate runs one request through the pipeline. Cancellation is honored
// between segments, never mid-segment; a cancelled or failed run returns no
// partial audio.
func (o *Orchestrator) Generate(ctx context.Context, req Request, observe Observer) (Result, error) {
	start := time.Now()
	if observe == nil {
		observe = func(Progress) {}
	}

	ctx, span := o.tracer.Start(ctx, "pipeline.generate",
		trace.WithAttributes(
			attribute.String("voice", req.VoiceName),
			attribute.Int("text_chars", len(req.Text)),
		))
	defer span.End()

	speed := req.SpeedFactor
	if speed == 0 {
		speed = o.cfg.DefaultSpeed
	}
	if speed < o.cfg.MinSpeed || speed > o.cfg.MaxSpeed {
		return o.fail(req, observe, 0, 0, fmt.Errorf("%w: %g not in [%g, %g]", ErrInvalidSpeed, speed, o.cfg.MinSpeed, o.cfg.MaxSpeed))
	}

	observe(Progress{RequestID: req.ID, State: StatePending})

	observe(Progress{RequestID: req.ID, State: StateLoadingVoice})
	profile, err := o.store.Load(req.VoiceName)
	if err != nil {
		return o.fail(req, observe, 0, 0, err)
	}

	observe(Progress{RequestID: req.ID, State: StateChunking})
	segments := chunker.Split(req.Text, o.cfg.MaxSegmentChars).Collect()
	total := len(segments)
	if total == 0 {
		// Empty input is success with empty output, not an error.
		observe(Progress{RequestID: req.ID, State: StateDone})
		return Result{SampleRate: profile.SampleRate, Elapsed: time.Since(start)}, nil
	}

	waveforms := make([]audio.Segment, 0, total)
	for i, seg := range segments {
		if err := ctx.Err(); err != nil {
			return o.fail(req, observe, i, total, fmt.Errorf("generation cancelled before segment %d: %w", i, err))
		}
		samples, rate, err := o.synthesizeSegment(ctx, seg, profile)
		if err != nil {
			if ctx.Err() != nil {
				// Caller cancellation, not a backend failure.
				return o.fail(req, observe, i, total, fmt.Errorf("generation cancelled during segment %d: %w", i, ctx.Err()))
			}
			return o.fail(req, observe, i, total, &SegmentError{Index: seg.Index, Cause: err})
		}
		waveforms = append(waveforms, audio.Segment{Index: seg.Index, Samples: samples, SampleRate: rate})
		if o.segmentCounter != nil {
			o.segmentCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("voice", req.VoiceName)))
		}
		observe(Progress{RequestID: req.ID, State: StateSynthesizing, CompletedSegments: i + 1, TotalSegments: total})
	}

	observe(Progress{RequestID: req.ID, State: StateAssembling, CompletedSegments: total, TotalSegments: total})
	padding := time.Duration(o.cfg.SilencePaddingMS) * time.Millisecond
	assembled, err := audio.Assemble(waveforms, padding, speed)
	if err != nil {
		return o.fail(req, observe, total, total, err)
	}

	elapsed := time.Since(start)
	if o.elapsedHist != nil {
		o.elapsedHist.Record(ctx, elapsed.Seconds())
	}
	o.log.Info("generation complete",
		slog.String("request_id", req.ID),
		slog.String("voice", req.VoiceName),
		slog.Int("segments", total),
		slog.Duration("elapsed", elapsed))
	observe(Progress{RequestID: req.ID, State: StateDone, CompletedSegments: total, TotalSegments: total})

	return Result{
		Samples:      assembled.Samples,
		SampleRate:   assembled.SampleRate,
		SegmentCount: total,
		Elapsed:      elapsed,
	}, nil
}

// synthesizeSegment calls the backend with a bounded wait and retries once
// with identical inputs. A second failure escalates to the caller.
func (o *Orchestrator) synthesizeSegment(ctx context.Context, seg chunker.Segment, profile voicestore.Profile) ([]float64, int, error) {
	timeout := time.Duration(o.cfg.SegmentTimeoutMS) * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		samples, rate, err := o.backend.Generate(attemptCtx, seg.Text, profile.Codes)
		cancel()
		if err == nil {
			return samples, rate, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			// The request itself was cancelled, not the attempt.
			return nil, 0, ctx.Err()
		}
		if attempt == 0 {
			o.log.Warn("segment synthesis failed, retrying",
				slog.Int("segment", seg.Index),
				slogError(err))
		}
	}
	return nil, 0, lastErr
}

func (o *Orchestrator) fail(req Request, observe Observer, completed, total int, cause error) (Result, error) {
	if o.failureCounter != nil {
		o.failureCounter.Add(context.Background(), 1)
	}
	o.log.Warn("generation failed",
		slog.String("request_id", req.ID),
		slog.String("voice", req.VoiceName),
		slogError(cause))
	observe(Progress{RequestID: req.ID, State: StateFailed, CompletedSegments: completed, TotalSegments: total})
	return Result{}, cause
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
