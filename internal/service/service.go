package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/voiceforgelabs/voiceforge-core/internal/bus"
	"github.com/voiceforgelabs/voiceforge-core/internal/config"
	"github.com/voiceforgelabs/voiceforge-core/internal/history"
	"github.com/voiceforgelabs/voiceforge-core/internal/pipeline"
	"github.com/voiceforgelabs/voiceforge-core/internal/protocol"
)

// Service exposes the generation pipeline over the message bus. Each request
// produces a stream of progress events, PCM chunks, and a final status.
type Service struct {
	cfg     config.BusConfig
	bus     *bus.Client
	orch    *pipeline.Orchestrator
	history *history.Store
	sub     *nats.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger
}

func NewService(parent context.Context, cfg config.BusConfig, busClient *bus.Client, orch *pipeline.Orchestrator, hist *history.Store, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:     cfg,
		bus:     busClient,
		orch:    orch,
		history: hist,
		ctx:     ctx,
		cancel:  cancel,
		logger:  log.With(slog.String("component", "tts-service")),
	}
}

// audioStream buffers published PCM chunks in JetStream so consumers that
// attach late, or reconnect, can still replay a request's audio.
const audioStream = "VOICEFORGE_AUDIO"

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	if err := s.bus.EnsureStream(&nats.StreamConfig{
		Name:     audioStream,
		Subjects: []string{protocol.SubjectAudio},
		MaxAge:   time.Hour,
	}); err != nil {
		return err
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectGenerateRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || s.sub != nil }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.GenerateRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode generate request", slogError(err))
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(req)
	}()
}

func (s *Service) run(req protocol.GenerateRequest) {
	started := time.Now()

	result, err := s.orch.Generate(s.ctx, pipeline.Request{
		ID:          req.RequestID,
		VoiceName:   req.Voice,
		Text:        req.Text,
		SpeedFactor: req.Speed,
	}, func(p pipeline.Progress) {
		s.publishProgress(req, p)
	})

	status := protocol.GenerationStatus{
		RequestID:    req.RequestID,
		Target:       req.Target,
		Completed:    err == nil,
		SegmentCount: result.SegmentCount,
		ElapsedMS:    time.Since(started).Milliseconds(),
		Timestamp:    time.Now().UTC(),
	}
	runState := string(pipeline.StateDone)
	if err != nil {
		s.logger.Warn("generation failed", slog.String("request_id", req.RequestID), slogError(err))
		status.Error = err.Error()
		runState = string(pipeline.StateFailed)
	} else {
		s.publishAudio(req, result)
	}

	data, merr := json.Marshal(status)
	if merr != nil {
		s.logger.Warn("failed to marshal generation status", slogError(merr))
	} else if perr := s.bus.Conn().Publish(protocol.SubjectDone, data); perr != nil {
		s.logger.Warn("failed to publish generation status", slogError(perr))
	}

	run := history.Run{
		RequestID:    req.RequestID,
		Voice:        req.Voice,
		State:        runState,
		SegmentCount: result.SegmentCount,
		SampleRate:   result.SampleRate,
		DurationMS:   status.ElapsedMS,
	}
	if err != nil {
		run.Error = err.Error()
	}
	if herr := s.history.RecordRun(s.ctx, run); herr != nil {
		s.logger.Warn("failed to record generation run", slogError(herr))
	}
}

func (s *Service) publishProgress(req protocol.GenerateRequest, p pipeline.Progress) {
	event := protocol.ProgressEvent{
		RequestID:         p.RequestID,
		Voice:             req.Voice,
		State:             string(p.State),
		CompletedSegments: p.CompletedSegments,
		TotalSegments:     p.TotalSegments,
		Timestamp:         time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("failed to marshal progress event", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectProgress, data); err != nil {
		s.logger.Warn("failed to publish progress event", slogError(err))
	}
}

// publishAudio slices the waveform into fixed-duration chunks of 16-bit LE
// mono PCM. The last chunk carries the Final flag even when empty.
func (s *Service) publishAudio(req protocol.GenerateRequest, result pipeline.Result) {
	chunkSamples := result.SampleRate * s.cfg.ChunkDurationMS / 1000
	if chunkSamples <= 0 {
		chunkSamples = result.SampleRate / 2
	}

	sequence := 0
	for offset := 0; ; offset += chunkSamples {
		end := offset + chunkSamples
		if end > len(result.Samples) {
			end = len(result.Samples)
		}
		final := end == len(result.Samples)
		chunk := protocol.AudioChunk{
			RequestID:  req.RequestID,
			Target:     req.Target,
			Sequence:   sequence,
			SampleRate: result.SampleRate,
			Channels:   1,
			PCM:        encodePCM16(result.Samples[offset:end]),
			Final:      final,
		}
		sequence++

		data, err := json.Marshal(chunk)
		if err != nil {
			s.logger.Warn("failed to marshal audio chunk", slogError(err))
			return
		}
		if _, err := s.bus.JetStream().Publish(protocol.SubjectAudio, data); err != nil {
			s.logger.Warn("failed to publish audio chunk", slogError(err))
			return
		}
		if final {
			return
		}
	}
}

func encodePCM16(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, sample := range samples {
		v := int16(math.Round(math.Max(-1, math.Min(1, sample)) * 32767))
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
