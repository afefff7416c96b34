package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// State names the stage a generation request is in.
type State string

const (
	StatePending      State = "pending"
	StateLoadingVoice State = "loading_voice"
	StateChunking     State = "chunking"
	StateSynthesizing State = "synthesizing"
	StateAssembling   State = "assembling"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// Request is the unit of work submitted to the orchestrator.
type Request struct {
	ID          string
	VoiceName   string
	Text        string
	SpeedFactor float64
}

// Result carries the assembled waveform. Ownership transfers to the caller.
type Result struct {
	Samples      []float64
	SampleRate   int
	SegmentCount int
	Elapsed      time.Duration
}

// Progress is reported to the observer between suspension points: once per
// state change and after every completed segment.
type Progress struct {
	RequestID         string
	State             State
	CompletedSegments int
	TotalSegments     int
}

// Observer receives progress updates. Called synchronously from the
// generation goroutine; implementations must not block.
type Observer func(Progress)

// ErrInvalidSpeed marks a speed factor outside the configured bounds.
var ErrInvalidSpeed = errors.New("speed factor out of range")

// SegmentError reports which segment aborted the request after the retry
// was exhausted.
type SegmentError struct {
	Index int
	Cause error
}

func (e *SegmentError) Error() string {
	return fmt.Sprintf("segment %d synthesis failed: %v", e.Index, e.Cause)
}

func (e *SegmentError) Unwrap() error { return e.Cause }
