package protocol

import "time"

// GenerateRequest asks the TTS service to synthesize text with a cloned voice.
type GenerateRequest struct {
	RequestID string  `json:"request_id"`
	Voice     string  `json:"voice"`
	Text      string  `json:"text"`
	Speed     float64 `json:"speed,omitempty"`
	Target    string  `json:"target,omitempty"`
}

// ProgressEvent reports pipeline progress for an in-flight request.
type ProgressEvent struct {
	RequestID         string    `json:"request_id"`
	Voice             string    `json:"voice"`
	State             string    `json:"state"`
	CompletedSegments int       `json:"completed_segments"`
	TotalSegments     int       `json:"total_segments"`
	Timestamp         time.Time `json:"timestamp"`
}

// AudioChunk carries a slice of the final PCM waveform.
type AudioChunk struct {
	RequestID  string `json:"request_id"`
	Target     string `json:"target,omitempty"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// GenerationStatus is published once a request finishes or fails.
type GenerationStatus struct {
	RequestID    string    `json:"request_id"`
	Target       string    `json:"target,omitempty"`
	Completed    bool      `json:"completed"`
	Error        string    `json:"error,omitempty"`
	SegmentCount int       `json:"segment_count"`
	ElapsedMS    int64     `json:"elapsed_ms"`
	Timestamp    time.Time `json:"timestamp"`
}

const (
	SubjectGenerateRequest = "voiceforge.tts.request"
	SubjectProgress        = "voiceforge.tts.progress"
	SubjectAudio           = "voiceforge.tts.audio"
	SubjectDone            = "voiceforge.tts.done"
)
