package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/voiceforgelabs/voiceforge-core/internal/audio"
	"github.com/voiceforgelabs/voiceforge-core/internal/history"
	"github.com/voiceforgelabs/voiceforge-core/internal/pipeline"
	"github.com/voiceforgelabs/voiceforge-core/internal/voicestore"
)

// Server exposes voice management and generation over HTTP.
type Server struct {
	store   *voicestore.Store
	orch    *pipeline.Orchestrator
	history *history.Store
	logger  *slog.Logger
	mux     *http.ServeMux
}

func NewServer(store *voicestore.Store, orch *pipeline.Orchestrator, hist *history.Store, log *slog.Logger) *Server {
	s := &Server{
		store:   store,
		orch:    orch,
		history: hist,
		logger:  log.With(slog.String("component", "httpapi")),
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /v1/voices", s.handleCloneVoice)
	s.mux.HandleFunc("GET /v1/voices", s.handleListVoices)
	s.mux.HandleFunc("DELETE /v1/voices/{name}", s.handleDeleteVoice)
	s.mux.HandleFunc("POST /v1/generate", s.handleGenerate)
	s.mux.HandleFunc("GET /v1/history", s.handleHistory)
}

type cloneVoiceRequest struct {
	Name        string `json:"name"`
	RefText     string `json:"ref_text"`
	AudioBase64 string `json:"audio_base64"`
}

type voiceResponse struct {
	Name       string    `json:"name"`
	RefText    string    `json:"ref_text"`
	SampleRate int       `json:"sample_rate"`
	CreatedAt  time.Time `json:"created_at"`
}

type generateRequest struct {
	Voice  string  `json:"voice"`
	Text   string  `json:"text"`
	Speed  float64 `json:"speed,omitempty"`
	Format string  `json:"format,omitempty"` // wav (default) or json
}

type generateResponse struct {
	RequestID    string `json:"request_id"`
	AudioBase64  string `json:"audio_base64"`
	SampleRate   int    `json:"sample_rate"`
	SegmentCount int    `json:"segment_count"`
	ElapsedMS    int64  `json:"elapsed_ms"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleCloneVoice(w http.ResponseWriter, r *http.Request) {
	var body cloneVoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid json"))
		return
	}

	raw, err := base64.StdEncoding.DecodeString(body.AudioBase64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("audio_base64 is not valid base64"))
		return
	}
	samples, sampleRate, err := audio.DecodeWAV(audio.NewWAVReader(raw))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	profile, err := s.store.Clone(r.Context(), body.Name, samples, sampleRate, body.RefText)
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}

	s.writeJSON(w, http.StatusCreated, voiceResponse{
		Name:       profile.Name,
		RefText:    profile.RefText,
		SampleRate: profile.SampleRate,
		CreatedAt:  profile.CreatedAt,
	})
}

func (s *Server) handleListVoices(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.List()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"voices": names})
}

func (s *Server) handleDeleteVoice(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.PathValue("name")); err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var body generateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid json"))
		return
	}

	requestID := uuid.NewString()
	started := time.Now()
	result, err := s.orch.Generate(r.Context(), pipeline.Request{
		ID:          requestID,
		VoiceName:   body.Voice,
		Text:        body.Text,
		SpeedFactor: body.Speed,
	}, nil)

	s.recordRun(r.Context(), requestID, body.Voice, result, started, err)

	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}

	wavData, err := audio.EncodeWAV(result.Samples, result.SampleRate)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	if body.Format == "json" {
		s.writeJSON(w, http.StatusOK, generateResponse{
			RequestID:    requestID,
			AudioBase64:  base64.StdEncoding.EncodeToString(wavData),
			SampleRate:   result.SampleRate,
			SegmentCount: result.SegmentCount,
			ElapsedMS:    result.Elapsed.Milliseconds(),
		})
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(wavData); err != nil {
		s.logger.Warn("failed to write wav response", slog.String("error", err.Error()))
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	runs, err := s.history.ListRuns(r.Context(), r.URL.Query().Get("voice"), 100)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	s.writeJSON(w, http.StatusOK, map[string][]history.Run{"runs": runs})
}

func (s *Server) recordRun(ctx context.Context, requestID, voice string, result pipeline.Result, started time.Time, genErr error) {
	run := history.Run{
		RequestID:    requestID,
		Voice:        voice,
		State:        string(pipeline.StateDone),
		SegmentCount: result.SegmentCount,
		SampleRate:   result.SampleRate,
		DurationMS:   time.Since(started).Milliseconds(),
	}
	if genErr != nil {
		run.State = string(pipeline.StateFailed)
		run.Error = genErr.Error()
	}
	if err := s.history.RecordRun(ctx, run); err != nil {
		s.logger.Warn("failed to record generation run", slog.String("error", err.Error()))
	}
}

func statusForError(err error) int {
	var segErr *pipeline.SegmentError
	switch {
	case errors.Is(err, voicestore.ErrVoiceNotFound):
		return http.StatusNotFound
	case errors.Is(err, voicestore.ErrInvalidVoiceName),
		errors.Is(err, voicestore.ErrInvalidReferenceAudio),
		errors.Is(err, voicestore.ErrInvalidReferenceText),
		errors.Is(err, pipeline.ErrInvalidSpeed):
		return http.StatusBadRequest
	case errors.As(err, &segErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("failed to encode response", slog.String("error", err.Error()))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}
