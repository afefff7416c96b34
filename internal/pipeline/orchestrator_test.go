package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/voiceforgelabs/voiceforge-core/internal/backend"
	"github.com/voiceforgelabs/voiceforge-core/internal/chunker"
	"github.com/voiceforgelabs/voiceforge-core/internal/config"
	"github.com/voiceforgelabs/voiceforge-core/internal/voicestore"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// flakyBackend wraps the mock backend and fails Generate a configured number
// of times per segment text before succeeding.
type flakyBackend struct {
	backend.Backend
	mu       sync.Mutex
	failures map[string]int
	calls    int
}

func (f *flakyBackend) Generate(ctx context.Context, text string, refCodes []byte) ([]float64, int, error) {
	f.mu.Lock()
	f.calls++
	remaining := f.failures[text]
	if remaining > 0 {
		f.failures[text] = remaining - 1
		f.mu.Unlock()
		return nil, 0, errors.New("backend overloaded")
	}
	f.mu.Unlock()
	return f.Backend.Generate(ctx, text, refCodes)
}

func testCfg() config.GenerationConfig {
	return config.Default().Generation
}

func newFixture(t *testing.T, be backend.Backend) (*Orchestrator, *voicestore.Store) {
	t.Helper()
	store, err := voicestore.New(t.TempDir(), be, newLogger())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	samples := make([]float64, 5*22050)
	if _, err := store.Clone(context.Background(), "narrator", samples, 22050, "Testing one two three"); err != nil {
		t.Fatalf("clone: %v", err)
	}
	return New(store, be, testCfg(), newLogger()), store
}

func TestGenerateSingleSegment(t *testing.T) {
	be := backend.NewMockBackend(24000)
	orch, _ := newFixture(t, be)

	res, err := orch.Generate(context.Background(), Request{ID: "r1", VoiceName: "narrator", Text: "Hello world.", SpeedFactor: 1.0}, nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.SegmentCount != 1 {
		t.Fatalf("expected 1 segment, got %d", res.SegmentCount)
	}
	if len(res.Samples) == 0 {
		t.Fatal("expected non-empty waveform")
	}
	// Single segment: output is exactly the backend waveform, no padding.
	direct, _, _ := be.Generate(context.Background(), "Hello world.", mustCodes(t, be))
	if len(res.Samples) != len(direct) {
		t.Fatalf("expected no padding for single segment: got %d, want %d", len(res.Samples), len(direct))
	}
}

func mustCodes(t *testing.T, be backend.Backend) []byte {
	t.Helper()
	codes, err := be.EncodeReference(context.Background(), make([]float64, 5*22050), 22050, "Testing one two three")
	if err != nil {
		t.Fatalf("encode reference: %v", err)
	}
	return codes
}

func TestGenerateMultiSegmentPadding(t *testing.T) {
	be := backend.NewMockBackend(24000)
	orch, _ := newFixture(t, be)
	cfg := testCfg()

	text := "First sentence about nothing in particular, padded with words. Second sentence about nothing in particular, padded with words. Third sentence about nothing in particular, padded with words."

	res, err := orch.Generate(context.Background(), Request{ID: "r2", VoiceName: "narrator", Text: text, SpeedFactor: 1.0}, nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.SegmentCount < 2 {
		t.Fatalf("expected multiple segments, got %d", res.SegmentCount)
	}

	codes := mustCodes(t, be)
	perSegment := 0
	for _, seg := range splitForTest(text, cfg.MaxSegmentChars) {
		samples, _, err := be.Generate(context.Background(), seg, codes)
		if err != nil {
			t.Fatalf("direct generate: %v", err)
		}
		perSegment += len(samples)
	}
	pad := 24000 * cfg.SilencePaddingMS / 1000
	want := perSegment + pad*(res.SegmentCount-1)
	if len(res.Samples) != want {
		t.Fatalf("expected %d samples (%d paddings), got %d", want, res.SegmentCount-1, len(res.Samples))
	}
}

func splitForTest(text string, maxChars int) []string {
	var out []string
	for _, seg := range chunker.Split(text, maxChars).Collect() {
		out = append(out, seg.Text)
	}
	return out
}

func TestGenerateEmptyText(t *testing.T) {
	orch, _ := newFixture(t, backend.NewMockBackend(24000))
	res, err := orch.Generate(context.Background(), Request{ID: "r3", VoiceName: "narrator", Text: "   "}, nil)
	if err != nil {
		t.Fatalf("expected success with empty output, got %v", err)
	}
	if res.SegmentCount != 0 || len(res.Samples) != 0 {
		t.Fatalf("expected zero-length result, got %d segments, %d samples", res.SegmentCount, len(res.Samples))
	}
}

func TestGenerateVoiceNotFound(t *testing.T) {
	orch, _ := newFixture(t, backend.NewMockBackend(24000))
	_, err := orch.Generate(context.Background(), Request{ID: "r4", VoiceName: "ghost", Text: "Hello."}, nil)
	if !errors.Is(err, voicestore.ErrVoiceNotFound) {
		t.Fatalf("expected voice not found, got %v", err)
	}
}

func TestGenerateAfterDeleteFails(t *testing.T) {
	orch, store := newFixture(t, backend.NewMockBackend(24000))
	if err := store.Delete("narrator"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err := orch.Generate(context.Background(), Request{ID: "r5", VoiceName: "narrator", Text: "Hello."}, nil)
	if !errors.Is(err, voicestore.ErrVoiceNotFound) {
		t.Fatalf("expected voice not found after delete, got %v", err)
	}
}

func TestGenerateRetriesOnceThenSucceeds(t *testing.T) {
	flaky := &flakyBackend{
		Backend:  backend.NewMockBackend(24000),
		failures: map[string]int{"Hello world.": 1},
	}
	orch, _ := newFixture(t, flaky)

	res, err := orch.Generate(context.Background(), Request{ID: "r6", VoiceName: "narrator", Text: "Hello world."}, nil)
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if res.SegmentCount != 1 {
		t.Fatalf("expected 1 segment, got %d", res.SegmentCount)
	}
	if flaky.calls != 2 {
		t.Fatalf("expected exactly 2 backend calls (1 failure + 1 retry), got %d", flaky.calls)
	}
}

func TestGenerateAbortsAfterSecondFailure(t *testing.T) {
	flaky := &flakyBackend{
		Backend:  backend.NewMockBackend(24000),
		failures: map[string]int{"Hello world.": 2},
	}
	orch, _ := newFixture(t, flaky)

	_, err := orch.Generate(context.Background(), Request{ID: "r7", VoiceName: "narrator", Text: "Hello world."}, nil)
	var segErr *SegmentError
	if !errors.As(err, &segErr) {
		t.Fatalf("expected segment error, got %v", err)
	}
	if segErr.Index != 0 {
		t.Fatalf("expected failing index 0, got %d", segErr.Index)
	}
}

func TestGenerateInvalidSpeed(t *testing.T) {
	orch, _ := newFixture(t, backend.NewMockBackend(24000))
	for _, speed := range []float64{0.1, 3.0, -1.0} {
		_, err := orch.Generate(context.Background(), Request{ID: "r8", VoiceName: "narrator", Text: "Hello.", SpeedFactor: speed}, nil)
		if !errors.Is(err, ErrInvalidSpeed) {
			t.Fatalf("expected invalid speed for %g, got %v", speed, err)
		}
	}
}

func TestGenerateSpeedHalvesDuration(t *testing.T) {
	orch, _ := newFixture(t, backend.NewMockBackend(24000))
	text := "A reasonably long sentence used to measure output duration."

	normal, err := orch.Generate(context.Background(), Request{ID: "r9", VoiceName: "narrator", Text: text, SpeedFactor: 1.0}, nil)
	if err != nil {
		t.Fatalf("generate at 1.0: %v", err)
	}
	fast, err := orch.Generate(context.Background(), Request{ID: "r10", VoiceName: "narrator", Text: text, SpeedFactor: 2.0}, nil)
	if err != nil {
		t.Fatalf("generate at 2.0: %v", err)
	}
	ratio := float64(len(fast.Samples)) / float64(len(normal.Samples))
	if ratio < 0.49 || ratio > 0.51 {
		t.Fatalf("expected ~half duration at speed 2.0, got ratio %f", ratio)
	}
}

func TestGenerateProgressObserved(t *testing.T) {
	orch, _ := newFixture(t, backend.NewMockBackend(24000))

	var mu sync.Mutex
	var updates []Progress
	observe := func(p Progress) {
		mu.Lock()
		updates = append(updates, p)
		mu.Unlock()
	}

	if _, err := orch.Generate(context.Background(), Request{ID: "r11", VoiceName: "narrator", Text: "One. Two. Three."}, observe); err != nil {
		t.Fatalf("generate: %v", err)
	}

	var states []State
	completed := 0
	for _, u := range updates {
		states = append(states, u.State)
		if u.State == StateSynthesizing && u.CompletedSegments > completed {
			completed = u.CompletedSegments
		}
	}
	if states[0] != StatePending || states[len(states)-1] != StateDone {
		t.Fatalf("unexpected state sequence: %v", states)
	}
	if completed == 0 {
		t.Fatal("expected per-segment progress updates")
	}
	last := updates[len(updates)-1]
	if last.CompletedSegments != last.TotalSegments {
		t.Fatalf("expected all segments completed, got %d/%d", last.CompletedSegments, last.TotalSegments)
	}
}

func TestGenerateCancelledBetweenSegments(t *testing.T) {
	orch, _ := newFixture(t, backend.NewMockBackend(24000))
	ctx, cancel := context.WithCancel(context.Background())

	cancelled := false
	observe := func(p Progress) {
		if p.State == StateSynthesizing && p.CompletedSegments == 1 && !cancelled {
			cancelled = true
			cancel()
		}
	}

	text := "First sentence about nothing in particular, padded with words. Second sentence about nothing in particular, padded with words. Third sentence about nothing in particular, padded with words."
	res, err := orch.Generate(ctx, Request{ID: "r12", VoiceName: "narrator", Text: text}, observe)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled in chain, got %v", err)
	}
	if len(res.Samples) != 0 {
		t.Fatal("cancelled run must not return partial audio")
	}
}

func TestGenerateOutputGrowsWithInputText(t *testing.T) {
	be := backend.NewMockBackend(24000)
	orch, _ := newFixture(t, be)

	text := ""
	prev := -1
	for i := 0; i < 6; i++ {
		text += "The quick brown fox jumps over the lazy dog. "
		res, err := orch.Generate(context.Background(), Request{ID: "grow", VoiceName: "narrator", Text: text, SpeedFactor: 1.0}, nil)
		if err != nil {
			t.Fatalf("generate %d sentences: %v", i+1, err)
		}
		if len(res.Samples) < prev {
			t.Fatalf("output shrank with longer input: %d -> %d samples at %d sentences", prev, len(res.Samples), i+1)
		}
		prev = len(res.Samples)
	}
}

// cancellingBackend cancels the request context from inside Generate,
// simulating a caller that gives up while a segment is in flight.
type cancellingBackend struct {
	backend.Backend
	cancel context.CancelFunc
}

func (c *cancellingBackend) Generate(ctx context.Context, text string, refCodes []byte) ([]float64, int, error) {
	c.cancel()
	<-ctx.Done()
	return nil, 0, ctx.Err()
}

func TestGenerateMidSegmentCancelIsNotSegmentError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	be := &cancellingBackend{Backend: backend.NewMockBackend(24000), cancel: cancel}
	orch, _ := newFixture(t, be)

	_, err := orch.Generate(ctx, Request{ID: "r-cancel", VoiceName: "narrator", Text: "Hello world.", SpeedFactor: 1.0}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	var segErr *SegmentError
	if errors.As(err, &segErr) {
		t.Fatalf("cancellation must not be reported as a segment failure: %v", err)
	}
}
