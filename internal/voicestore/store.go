package voicestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/voiceforgelabs/voiceforge-core/internal/backend"
)

const (
	minRefRate     = 16000
	maxRefRate     = 44000
	minRefDuration = 3 * time.Second
	maxRefDuration = 15 * time.Second
)

var (
	ErrVoiceNotFound         = errors.New("voice not found")
	ErrInvalidVoiceName      = errors.New("invalid voice name")
	ErrInvalidReferenceAudio = errors.New("invalid reference audio")
	ErrInvalidReferenceText  = errors.New("invalid reference text")
)

var nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Profile is the persisted result of cloning a voice. Immutable once
// created; cloning the same name again replaces it atomically. Codes is the
// opaque reference encoding, stored base64-encoded alongside the metadata.
type Profile struct {
	Name       string    `json:"name"`
	RefText    string    `json:"ref_text"`
	SampleRate int       `json:"sample_rate"`
	CreatedAt  time.Time `json:"created_at"`
	Codes      []byte    `json:"codes"`
}

// Store persists voice profiles under a directory, one JSON file per voice
// carrying metadata and the reference encoding together. Reads are shared;
// clone and delete are mutually exclusive, and replacement is a single
// rename so a crash or an in-flight read never observes a profile whose
// metadata and codes disagree.
type Store struct {
	dir   string
	enc   backend.Backend
	log   *slog.Logger
	mu    sync.RWMutex
	clock func() time.Time
}

func New(dir string, enc backend.Backend, log *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create voices dir: %w", err)
	}
	return &Store{
		dir:   dir,
		enc:   enc,
		log:   log.With(slog.String("component", "voicestore")),
		clock: time.Now,
	}, nil
}

// Clone validates the reference recording, encodes it through the backend and
// persists the resulting profile. An existing profile of the same name is
// replaced atomically.
func (s *Store) Clone(ctx context.Context, name string, samples []float64, sampleRate int, refText string) (Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" || !nameRe.MatchString(name) {
		return Profile{}, fmt.Errorf("%w: %q", ErrInvalidVoiceName, name)
	}
	if strings.TrimSpace(refText) == "" {
		return Profile{}, fmt.Errorf("%w: reference text is empty", ErrInvalidReferenceText)
	}
	if sampleRate < minRefRate || sampleRate > maxRefRate {
		return Profile{}, fmt.Errorf("%w: sample rate %d outside [%d, %d]", ErrInvalidReferenceAudio, sampleRate, minRefRate, maxRefRate)
	}
	duration := time.Duration(float64(len(samples)) / float64(sampleRate) * float64(time.Second))
	if duration < minRefDuration || duration > maxRefDuration {
		return Profile{}, fmt.Errorf("%w: duration %s outside [%s, %s]", ErrInvalidReferenceAudio, duration.Round(time.Millisecond), minRefDuration, maxRefDuration)
	}

	codes, err := s.enc.EncodeReference(ctx, samples, sampleRate, refText)
	if err != nil {
		return Profile{}, fmt.Errorf("encode reference: %w", err)
	}

	profile := Profile{
		Name:       name,
		RefText:    strings.TrimSpace(refText),
		SampleRate: sampleRate,
		CreatedAt:  s.clock().UTC(),
		Codes:      codes,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persist(profile); err != nil {
		return Profile{}, err
	}
	s.log.Info("voice cloned",
		slog.String("voice", name),
		slog.Int("sample_rate", sampleRate),
		slog.Int("codes_bytes", len(codes)))
	return profile, nil
}

// persist writes the whole profile via temp file plus rename. The single
// rename is the commit point: a crash before it leaves the previous profile
// intact, and there is no window where metadata and codes mismatch.
func (s *Store) persist(p Profile) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	if err := replaceFile(s.metaPath(p.Name), data); err != nil {
		return fmt.Errorf("persist profile: %w", err)
	}
	return nil
}

func replaceFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Load reads a profile by name without scanning the directory.
func (s *Store) Load(name string) (Profile, error) {
	if !nameRe.MatchString(name) {
		return Profile{}, fmt.Errorf("%w: %q", ErrVoiceNotFound, name)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, err := os.ReadFile(s.metaPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return Profile{}, fmt.Errorf("%w: %q", ErrVoiceNotFound, name)
		}
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}
	var p Profile
	if err := json.Unmarshal(meta, &p); err != nil {
		return Profile{}, fmt.Errorf("parse profile %q: %w", name, err)
	}
	return p, nil
}

// List returns voice names ordered by creation time, oldest first.
func (s *Store) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read voices dir: %w", err)
	}

	type entry struct {
		name    string
		created time.Time
	}
	var voices []entry
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		meta, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var p Profile
		if err := json.Unmarshal(meta, &p); err != nil || p.Name == "" {
			s.log.Warn("skipping unreadable profile", slog.String("file", e.Name()))
			continue
		}
		voices = append(voices, entry{name: p.Name, created: p.CreatedAt})
	}
	sort.Slice(voices, func(i, j int) bool {
		if voices[i].created.Equal(voices[j].created) {
			return voices[i].name < voices[j].name
		}
		return voices[i].created.Before(voices[j].created)
	})

	names := make([]string, len(voices))
	for i, v := range voices {
		names[i] = v.name
	}
	return names, nil
}

// Delete removes a voice. Idempotent once removed.
func (s *Store) Delete(name string) error {
	if !nameRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrVoiceNotFound, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.metaPath(name)); os.IsNotExist(err) {
		return fmt.Errorf("%w: %q", ErrVoiceNotFound, name)
	}
	if err := os.Remove(s.metaPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete profile: %w", err)
	}
	s.log.Info("voice deleted", slog.String("voice", name))
	return nil
}

func (s *Store) metaPath(name string) string {
	return filepath.Join(s.dir, name+".json")
}
