package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	MaxRotatedFiles = 20
	TraceDir        = "data/traversals"
)

// Entry describes a saved session on disk.
type Entry struct {
	ID      string    `json:"id"`
	Path    string    `json:"path"`
	SavedAt time.Time `json:"saved_at"`
}

// Store keeps saved traversal sessions in a directory and rotates old ones.
type Store struct {
	mu       sync.Mutex
	basePath string
	maxFiles int
}

// NewStore creates a store rooted at basePath.
// It ensures the directory exists.
func NewStore(basePath string, maxFiles int) (*Store, error) {
	if basePath == "" {
		basePath = TraceDir
	}
	if maxFiles <= 0 {
		maxFiles = MaxRotatedFiles
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	return &Store{basePath: basePath, maxFiles: maxFiles}, nil
}

// Dir returns the directory sessions are written to.
func (s *Store) Dir() string { return s.basePath }

// Save persists the recorder's session, rotating old files first so that
// at most maxFiles sessions remain.
func (s *Store) Save(r *Recorder) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.rotate(); err != nil {
		return "", fmt.Errorf("rotate traversals: %w", err)
	}

	filename := fmt.Sprintf("traversal_%s_%d.json", r.ID(), time.Now().UnixMilli())
	path := filepath.Join(s.basePath, filename)
	if err := r.SaveSessionFile(path); err != nil {
		return "", err
	}
	return path, nil
}

// List returns saved sessions, newest first.
func (s *Store) List() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries()
}

// Load reads the saved session with the given id.
func (s *Store) Load(id string) (*Session, error) {
	s.mu.Lock()
	entries, err := s.entries()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.ID != id {
			continue
		}
		raw, err := os.ReadFile(e.Path)
		if err != nil {
			return nil, err
		}
		var sess Session
		if err := json.Unmarshal(raw, &sess); err != nil {
			return nil, fmt.Errorf("decode session %s: %w", id, err)
		}
		return &sess, nil
	}
	return nil, fmt.Errorf("traversal session not found: %s", id)
}

func (s *Store) entries() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, e := range dirEntries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" || !strings.HasPrefix(e.Name(), "traversal_") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{
			ID:      sessionIDFromName(e.Name()),
			Path:    filepath.Join(s.basePath, e.Name()),
			SavedAt: info.ModTime(),
		})
	}

	// Sort newest first
	sort.Slice(out, func(i, j int) bool {
		return out[i].SavedAt.After(out[j].SavedAt)
	})
	return out, nil
}

// rotate keeps only the newest maxFiles-1 sessions to make room for the next one.
func (s *Store) rotate() error {
	entries, err := s.entries()
	if err != nil {
		return err
	}
	if len(entries) < s.maxFiles {
		return nil
	}
	for _, e := range entries[s.maxFiles-1:] {
		_ = os.Remove(e.Path)
	}
	return nil
}

// sessionIDFromName extracts <id> from traversal_<id>_<unixms>.json.
func sessionIDFromName(name string) string {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(name, "traversal_"), ".json")
	if i := strings.LastIndex(trimmed, "_"); i > 0 {
		return trimmed[:i]
	}
	return trimmed
}
