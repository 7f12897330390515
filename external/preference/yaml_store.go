package preference

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/foxseedlab/kikitori/internal/transcription"
	"gopkg.in/yaml.v3"
)

type document struct {
	Engine string `yaml:"engine"`
}

// YAMLStore keeps the engine preference in a small YAML file so a restart
// picks up the last choice.
type YAMLStore struct {
	mu     sync.RWMutex
	path   string
	engine transcription.EngineKind
}

// NewYAMLStore loads path if it exists. A missing or unreadable file falls
// back to fallback.
func NewYAMLStore(path string, fallback transcription.EngineKind) *YAMLStore {
	s := &YAMLStore{path: path, engine: fallback}
	raw, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to read engine preference", "path", path, "error", err)
		}
		return s
	}
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		slog.Warn("failed to parse engine preference", "path", path, "error", err)
		return s
	}
	kind, err := transcription.ParseEngineKind(doc.Engine)
	if err != nil {
		slog.Warn("ignoring stored engine preference", "path", path, "error", err)
		return s
	}
	s.engine = kind
	return s
}

func (s *YAMLStore) Engine() transcription.EngineKind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

func (s *YAMLStore) SetEngine(kind transcription.EngineKind) error {
	raw, err := yaml.Marshal(document{Engine: string(kind)})
	if err != nil {
		return fmt.Errorf("failed to encode engine preference: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create preference directory: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write engine preference: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace engine preference: %w", err)
	}
	s.engine = kind
	return nil
}
