package narrative

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/user/narrative-engine/internal/interfaces"
	"github.com/user/narrative-engine/internal/types"
)

// FileSessionRepository persists one JSON document per character in a directory
type FileSessionRepository struct {
	dir       string
	stateLock sync.RWMutex
}

var _ interfaces.SessionRepository = (*FileSessionRepository)(nil)

// NewFileSessionRepository creates a file repository rooted at dir
func NewFileSessionRepository(dir string) (*FileSessionRepository, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	return &FileSessionRepository{dir: dir}, nil
}

// character IDs are opaque, so file names carry them encoded
func (r *FileSessionRepository) path(characterID string) string {
	return filepath.Join(r.dir, base64.RawURLEncoding.EncodeToString([]byte(characterID))+".json")
}

// Save writes the state to disk, replacing any previous version
func (r *FileSessionRepository) Save(ctx context.Context, state *types.NarrativeSessionState) error {
	r.stateLock.Lock()
	defer r.stateLock.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal narrative state: %w", err)
	}

	// write then rename so readers never see a torn file
	target := r.path(state.CharacterID)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write narrative state: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("failed to write narrative state: %w", err)
	}
	return nil
}

// Load reads a character's state from disk
func (r *FileSessionRepository) Load(ctx context.Context, characterID string) (*types.NarrativeSessionState, error) {
	r.stateLock.RLock()
	defer r.stateLock.RUnlock()

	data, err := os.ReadFile(r.path(characterID))
	if os.IsNotExist(err) {
		return nil, ErrRecordMissing
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read narrative state file: %w", err)
	}

	var state types.NarrativeSessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse narrative state: %w", err)
	}

	// Ensure all maps are initialized
	state.Normalize()
	return &state, nil
}

// Delete removes a character's file
func (r *FileSessionRepository) Delete(ctx context.Context, characterID string) error {
	r.stateLock.Lock()
	defer r.stateLock.Unlock()

	err := os.Remove(r.path(characterID))
	if os.IsNotExist(err) {
		return ErrRecordMissing
	}
	return err
}

// List returns every stored character ID
func (r *FileSessionRepository) List(ctx context.Context) ([]string, error) {
	r.stateLock.RLock()
	defer r.stateLock.RUnlock()

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read narrative directory: %w", err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		ids = append(ids, string(raw))
	}
	sort.Strings(ids)
	return ids, nil
}
