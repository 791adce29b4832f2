package narrative

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/narrative-engine/internal/interfaces"
	"github.com/user/narrative-engine/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrRecordMissing is returned by repositories that have no record for an ID
var ErrRecordMissing = errors.New("narrative record not found")

// Validator inspects a draft before it is committed
type Validator func(draft *types.NarrativeSessionState) error

// record is one character's slot in the store. The semaphore is the exclusive
// writer lock; readers load the committed pointer without locking.
type record struct {
	lock    *semaphore.Weighted
	state   atomic.Pointer[types.NarrativeSessionState]
	removed atomic.Bool
}

func newRecord(s *types.NarrativeSessionState) *record {
	r := &record{lock: semaphore.NewWeighted(1)}
	r.state.Store(s)
	return r
}

// Store is the arena of per-character narrative records
type Store struct {
	mu            sync.Mutex
	records       map[string]*record
	repo          interfaces.SessionRepository
	validate      Validator
	defaultSanity int
	Logger        *zap.Logger
}

// NewStore creates a store. repo may be nil for a purely in-memory store.
func NewStore(repo interfaces.SessionRepository, defaultSanity int) *Store {
	return &Store{
		records:       make(map[string]*record),
		repo:          repo,
		defaultSanity: defaultSanity,
		Logger:        zap.NewNop(),
	}
}

// SetValidator installs the check run on every draft before commit
func (s *Store) SetValidator(v Validator) {
	s.validate = v
}

// SetLogger sets the logger for the store
func (s *Store) SetLogger(logger *zap.Logger) {
	s.Logger = logger
}

// lookup finds the record for id, hydrating it from the repository if needed.
// With create set, a fresh record is made when none exists anywhere. The
// repository is read without holding the store mutex.
func (s *Store) lookup(ctx context.Context, id string, create bool) (*record, error) {
	s.mu.Lock()
	r, ok := s.records[id]
	s.mu.Unlock()
	if ok {
		return r, nil
	}

	var loaded *types.NarrativeSessionState
	if s.repo != nil {
		state, err := s.repo.Load(ctx, id)
		switch {
		case err == nil:
			state.Normalize()
			loaded = state
		case !errors.Is(err, ErrRecordMissing):
			return nil, fmt.Errorf("failed to load narrative state: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// another caller may have hydrated or created it meanwhile
	if r, ok := s.records[id]; ok {
		return r, nil
	}
	switch {
	case loaded != nil:
		r = newRecord(loaded)
	case create:
		r = newRecord(types.NewSessionState(id, s.defaultSanity))
	default:
		return nil, notFound("character", id)
	}
	s.records[id] = r
	return r, nil
}

// Get returns the committed state for a character. The returned value is
// shared and must not be modified.
func (s *Store) Get(ctx context.Context, id string) (*types.NarrativeSessionState, error) {
	r, err := s.lookup(ctx, id, false)
	if err != nil {
		return nil, err
	}
	return r.state.Load(), nil
}

// SnapshotContext returns the condition-evaluation view of a character
func (s *Store) SnapshotContext(ctx context.Context, id string) (types.PlayerContext, error) {
	state, err := s.Get(ctx, id)
	if err != nil {
		return types.PlayerContext{}, err
	}
	return state.Context(), nil
}

// Mutate runs fn on a private copy of the character's state and commits it
// only if fn, the validator and the repository all succeed.
func (s *Store) Mutate(ctx context.Context, id string, fn func(draft *types.NarrativeSessionState) error) (*types.NarrativeSessionState, error) {
	return s.mutate(ctx, id, false, fn)
}

// Upsert is Mutate that creates the record when it does not exist yet
func (s *Store) Upsert(ctx context.Context, id string, fn func(draft *types.NarrativeSessionState) error) (*types.NarrativeSessionState, error) {
	return s.mutate(ctx, id, true, fn)
}

func (s *Store) mutate(ctx context.Context, id string, create bool, fn func(draft *types.NarrativeSessionState) error) (*types.NarrativeSessionState, error) {
	states, err := s.mutateMany(ctx, []string{id}, create, func(drafts map[string]*types.NarrativeSessionState) error {
		return fn(drafts[id])
	})
	if err != nil {
		return nil, err
	}
	return states[id], nil
}

// MutateMany locks every listed character in sorted ID order and runs fn
// over their drafts. Either all drafts commit or none do.
func (s *Store) MutateMany(ctx context.Context, ids []string, fn func(drafts map[string]*types.NarrativeSessionState) error) (map[string]*types.NarrativeSessionState, error) {
	return s.mutateMany(ctx, ids, false, fn)
}

func (s *Store) mutateMany(ctx context.Context, ids []string, create bool, fn func(drafts map[string]*types.NarrativeSessionState) error) (map[string]*types.NarrativeSessionState, error) {
	order := sortedUnique(ids)
	if len(order) == 0 {
		return nil, newError(CodeInvalidArgument, "no character ids given")
	}

	records, release, err := s.acquire(ctx, order, create)
	if err != nil {
		return nil, err
	}
	defer release()

	prev := make(map[string]*types.NarrativeSessionState, len(order))
	drafts := make(map[string]*types.NarrativeSessionState, len(order))
	for i, id := range order {
		cur := records[i].state.Load()
		prev[id] = cur
		drafts[id] = cur.Clone()
	}

	if err := fn(drafts); err != nil {
		return nil, err
	}

	now := time.Now()
	for _, id := range order {
		d := drafts[id]
		if s.validate != nil {
			if err := s.validate(d); err != nil {
				s.Logger.Warn("Rejected narrative mutation",
					zap.String("character_id", id),
					zap.Error(err))
				return nil, err
			}
		}
		d.Version = prev[id].Version + 1
		d.UpdatedAt = now
	}

	if s.repo != nil {
		for i, id := range order {
			if err := s.repo.Save(ctx, drafts[id]); err != nil {
				// put back what was already written
				for _, done := range order[:i] {
					if rerr := s.repo.Save(ctx, prev[done]); rerr != nil {
						s.Logger.Error("Failed to restore narrative state",
							zap.String("character_id", done),
							zap.Error(rerr))
					}
				}
				return nil, fmt.Errorf("failed to save narrative state: %w", err)
			}
		}
	}

	for i, id := range order {
		records[i].state.Store(drafts[id])
	}
	return drafts, nil
}

// ViewMany returns a consistent cut of several characters' committed states
func (s *Store) ViewMany(ctx context.Context, ids []string) (map[string]*types.NarrativeSessionState, error) {
	order := sortedUnique(ids)
	records, release, err := s.acquire(ctx, order, false)
	if err != nil {
		return nil, err
	}
	defer release()

	out := make(map[string]*types.NarrativeSessionState, len(order))
	for i, id := range order {
		out[id] = records[i].state.Load()
	}
	return out, nil
}

// acquire takes the writer locks of the given (sorted) ids
func (s *Store) acquire(ctx context.Context, order []string, create bool) ([]*record, func(), error) {
	records := make([]*record, 0, len(order))
	release := func() {
		for i := len(records) - 1; i >= 0; i-- {
			records[i].lock.Release(1)
		}
	}

	for _, id := range order {
		r, err := s.lookup(ctx, id, create)
		if err != nil {
			release()
			return nil, nil, err
		}
		if err := r.lock.Acquire(ctx, 1); err != nil {
			release()
			return nil, nil, fmt.Errorf("failed to lock narrative record %s: %w", id, err)
		}
		if r.removed.Load() {
			r.lock.Release(1)
			release()
			return nil, nil, notFound("character", id)
		}
		records = append(records, r)
	}
	return records, release, nil
}

// Delete destroys a character's narrative record
func (s *Store) Delete(ctx context.Context, id string) error {
	r, err := s.lookup(ctx, id, false)
	if err != nil {
		return err
	}
	if err := r.lock.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("failed to lock narrative record %s: %w", id, err)
	}
	defer r.lock.Release(1)

	if s.repo != nil {
		if err := s.repo.Delete(ctx, id); err != nil && !errors.Is(err, ErrRecordMissing) {
			return fmt.Errorf("failed to delete narrative state: %w", err)
		}
	}

	r.removed.Store(true)
	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()
	return nil
}

// Preload hydrates every record the repository knows about
func (s *Store) Preload(ctx context.Context) (int, error) {
	if s.repo == nil {
		return 0, nil
	}
	ids, err := s.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list narrative states: %w", err)
	}
	for _, id := range ids {
		if _, err := s.lookup(ctx, id, false); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// IDs returns the IDs of all loaded records
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortedUnique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
