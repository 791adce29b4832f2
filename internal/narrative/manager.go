package narrative

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/user/narrative-engine/config"
	"github.com/user/narrative-engine/internal/interfaces"
	"github.com/user/narrative-engine/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Engine handles narrative state and operations for all characters
type Engine struct {
	registry   *Registry
	store      *Store
	resolver   *Resolver
	dispatcher *Dispatcher
	events     interfaces.EventSink
	config     config.Config
	Logger     *zap.Logger
	now        func() time.Time

	raidMu sync.Mutex
	raids  map[string][]string

	flushMu  sync.Mutex
	flushing map[string]*semaphore.Weighted
}

// Ensure Engine satisfies the interfaces.NarrativeEngine interface
var _ interfaces.NarrativeEngine = (*Engine)(nil)

// NewEngine creates a new engine over loaded content. repo may be nil for
// in-memory operation.
func NewEngine(cfg config.Config, registry *Registry, repo interfaces.SessionRepository) *Engine {
	store := NewStore(repo, cfg.Narrative.DefaultSanity)
	store.SetValidator(NewCoherenceValidator(registry))

	return &Engine{
		registry: registry,
		store:    store,
		resolver: NewResolver(registry),
		events:   nopSink{},
		config:   cfg,
		Logger:   zap.NewNop(), // Will be set by the server
		now:      time.Now,
		raids:    make(map[string][]string),
		flushing: make(map[string]*semaphore.Weighted),
	}
}

// SetLogger sets the logger for the engine and its components
func (e *Engine) SetLogger(logger *zap.Logger) {
	e.Logger = logger
	e.store.SetLogger(logger.Named("store"))
	e.resolver.Logger = logger.Named("resolver")
	if e.dispatcher != nil {
		e.dispatcher.SetLogger(logger.Named("delivery"))
	}
}

// SetDispatcher enables downstream delivery of staged deltas
func (e *Engine) SetDispatcher(d *Dispatcher) {
	e.dispatcher = d
	d.SetLogger(e.Logger.Named("delivery"))
}

// SetEventSink sets where narrative events are published
func (e *Engine) SetEventSink(sink interfaces.EventSink) {
	if sink == nil {
		sink = nopSink{}
	}
	e.events = sink
}

// Store exposes the session store
func (e *Engine) Store() *Store {
	return e.store
}

// Registry exposes the loaded content
func (e *Engine) Registry() *Registry {
	return e.registry
}

// SyncPlayerState creates or refreshes a character's mirror of
// collaborator-owned values. Nil maps in external leave the mirror as is.
func (e *Engine) SyncPlayerState(ctx context.Context, characterID string, level int, external types.ExternalState) (*types.NarrativeSessionState, error) {
	if characterID == "" {
		return nil, newError(CodeInvalidArgument, "character id is required")
	}

	next, err := e.store.Upsert(ctx, characterID, func(draft *types.NarrativeSessionState) error {
		if level > 0 {
			draft.Level = level
		}
		ext := &draft.External
		if external.Reputation != nil {
			ext.Reputation = copyInts(external.Reputation)
		}
		if external.Inventory != nil {
			ext.Inventory = copyInts(external.Inventory)
		}
		if external.Skills != nil {
			ext.Skills = copyInts(external.Skills)
		}
		if external.Relationships != nil {
			ext.Relationships = copyInts(external.Relationships)
		}
		if external.FactionStanding != nil {
			ext.FactionStanding = copyInts(external.FactionStanding)
		}
		if external.WorldState != nil {
			ws := make(map[string]bool, len(external.WorldState))
			for k, v := range external.WorldState {
				ws[k] = v
			}
			ext.WorldState = ws
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.Logger.Debug("Synced player state",
		zap.String("character_id", characterID),
		zap.Int("level", next.Level),
		zap.Int64("version", next.Version))
	return next.Clone(), nil
}

// GetState returns a copy of a character's narrative state
func (e *Engine) GetState(ctx context.Context, characterID string) (*types.NarrativeSessionState, error) {
	state, err := e.store.Get(ctx, characterID)
	if err != nil {
		return nil, err
	}
	return state.Clone(), nil
}

// ResetNarrative destroys a character's narrative record. The character
// leaves every raid party first so the rest of the party stays playable.
func (e *Engine) ResetNarrative(ctx context.Context, characterID string) error {
	state, err := e.store.Get(ctx, characterID)
	if err != nil {
		return err
	}
	for _, raidID := range sortedKeys(state.Raids) {
		if err := e.leaveRaid(ctx, characterID, raidID); err != nil {
			return fmt.Errorf("failed to leave raid %s: %w", raidID, err)
		}
	}

	if err := e.store.Delete(ctx, characterID); err != nil {
		return err
	}
	e.Logger.Info("Narrative reset", zap.String("character_id", characterID))
	return nil
}

// queue stages the external deltas for downstream delivery. The local mirror
// must already reflect them. It returns the number of queued items.
func (e *Engine) queue(draft *types.NarrativeSessionState, sourceChoiceID string, deltas []types.StateDelta) int {
	queued := 0
	now := e.now()
	for _, d := range deltas {
		d.CharacterID = draft.CharacterID
		if !d.IsExternal() {
			continue
		}
		draft.Pending = append(draft.Pending, types.PendingConsequence{
			ID:             uuid.New().String(),
			CharacterID:    draft.CharacterID,
			SourceChoiceID: sourceChoiceID,
			Delta:          d,
			CreatedAt:      now,
		})
		queued++
	}
	return queued
}

// record appends an immutable history entry to the draft
func (e *Engine) record(draft *types.NarrativeSessionState, choice types.PlayerChoice) types.PlayerChoice {
	choice.ID = uuid.New().String()
	choice.CharacterID = draft.CharacterID
	choice.Timestamp = e.now()
	if choice.Consequences == nil {
		choice.Consequences = []types.StateDelta{}
	}
	for i := range choice.Consequences {
		choice.Consequences[i].CharacterID = draft.CharacterID
	}
	draft.Choices = append(draft.Choices, choice)
	return choice
}
