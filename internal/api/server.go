package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/user/narrative-engine/internal/interfaces"
	"github.com/user/narrative-engine/internal/narrative"
	"github.com/user/narrative-engine/internal/types"
	"go.uber.org/zap"
)

// Server exposes the narrative engine over HTTP
type Server struct {
	engine  interfaces.NarrativeEngine
	hub     *Hub
	timeout time.Duration
	Logger  *zap.Logger
}

// NewServer creates a server. hub may be nil when no event stream is wanted.
func NewServer(engine interfaces.NarrativeEngine, hub *Hub, timeout time.Duration) *Server {
	return &Server{
		engine:  engine,
		hub:     hub,
		timeout: timeout,
		Logger:  zap.NewNop(),
	}
}

// Router builds the chi router for every engine operation
func (s *Server) Router() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	// websocket streams live outside the request timeout
	router.Get("/raids/{raidID}/events", s.handleRaidEvents)

	router.Group(func(r chi.Router) {
		if s.timeout > 0 {
			r.Use(middleware.Timeout(s.timeout))
		}

		r.Get("/quests/{questID}/graph", s.handleQuestGraph)

		r.Route("/characters/{characterID}", func(r chi.Router) {
			r.Post("/sync", s.handleSync)
			r.Get("/state", s.handleGetState)
			r.Delete("/", s.handleReset)

			r.Route("/quests/{questID}", func(r chi.Router) {
				r.Post("/start", s.handleStartQuest)
				r.Post("/abandon", s.handleAbandonQuest)
				r.Post("/choices", s.handleQuestChoice)
				r.Get("/branches", s.handleAvailableBranches)
				r.Post("/branches/{branchID}", s.handleActivateBranch)
				r.Get("/endings", s.handleAvailableEndings)
				r.Get("/objectives", s.handleObjectives)
				r.Get("/connections", s.handleConnections)
				r.Get("/coherence", s.handleCoherence)
			})

			r.Post("/dialogues/{treeID}/start", s.handleStartDialogue)
			r.Post("/dialogues/{treeID}/choices", s.handleDialogueChoice)

			r.Get("/consequences", s.handlePending)
			r.Post("/consequences/flush", s.handleFlush)

			r.Post("/sanity", s.handleAdjustSanity)
			r.Post("/anomalies", s.handleAnomaly)
		})

		r.Post("/raids", s.handleStartRaid)
		r.Route("/raids/{raidID}", func(r chi.Router) {
			r.Post("/advance", s.handleAdvanceRaid)
			r.Post("/blackwall/advance", s.handleAdvanceBlackwall)
			r.Get("/sanity", s.handlePartySanity)
			r.Post("/sanity/shock", s.handleSanityShock)
		})
	})

	return router
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// decodeOptional accepts an empty body
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	return decode(w, r, v)
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, v any, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, status, v)
}

// Characters

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if !decode(w, r, &req) {
		return
	}
	st, err := contextFromJSON(req.Context)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	external, err := ExternalFromStruct(st)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	state, err := s.engine.SyncPlayerState(r.Context(), characterParam(r), req.Level, external)
	s.respond(w, r, http.StatusOK, state, err)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	state, err := s.engine.GetState(r.Context(), characterParam(r))
	s.respond(w, r, http.StatusOK, state, err)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ResetNarrative(r.Context(), characterParam(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Quests

func (s *Server) handleStartQuest(w http.ResponseWriter, r *http.Request) {
	inst, err := s.engine.StartQuest(r.Context(), characterParam(r), chi.URLParam(r, "questID"))
	s.respond(w, r, http.StatusCreated, inst, err)
}

func (s *Server) handleAbandonQuest(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.AbandonQuest(r.Context(), characterParam(r), chi.URLParam(r, "questID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type choiceRequest struct {
	ChoiceID string `json:"choice_id"`
}

func (s *Server) handleQuestChoice(w http.ResponseWriter, r *http.Request) {
	var req choiceRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.engine.MakeQuestChoice(r.Context(), characterParam(r), chi.URLParam(r, "questID"), req.ChoiceID)
	s.respond(w, r, http.StatusOK, res, err)
}

func (s *Server) handleActivateBranch(w http.ResponseWriter, r *http.Request) {
	var req choiceRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	res, err := s.engine.ActivateQuestBranch(r.Context(), characterParam(r),
		chi.URLParam(r, "questID"), chi.URLParam(r, "branchID"), req.ChoiceID)
	s.respond(w, r, http.StatusOK, res, err)
}

func (s *Server) handleAvailableBranches(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.GetAvailableBranches(r.Context(), characterParam(r), chi.URLParam(r, "questID"))
	s.respond(w, r, http.StatusOK, res, err)
}

func (s *Server) handleAvailableEndings(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.GetAvailableEndings(r.Context(), characterParam(r), chi.URLParam(r, "questID"))
	s.respond(w, r, http.StatusOK, res, err)
}

func (s *Server) handleObjectives(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.GetObjectives(r.Context(), characterParam(r), chi.URLParam(r, "questID"))
	s.respond(w, r, http.StatusOK, res, err)
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.GetBranchConnections(r.Context(), characterParam(r), chi.URLParam(r, "questID"))
	s.respond(w, r, http.StatusOK, res, err)
}

func (s *Server) handleCoherence(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.ValidateBranchCoherence(r.Context(), characterParam(r), chi.URLParam(r, "questID"))
	s.respond(w, r, http.StatusOK, res, err)
}

func (s *Server) handleQuestGraph(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.GetQuestGraph(r.Context(), chi.URLParam(r, "questID"))
	s.respond(w, r, http.StatusOK, res, err)
}

// Dialogues

func (s *Server) handleStartDialogue(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.StartDialogue(r.Context(), characterParam(r), chi.URLParam(r, "treeID"))
	s.respond(w, r, http.StatusOK, view, err)
}

func (s *Server) handleDialogueChoice(w http.ResponseWriter, r *http.Request) {
	var req types.DialogueRequest
	if !decode(w, r, &req) {
		return
	}
	req.CharacterID = characterParam(r)
	req.TreeID = chi.URLParam(r, "treeID")
	res, err := s.engine.ExecuteDialogueNode(r.Context(), req)
	s.respond(w, r, http.StatusOK, res, err)
}

// Consequences

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.GetPendingConsequences(r.Context(), characterParam(r))
	s.respond(w, r, http.StatusOK, res, err)
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.FlushConsequences(r.Context(), characterParam(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if len(report.Deferred) > 0 {
		status = http.StatusAccepted
	}
	writeJSON(w, status, report)
}

// Sanity and anomalies

type sanityRequest struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

func (s *Server) handleAdjustSanity(w http.ResponseWriter, r *http.Request) {
	var req sanityRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.engine.AdjustSanity(r.Context(), characterParam(r), req.Delta, req.Reason)
	s.respond(w, r, http.StatusOK, res, err)
}

func (s *Server) handleAnomaly(w http.ResponseWriter, r *http.Request) {
	var req types.AnomalyRequest
	if !decode(w, r, &req) {
		return
	}
	req.CharacterID = characterParam(r)
	res, err := s.engine.HandleRealityAnomaly(r.Context(), req)
	s.respond(w, r, http.StatusOK, res, err)
}

// Raids

func (s *Server) handleStartRaid(w http.ResponseWriter, r *http.Request) {
	var spec types.RaidSpec
	if !decode(w, r, &spec) {
		return
	}
	spec.Leader = NormalizeCharacterID(spec.Leader)
	for i, m := range spec.Members {
		spec.Members[i] = NormalizeCharacterID(m)
	}
	if err := s.engine.StartRaid(r.Context(), spec); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, spec)
}

func (s *Server) advanceRequest(w http.ResponseWriter, r *http.Request) (types.PhaseAdvanceRequest, bool) {
	var req types.PhaseAdvanceRequest
	if !decode(w, r, &req) {
		return req, false
	}
	req.RaidID = chi.URLParam(r, "raidID")
	req.ActorID = NormalizeCharacterID(req.ActorID)
	return req, true
}

func (s *Server) handleAdvanceRaid(w http.ResponseWriter, r *http.Request) {
	req, ok := s.advanceRequest(w, r)
	if !ok {
		return
	}
	res, err := s.engine.AdvanceRaidPhase(r.Context(), req)
	s.respond(w, r, http.StatusOK, res, err)
}

func (s *Server) handleAdvanceBlackwall(w http.ResponseWriter, r *http.Request) {
	req, ok := s.advanceRequest(w, r)
	if !ok {
		return
	}
	res, err := s.engine.AdvanceBlackwallPhase(r.Context(), req)
	s.respond(w, r, http.StatusOK, res, err)
}

func (s *Server) handlePartySanity(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.GetPartySanity(r.Context(), chi.URLParam(r, "raidID"))
	s.respond(w, r, http.StatusOK, res, err)
}

func (s *Server) handleSanityShock(w http.ResponseWriter, r *http.Request) {
	var req sanityRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.engine.ApplyPartySanityShock(r.Context(), chi.URLParam(r, "raidID"), req.Delta)
	s.respond(w, r, http.StatusOK, res, err)
}

func (s *Server) handleRaidEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Code: narrative.CodeNotFound, Message: "event stream disabled"})
		return
	}
	s.hub.ServeRaid(w, r, chi.URLParam(r, "raidID"))
}
