package narrative

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/narrative-engine/config"
	"github.com/user/narrative-engine/internal/types"
	"gopkg.in/yaml.v3"
)

const testContentYAML = `
quests:
  corpo_heist:
    name: Corporate Heist
    description: Get into the Arasaka tower
    min_level: 2
    entry_node: briefing
    nodes:
      briefing:
        title: Briefing with Dex
        objectives:
          - id: meet_dex
            description: Meet Dex at the Afterlife
        transitions:
          - choice_id: go_loud
            text: Go in guns blazing
            to_node: assault
            activates_branch: street_path
          - choice_id: bribe_guard
            text: Bribe the guard
            to_node: lobby
            consequences:
              - id: bribe_rep
                type: reputation_change
                target: arasaka
                amount: 20
      lobby:
        title: Arasaka lobby
        reward:
          experience: 50
        transitions:
          - choice_id: take_elevator
            text: Take the elevator
            to_node: vault
            conditions:
              - type: item_owned
                item_id: keycard
                required: true
      assault:
        title: Assault
        transitions:
          - choice_id: finish_assault
            text: Push through
            to_node: vault
      vault:
        title: Vault
        terminal: true
        reward:
          currency: 100
    branches:
      corpo_path:
        name: Corporate infiltration
        conditions:
          - type: reputation_threshold
            faction: arasaka
            min: 50
            required: true
        consequences:
          - id: corpo_access
            type: world_state_change
            target: tower_access
            value: true
      street_path:
        name: Street approach
        conditions:
          - type: relationship_level
            npc_id: jackie
            min: 10
      nomad_path:
        name: Nomad support
      insider_path:
        name: Inside man
    relationships:
      - {from: corpo_path, to: street_path, type: exclusive_with}
      - {from: corpo_path, to: street_path, type: blocks}
      - {from: nomad_path, to: street_path, type: exclusive_with}
      - {from: insider_path, to: corpo_path, type: requires}
      - {from: street_path, to: nomad_path, type: leads_to}
    critical_paths:
      - id: main
        branches: [corpo_path, insider_path]
    endings:
      - id: corpo_ending
        title: Company man
        required_branches: [corpo_path]
        reward:
          experience: 500
      - id: street_ending
        title: Street legend
        reward:
          items: [mantis_blades]

dialogues:
  jackie_intro:
    npc_id: jackie
    root: greeting
    nodes:
      greeting:
        speaker: Jackie
        text: Hey choom
        choices:
          - id: ask_job
            text: Got work?
            leads_to_node: job
            set_flags: [asked_job]
          - id: hack_door
            text: "[Hacking] Open the door"
            leads_to_node: door_open
            skill_check:
              skill: hacking
              difficulty: 15
              failure_node: door_alarm
          - id: show_keycard
            text: Show the keycard
            leads_to_node: vip
            required_items: [keycard]
          - id: mention_secret
            text: Mention the secret
            leads_to_node: vip
            required_flags: [knows_secret]
      job:
        speaker: Jackie
        text: Arasaka job, big payout
        choices:
          - id: accept
            text: I'm in
            leads_to_node: farewell
            quest_id: corpo_heist
            activates_branch: street_path
            consequences:
              - id: jackie_bond
                type: relationship_change
                target: jackie
                amount: 10
      door_open:
        speaker: Narrator
        text: The door slides open.
        end_conversation: true
      door_alarm:
        speaker: Narrator
        text: An alarm blares.
        choices:
          - id: run
            text: Run
            leads_to_node: farewell
      vip:
        speaker: Jackie
        text: Right this way.
        end_conversation: true
      farewell:
        speaker: Jackie
        text: See ya
`

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	var content ContentConfig
	require.NoError(t, yaml.Unmarshal([]byte(testContentYAML), &content))
	reg, err := content.BuildRegistry()
	require.NoError(t, err)
	return reg
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Delivery.FlushOnCommit = false
	return NewEngine(cfg, testRegistry(t), nil)
}

// seedCharacter creates a level 5 character with the given Arasaka reputation
func seedCharacter(t *testing.T, e *Engine, id string, arasaka int) {
	t.Helper()
	_, err := e.SyncPlayerState(context.Background(), id, 5, types.ExternalState{
		Reputation:    map[string]int{"arasaka": arasaka},
		Relationships: map[string]int{"jackie": 20},
		Skills:        map[string]int{"hacking": 7, "tech": 5, "willpower": 5, "combat": 5, "stealth": 5},
	})
	require.NoError(t, err)
}

type recordingSink struct {
	mu     sync.Mutex
	events []types.NarrativeEvent
}

func (s *recordingSink) Publish(event types.NarrativeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) eventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

func TestArasakaBranchActivation(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	seedCharacter(t, e, "c1", 40)

	_, err := e.StartQuest(ctx, "c1", "corpo_heist")
	require.NoError(t, err)

	// Test case 1: the street path is open and becomes active
	_, err = e.ActivateQuestBranch(ctx, "c1", "corpo_heist", "street_path", "choose_street")
	require.NoError(t, err)

	// Test case 2: reputation 40 fails the required gate and changes nothing
	before, err := e.GetState(ctx, "c1")
	require.NoError(t, err)
	_, err = e.ActivateQuestBranch(ctx, "c1", "corpo_heist", "corpo_path", "choose_corpo")
	require.ErrorIs(t, err, ErrBranchLocked)
	nerr, ok := AsError(err)
	require.True(t, ok)
	assert.NotEmpty(t, nerr.Reasons)
	after, err := e.GetState(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// Test case 3: a reputation consequence raises Arasaka to 60
	res, err := e.MakeQuestChoice(ctx, "c1", "corpo_heist", "bribe_guard")
	require.NoError(t, err)
	assert.Equal(t, "lobby", res.CurrentNode)
	assert.Equal(t, 60, res.NewState.External.Reputation["arasaka"])

	// Test case 4: the same activation now succeeds and displaces the street path
	act, err := e.ActivateQuestBranch(ctx, "c1", "corpo_heist", "corpo_path", "choose_corpo")
	require.NoError(t, err)
	assert.Equal(t, []string{"street_path"}, act.Deactivated)
	assert.True(t, act.NewState.ActiveBranches["corpo_path"])
	assert.False(t, act.NewState.ActiveBranches["street_path"])
	assert.True(t, act.NewState.LockedBranches["street_path"])
	assert.True(t, act.NewState.External.WorldState["tower_access"])

	var deactivation *types.StateDelta
	for i := range act.Consequences {
		if act.Consequences[i].Kind == types.DeltaBranchDeactivation {
			deactivation = &act.Consequences[i]
		}
	}
	require.NotNil(t, deactivation, "deactivation must be recorded as a consequence")
	assert.Equal(t, "street_path", deactivation.Key)
	assert.Equal(t, "choose_corpo", act.Choice.ChoiceID)
	assert.Equal(t, types.SourceBranch, act.Choice.Source)

	// Test case 5: the blocked branch can no longer come back
	_, err = e.ActivateQuestBranch(ctx, "c1", "corpo_heist", "street_path", "choose_street")
	assert.ErrorIs(t, err, ErrBranchLocked)
}

func TestActivateQuestBranchErrors(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	seedCharacter(t, e, "v", 80)

	// Test case 1: unknown quest, branch and character
	_, err := e.ActivateQuestBranch(ctx, "v", "nope", "corpo_path", "x")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = e.ActivateQuestBranch(ctx, "v", "corpo_heist", "nope", "x")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = e.ActivateQuestBranch(ctx, "ghost", "corpo_heist", "corpo_path", "x")
	assert.ErrorIs(t, err, ErrNotFound)

	// Test case 2: quest not started
	_, err = e.ActivateQuestBranch(ctx, "v", "corpo_heist", "corpo_path", "x")
	assert.ErrorIs(t, err, ErrRequirementUnsatisfied)

	_, err = e.StartQuest(ctx, "v", "corpo_heist")
	require.NoError(t, err)

	// Test case 3: requires edge unsatisfied
	_, err = e.ActivateQuestBranch(ctx, "v", "corpo_heist", "insider_path", "x")
	require.ErrorIs(t, err, ErrRequirementUnsatisfied)
	nerr, _ := AsError(err)
	assert.Equal(t, []string{"corpo_path"}, nerr.Conflicts)

	// Test case 4: exclusive conflict without a blocks edge is fatal
	_, err = e.ActivateQuestBranch(ctx, "v", "corpo_heist", "nomad_path", "x")
	require.NoError(t, err)
	_, err = e.ActivateQuestBranch(ctx, "v", "corpo_heist", "street_path", "x")
	require.ErrorIs(t, err, ErrBranchConflict)
	nerr, _ = AsError(err)
	assert.Equal(t, []string{"nomad_path"}, nerr.Conflicts)

	// Test case 5: already active
	_, err = e.ActivateQuestBranch(ctx, "v", "corpo_heist", "nomad_path", "x")
	assert.ErrorIs(t, err, ErrInvalidChoice)

	// Test case 6: requires satisfied once the target is active
	_, err = e.ActivateQuestBranch(ctx, "v", "corpo_heist", "corpo_path", "x")
	require.NoError(t, err)
	_, err = e.ActivateQuestBranch(ctx, "v", "corpo_heist", "insider_path", "x")
	require.NoError(t, err)

	report, err := e.ValidateBranchCoherence(ctx, "v", "corpo_heist")
	require.NoError(t, err)
	assert.True(t, report.Coherent)
}

func TestLockedActivationIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	seedCharacter(t, e, "v", 10)
	_, err := e.StartQuest(ctx, "v", "corpo_heist")
	require.NoError(t, err)

	before, err := e.GetState(ctx, "v")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := e.ActivateQuestBranch(ctx, "v", "corpo_heist", "corpo_path", "try")
		require.ErrorIs(t, err, ErrBranchLocked)
	}
	after, err := e.GetState(ctx, "v")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, before.Version, after.Version)
}

func TestExclusiveBranchesFuzz(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	q, _ := e.Registry().Quest("corpo_heist")
	branches := []string{"corpo_path", "street_path", "nomad_path", "insider_path"}
	rng := rand.New(rand.NewSource(42))

	for character := 0; character < 20; character++ {
		id := "runner-" + string(rune('a'+character))
		seedCharacter(t, e, id, rng.Intn(100))
		_, err := e.StartQuest(ctx, id, "corpo_heist")
		require.NoError(t, err)

		for step := 0; step < 30; step++ {
			switch rng.Intn(10) {
			case 0:
				_ = e.AbandonQuest(ctx, id, "corpo_heist")
				_, _ = e.StartQuest(ctx, id, "corpo_heist")
			case 1:
				_, _ = e.SyncPlayerState(ctx, id, 0, types.ExternalState{
					Reputation: map[string]int{"arasaka": rng.Intn(100)},
				})
			default:
				branch := branches[rng.Intn(len(branches))]
				_, _ = e.ActivateQuestBranch(ctx, id, "corpo_heist", branch, "fuzz")
			}

			state, err := e.GetState(ctx, id)
			require.NoError(t, err)
			for _, rel := range q.Relationships {
				if rel.Type == types.RelationExclusiveWith {
					assert.False(t, state.ActiveBranches[rel.From] && state.ActiveBranches[rel.To],
						"%s and %s both active for %s", rel.From, rel.To, id)
				}
			}
			assert.Empty(t, CheckQuestState(q, state))
		}
	}
}

func TestStartQuest(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	sink := &recordingSink{}
	e.SetEventSink(sink)

	// Test case 1: level requirement
	_, err := e.SyncPlayerState(ctx, "rookie", 1, types.ExternalState{})
	require.NoError(t, err)
	_, err = e.StartQuest(ctx, "rookie", "corpo_heist")
	require.ErrorIs(t, err, ErrRequirementUnsatisfied)
	nerr, _ := AsError(err)
	assert.Contains(t, nerr.Reasons[0], "level 1")

	// Test case 2: start at the entry node
	seedCharacter(t, e, "v", 0)
	inst, err := e.StartQuest(ctx, "v", "corpo_heist")
	require.NoError(t, err)
	assert.Equal(t, "briefing", inst.CurrentNode)
	assert.Equal(t, types.QuestActive, inst.Status)
	assert.NotEmpty(t, inst.InstanceID)

	// Test case 3: starting twice is refused
	_, err = e.StartQuest(ctx, "v", "corpo_heist")
	assert.ErrorIs(t, err, ErrQuestAlreadyActive)

	// Test case 4: unknown quest
	_, err = e.StartQuest(ctx, "v", "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	objectives, err := e.GetObjectives(ctx, "v", "corpo_heist")
	require.NoError(t, err)
	require.Len(t, objectives, 1)
	assert.Equal(t, "meet_dex", objectives[0].ID)

	assert.Contains(t, sink.eventTypes(), types.EventQuestStarted)
}

func TestQuestLockConsequenceBlocksStart(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	seedCharacter(t, e, "v", 0)

	_, err := e.store.Mutate(ctx, "v", func(draft *types.NarrativeSessionState) error {
		d, err := Apply(types.Consequence{ID: "burned", Type: types.ConsequenceQuestLock, Target: "corpo_heist"}, draft.Context())
		if err != nil {
			return err
		}
		commitDelta(draft, d[0])
		return nil
	})
	require.NoError(t, err)

	_, err = e.StartQuest(ctx, "v", "corpo_heist")
	assert.ErrorIs(t, err, ErrBranchLocked)
}

func TestMakeQuestChoiceToEnding(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	sink := &recordingSink{}
	e.SetEventSink(sink)
	seedCharacter(t, e, "v", 40)

	_, err := e.StartQuest(ctx, "v", "corpo_heist")
	require.NoError(t, err)

	// Test case 1: choice not offered at this node
	_, err = e.MakeQuestChoice(ctx, "v", "corpo_heist", "take_elevator")
	assert.ErrorIs(t, err, ErrInvalidChoice)

	// Test case 2: bribe moves to the lobby, grants the node reward and stages deltas
	res, err := e.MakeQuestChoice(ctx, "v", "corpo_heist", "bribe_guard")
	require.NoError(t, err)
	assert.Equal(t, "briefing", res.PreviousNode)
	assert.Equal(t, "lobby", res.CurrentNode)
	require.Len(t, res.Consequences, 2)
	assert.Equal(t, types.DeltaReputation, res.Consequences[0].Kind)
	assert.Equal(t, types.DeltaExperienceGrant, res.Consequences[1].Kind)
	assert.Len(t, res.NewState.Pending, 2)

	// Test case 3: the elevator needs a keycard
	_, err = e.MakeQuestChoice(ctx, "v", "corpo_heist", "take_elevator")
	require.ErrorIs(t, err, ErrBranchLocked)
	nerr, _ := AsError(err)
	assert.Equal(t, []string{"keycard"}, nerr.MissingItems)

	_, err = e.SyncPlayerState(ctx, "v", 0, types.ExternalState{Inventory: map[string]int{"keycard": 1}})
	require.NoError(t, err)

	// Test case 4: reaching the terminal node completes with the first open ending
	res, err = e.MakeQuestChoice(ctx, "v", "corpo_heist", "take_elevator")
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, "street_ending", res.EndingID)
	assert.True(t, res.NewState.CompletedQuests["corpo_heist"])
	assert.NotContains(t, res.NewState.Quests, "corpo_heist")
	require.Len(t, res.NewState.ArchivedQuests, 1)
	assert.Equal(t, types.QuestCompleted, res.NewState.ArchivedQuests[0].Status)
	assert.Equal(t, 1, res.NewState.External.Inventory["mantis_blades"])

	// Test case 5: completed quests are not repeatable
	_, err = e.StartQuest(ctx, "v", "corpo_heist")
	assert.ErrorIs(t, err, ErrInvalidChoice)

	history := res.NewState.Choices
	require.Len(t, history, 2)
	assert.Equal(t, "bribe_guard", history[0].ChoiceID)
	assert.Equal(t, "take_elevator", history[1].ChoiceID)
	assert.Contains(t, sink.eventTypes(), types.EventQuestCompleted)
}

func TestQuestChoiceActivatesBranch(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	seedCharacter(t, e, "v", 80)
	_, err := e.StartQuest(ctx, "v", "corpo_heist")
	require.NoError(t, err)

	res, err := e.MakeQuestChoice(ctx, "v", "corpo_heist", "go_loud")
	require.NoError(t, err)
	assert.Equal(t, "street_path", res.BranchActivated)
	assert.Equal(t, "assault", res.CurrentNode)
	assert.True(t, res.NewState.ActiveBranches["street_path"])

	endings, err := e.GetAvailableEndings(ctx, "v", "corpo_heist")
	require.NoError(t, err)
	require.Len(t, endings, 2)
	assert.False(t, endings[0].Available)
	assert.True(t, endings[1].Available)
}

func TestAbandonQuestClearsBranches(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	seedCharacter(t, e, "v", 80)
	_, err := e.StartQuest(ctx, "v", "corpo_heist")
	require.NoError(t, err)
	_, err = e.ActivateQuestBranch(ctx, "v", "corpo_heist", "corpo_path", "x")
	require.NoError(t, err)

	require.NoError(t, e.AbandonQuest(ctx, "v", "corpo_heist"))
	state, err := e.GetState(ctx, "v")
	require.NoError(t, err)
	assert.Empty(t, state.ActiveBranches)
	assert.Empty(t, state.LockedBranches)
	assert.Equal(t, types.QuestAbandoned, state.ArchivedQuests[0].Status)

	// Test case 2: nothing left to abandon
	assert.ErrorIs(t, e.AbandonQuest(ctx, "v", "corpo_heist"), ErrNotFound)

	// Test case 3: an abandoned quest can be picked up again
	_, err = e.StartQuest(ctx, "v", "corpo_heist")
	assert.NoError(t, err)
}

func TestDiscoveryProjections(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	seedCharacter(t, e, "v", 80)
	_, err := e.StartQuest(ctx, "v", "corpo_heist")
	require.NoError(t, err)
	_, err = e.ActivateQuestBranch(ctx, "v", "corpo_heist", "nomad_path", "x")
	require.NoError(t, err)

	// Test case 1: branch availability, eligible first
	avail, err := e.GetAvailableBranches(ctx, "v", "corpo_heist")
	require.NoError(t, err)
	require.Len(t, avail, 4)
	assert.True(t, avail[0].Eligible)
	byID := make(map[string]types.BranchAvailability)
	for _, a := range avail {
		byID[a.BranchID] = a
	}
	assert.True(t, byID["corpo_path"].Eligible)
	assert.True(t, byID["nomad_path"].Active)
	assert.False(t, byID["nomad_path"].Eligible)
	assert.Equal(t, []string{"nomad_path"}, byID["street_path"].Conflicts)
	assert.Equal(t, []string{"corpo_path"}, byID["insider_path"].MissingRequires)

	// Test case 2: branch connections carry status
	conn, err := e.GetBranchConnections(ctx, "v", "corpo_heist")
	require.NoError(t, err)
	status := make(map[string]string)
	for _, n := range conn.Nodes {
		status[n.ID] = n.Status
	}
	assert.Equal(t, "active", status["nomad_path"])
	assert.Equal(t, "available", status["corpo_path"])
	assert.Equal(t, "unavailable", status["street_path"])
	assert.Len(t, conn.Edges, 5)

	// Test case 3: quest graph
	graph, err := e.GetQuestGraph(ctx, "corpo_heist")
	require.NoError(t, err)
	kinds := make(map[string]string)
	for _, n := range graph.Nodes {
		kinds[n.ID] = n.Kind
	}
	assert.Equal(t, "entry", kinds["briefing"])
	assert.Equal(t, "terminal", kinds["vault"])
	assert.Len(t, graph.Edges, 4)

	// Test case 4: projections never mutate
	state, err := e.GetState(ctx, "v")
	require.NoError(t, err)
	_, err = e.GetQuestGraph(ctx, "corpo_heist")
	require.NoError(t, err)
	again, err := e.GetState(ctx, "v")
	require.NoError(t, err)
	assert.Equal(t, state.Version, again.Version)
}

func TestValidateBranchCoherenceReportsDynamicViolations(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	seedCharacter(t, e, "v", 80)

	// bypass the validator to plant a bad state
	e.store.SetValidator(nil)
	_, err := e.store.Mutate(ctx, "v", func(draft *types.NarrativeSessionState) error {
		draft.ActiveBranches["nomad_path"] = true
		draft.ActiveBranches["street_path"] = true
		return nil
	})
	require.NoError(t, err)

	report, err := e.ValidateBranchCoherence(ctx, "v", "corpo_heist")
	require.NoError(t, err)
	assert.False(t, report.Coherent)
	assert.Empty(t, report.Static)
	require.NotEmpty(t, report.Dynamic)
	assert.Equal(t, types.ViolationExclusive, report.Dynamic[0].Kind)
}

func TestResetNarrative(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	seedCharacter(t, e, "v", 80)

	require.NoError(t, e.ResetNarrative(ctx, "v"))
	_, err := e.GetState(ctx, "v")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, e.ResetNarrative(ctx, "v"), ErrNotFound)
}
