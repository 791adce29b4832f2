package narrative

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/narrative-engine/config"
	"github.com/user/narrative-engine/internal/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gopkg.in/yaml.v3"
)

func offeredIDs(v types.DialogueView) []string {
	out := make([]string, len(v.Offered))
	for i, c := range v.Offered {
		out[i] = c.ID
	}
	return out
}

func TestStartDialogueFiltersChoices(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	seedCharacter(t, e, "v", 0)

	view, err := e.StartDialogue(ctx, "v", "jackie_intro")
	require.NoError(t, err)
	assert.Equal(t, "greeting", view.NodeID)
	assert.Equal(t, "Jackie", view.Speaker)
	assert.False(t, view.Ended)
	assert.Equal(t, []string{"ask_job", "hack_door"}, offeredIDs(*view))

	require.Len(t, view.Locked, 2)
	assert.Equal(t, "show_keycard", view.Locked[0].ChoiceID)
	assert.Equal(t, []string{"keycard"}, view.Locked[0].MissingItems)
	assert.Equal(t, "mention_secret", view.Locked[1].ChoiceID)
	assert.Equal(t, []string{"knows_secret"}, view.Locked[1].MissingFlags)

	// Test case 2: unknown tree
	_, err = e.StartDialogue(ctx, "v", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExecuteDialogueNode(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	sink := &recordingSink{}
	e.SetEventSink(sink)
	seedCharacter(t, e, "v", 0)

	_, err := e.StartDialogue(ctx, "v", "jackie_intro")
	require.NoError(t, err)

	// Test case 1: locked choice reports what is missing
	_, err = e.ExecuteDialogueNode(ctx, types.DialogueRequest{CharacterID: "v", TreeID: "jackie_intro", ChoiceID: "show_keycard"})
	require.ErrorIs(t, err, ErrBranchLocked)
	nerr, _ := AsError(err)
	assert.Equal(t, []string{"keycard"}, nerr.MissingItems)

	// Test case 2: choice not offered here
	_, err = e.ExecuteDialogueNode(ctx, types.DialogueRequest{CharacterID: "v", TreeID: "jackie_intro", ChoiceID: "accept"})
	assert.ErrorIs(t, err, ErrInvalidChoice)

	// Test case 3: a plain choice moves the walker and sets flags
	res, err := e.ExecuteDialogueNode(ctx, types.DialogueRequest{CharacterID: "v", TreeID: "jackie_intro", ChoiceID: "ask_job"})
	require.NoError(t, err)
	assert.Equal(t, "greeting", res.PreviousNode)
	assert.Equal(t, "job", res.Node.NodeID)
	assert.True(t, res.NewState.Flags["asked_job"])
	assert.Nil(t, res.SkillCheck)

	// Test case 4: branch activation fails while the quest is not running, atomically
	before, err := e.GetState(ctx, "v")
	require.NoError(t, err)
	_, err = e.ExecuteDialogueNode(ctx, types.DialogueRequest{CharacterID: "v", TreeID: "jackie_intro", ChoiceID: "accept"})
	require.ErrorIs(t, err, ErrRequirementUnsatisfied)
	after, err := e.GetState(ctx, "v")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// Test case 5: with the quest running the choice activates its branch
	_, err = e.StartQuest(ctx, "v", "corpo_heist")
	require.NoError(t, err)
	res, err = e.ExecuteDialogueNode(ctx, types.DialogueRequest{CharacterID: "v", TreeID: "jackie_intro", ChoiceID: "accept"})
	require.NoError(t, err)
	assert.Equal(t, "street_path", res.BranchActivated)
	assert.True(t, res.NewState.ActiveBranches["street_path"])
	assert.Equal(t, 30, res.NewState.External.Relationships["jackie"])
	assert.Equal(t, "farewell", res.Node.NodeID)
	assert.True(t, res.Node.Ended)
	require.Len(t, res.Consequences, 1)
	assert.Equal(t, types.DeltaRelationship, res.Consequences[0].Kind)
	assert.Len(t, res.NewState.Pending, 1)

	last := res.NewState.Choices[len(res.NewState.Choices)-1]
	assert.Equal(t, types.SourceDialogue, last.Source)
	assert.Equal(t, "corpo_heist", last.QuestID)
	assert.Equal(t, "farewell", last.NextNodeID)

	// Test case 6: the conversation is over
	_, err = e.ExecuteDialogueNode(ctx, types.DialogueRequest{CharacterID: "v", TreeID: "jackie_intro", ChoiceID: "run"})
	assert.ErrorIs(t, err, ErrInvalidChoice)

	assert.Contains(t, sink.eventTypes(), types.EventDialogueAdvanced)
	assert.Contains(t, sink.eventTypes(), types.EventBranchActivated)
}

func TestDialogueSkillCheckRouting(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	seedCharacter(t, e, "pass", 0)
	seedCharacter(t, e, "fail", 0)
	seed := int64(7)

	// Test case 1: an overwhelming modifier always passes and ends at door_open
	res, err := e.ExecuteDialogueNode(ctx, types.DialogueRequest{
		CharacterID: "pass", TreeID: "jackie_intro", ChoiceID: "hack_door", SkillModifier: 100, Seed: &seed,
	})
	require.NoError(t, err)
	require.NotNil(t, res.SkillCheck)
	assert.True(t, res.SkillCheck.Success)
	assert.Equal(t, seed, res.SkillCheck.Seed)
	assert.Equal(t, 7, res.SkillCheck.SkillValue)
	assert.Equal(t, "door_open", res.Node.NodeID)
	assert.True(t, res.Node.Ended)
	assert.True(t, res.NewState.Context().ChoicesMade["hack_door"])
	assert.Equal(t, types.DialogueEnded, res.NewState.Dialogues["jackie_intro"].Status)

	// Test case 2: a crushing modifier always fails into the failure node
	res, err = e.ExecuteDialogueNode(ctx, types.DialogueRequest{
		CharacterID: "fail", TreeID: "jackie_intro", ChoiceID: "hack_door", SkillModifier: -100, Seed: &seed,
	})
	require.NoError(t, err)
	assert.False(t, res.SkillCheck.Success)
	assert.Equal(t, "door_alarm", res.Node.NodeID)
	assert.False(t, res.Node.Ended)
	assert.Equal(t, []string{"run"}, offeredIDs(res.Node))

	// a failed attempt is recorded but does not count as the choice being made
	last := res.NewState.Choices[len(res.NewState.Choices)-1]
	assert.Equal(t, "hack_door", last.ChoiceID)
	assert.True(t, last.Failed)
	assert.False(t, res.NewState.Context().ChoicesMade["hack_door"])
	ok, _ := Evaluate(types.BranchCondition{Type: types.ConditionChoiceMade, ChoiceID: "hack_door"}, res.NewState.Context())
	assert.False(t, ok)
	assert.Equal(t, types.DialogueAtNode, res.NewState.Dialogues["jackie_intro"].Status)

	// Test case 3: without a seed one is drawn and reported
	seedCharacter(t, e, "random", 0)
	res, err = e.ExecuteDialogueNode(ctx, types.DialogueRequest{CharacterID: "random", TreeID: "jackie_intro", ChoiceID: "hack_door"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.SkillCheck.Seed, int64(0))
}

func TestDialogueReplayIsDeterministic(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	for seed := int64(0); seed < 25; seed++ {
		s := seed
		var first *types.DialogueResult
		for _, id := range []string{"left", "right"} {
			_ = e.ResetNarrative(ctx, id)
			seedCharacter(t, e, id, 0)
			res, err := e.ExecuteDialogueNode(ctx, types.DialogueRequest{
				CharacterID: id, TreeID: "jackie_intro", ChoiceID: "hack_door", SkillModifier: 2, Seed: &s,
			})
			require.NoError(t, err)
			if first == nil {
				first = res
				continue
			}
			assert.Equal(t, first.Node.NodeID, res.Node.NodeID, "seed %d", seed)
			assert.Equal(t, first.SkillCheck.Rolls, res.SkillCheck.Rolls, "seed %d", seed)
			assert.Equal(t, first.SkillCheck.Success, res.SkillCheck.Success, "seed %d", seed)
		}
	}
}

func TestDialogueVisitsAndRestart(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	seedCharacter(t, e, "v", 0)

	_, err := e.StartDialogue(ctx, "v", "jackie_intro")
	require.NoError(t, err)
	_, err = e.StartDialogue(ctx, "v", "jackie_intro")
	require.NoError(t, err)

	state, err := e.GetState(ctx, "v")
	require.NoError(t, err)
	sess := state.Dialogues["jackie_intro"]
	require.NotNil(t, sess)
	assert.Equal(t, 2, sess.Visits["greeting"])
	assert.Equal(t, types.DialogueAtNode, sess.Status)
}

const softGapYAML = `
quests:
  gig:
    name: Gig
    entry_node: start
    nodes:
      start:
        title: Start
        transitions:
          - choice_id: sweet_talk
            to_node: done
            conditions:
              - type: relationship_level
                npc_id: rogue
                min: 50
      done:
        title: Done
        terminal: true
dialogues:
  rogue_chat:
    npc_id: rogue
    root: hello
    nodes:
      hello:
        speaker: Rogue
        text: What do you want
        choices:
          - id: flatter
            leads_to_node: bye
            conditions:
              - type: skill_level
                skill: cool
                min: 9
      bye:
        speaker: Rogue
        text: Get lost
        end_conversation: true
`

func TestUnmetOptionalConditionsAreLogged(t *testing.T) {
	ctx := context.Background()
	var content ContentConfig
	require.NoError(t, yaml.Unmarshal([]byte(softGapYAML), &content))
	reg, err := content.BuildRegistry()
	require.NoError(t, err)

	core, logs := observer.New(zapcore.DebugLevel)
	e := NewEngine(config.DefaultConfig(), reg, nil)
	e.SetLogger(zap.New(core))
	seedCharacter(t, e, "v", 0)

	gaps := func() map[string]string {
		out := make(map[string]string)
		for _, entry := range logs.FilterMessage("Optional condition not met").All() {
			fields := entry.ContextMap()
			if id, ok := fields["choice_id"].(string); ok {
				out[id], _ = fields["gap"].(string)
			}
		}
		return out
	}

	// Test case 1: a quest transition with an unmet optional condition still goes through
	_, err = e.StartQuest(ctx, "v", "gig")
	require.NoError(t, err)
	res, err := e.MakeQuestChoice(ctx, "v", "gig", "sweet_talk")
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Contains(t, gaps(), "sweet_talk")
	assert.NotEmpty(t, gaps()["sweet_talk"])

	// Test case 2: same for a dialogue choice
	_, err = e.ExecuteDialogueNode(ctx, types.DialogueRequest{CharacterID: "v", TreeID: "rogue_chat", ChoiceID: "flatter"})
	require.NoError(t, err)
	assert.Contains(t, gaps(), "flatter")
}
