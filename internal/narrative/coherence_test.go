package narrative

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/narrative-engine/internal/types"
)

func coherenceQuest() *types.Quest {
	return &types.Quest{
		ID:        "q",
		EntryNode: "start",
		Nodes:     map[string]*types.QuestNode{"start": {Terminal: true}},
		Branches: map[string]*types.QuestBranch{
			"corpo":   {Name: "Corpo"},
			"street":  {Name: "Street"},
			"insider": {Name: "Insider"},
		},
		Relationships: []types.BranchRelationship{
			{From: "corpo", To: "street", Type: types.RelationExclusiveWith},
			{From: "insider", To: "corpo", Type: types.RelationRequires},
		},
		CriticalPaths: []types.CriticalPath{{ID: "main", Branches: []string{"corpo", "insider"}}},
	}
}

func TestValidateQuestContentAcceptsCleanQuest(t *testing.T) {
	assert.Empty(t, ValidateQuestContent(coherenceQuest()))
}

func TestValidateQuestContentFindsProblems(t *testing.T) {
	q := coherenceQuest()
	q.EntryNode = "missing"
	q.Relationships = append(q.Relationships,
		types.BranchRelationship{From: "street", To: "street", Type: types.RelationBlocks},
		types.BranchRelationship{From: "street", To: "corpo", Type: "befriends"},
		types.BranchRelationship{From: "insider", To: "corpo", Type: types.RelationBlocks},
	)
	q.CriticalPaths = append(q.CriticalPaths, types.CriticalPath{ID: "late", Branches: []string{"corpo", "street"}})

	kinds := make(map[types.ViolationKind]int)
	for _, v := range ValidateQuestContent(q) {
		kinds[v.Kind]++
		assert.Equal(t, "q", v.QuestID)
	}
	assert.Equal(t, 1, kinds[types.ViolationUnknownReference])
	assert.Equal(t, 2, kinds[types.ViolationContradiction])
	assert.Equal(t, 1, kinds[types.ViolationInvalidVariant])
	assert.Equal(t, 2, kinds[types.ViolationUnreachablePath])
}

func TestCheckQuestState(t *testing.T) {
	q := coherenceQuest()

	// Test case 1: a legal walk of the critical path
	s := types.NewSessionState("v", 100)
	s.ActiveBranches["corpo"] = true
	s.ActivatedBranches["corpo"] = true
	s.ActiveBranches["insider"] = true
	s.ActivatedBranches["insider"] = true
	assert.Empty(t, CheckQuestState(q, s))

	// Test case 2: exclusive branches both active
	s.ActiveBranches["street"] = true
	violations := CheckQuestState(q, s)
	require.Len(t, violations, 1)
	assert.Equal(t, types.ViolationExclusive, violations[0].Kind)

	// Test case 3: requires broken and critical path out of order
	s = types.NewSessionState("v", 100)
	s.ActiveBranches["insider"] = true
	s.ActivatedBranches["insider"] = true
	kinds := make(map[types.ViolationKind]bool)
	for _, v := range CheckQuestState(q, s) {
		kinds[v.Kind] = true
	}
	assert.True(t, kinds[types.ViolationRequires])
	assert.True(t, kinds[types.ViolationCriticalPath])
}

func TestCoherenceValidator(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.AddQuest(coherenceQuest()))
	validate := NewCoherenceValidator(reg)

	s := types.NewSessionState("v", 100)
	assert.NoError(t, validate(s))

	s.ActiveBranches["corpo"] = true
	s.ActiveBranches["street"] = true
	err := validate(s)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNarrativeCoherence)
	nerr, _ := AsError(err)
	assert.Equal(t, []string{"corpo", "street"}, nerr.Conflicts)
}
