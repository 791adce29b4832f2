package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestExternalFromStruct(t *testing.T) {
	// Test case 1: nil context leaves everything untouched
	ext, err := ExternalFromStruct(nil)
	require.NoError(t, err)
	assert.Nil(t, ext.Reputation)
	assert.Nil(t, ext.WorldState)

	// Test case 2: every section
	st, err := structpb.NewStruct(map[string]any{
		"reputation":       map[string]any{"arasaka": 60.0},
		"inventory":        map[string]any{"keycard": 2},
		"skills":           map[string]any{"hacking": 7},
		"relationships":    map[string]any{"jackie": -5},
		"faction_standing": map[string]any{"valentinos": 3},
		"world_state":      map[string]any{"tower_access": true},
	})
	require.NoError(t, err)
	ext, err = ExternalFromStruct(st)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"arasaka": 60}, ext.Reputation)
	assert.Equal(t, map[string]int{"keycard": 2}, ext.Inventory)
	assert.Equal(t, map[string]int{"hacking": 7}, ext.Skills)
	assert.Equal(t, map[string]int{"jackie": -5}, ext.Relationships)
	assert.Equal(t, map[string]int{"valentinos": 3}, ext.FactionStanding)
	assert.Equal(t, map[string]bool{"tower_access": true}, ext.WorldState)
}

func TestExternalFromStructRejects(t *testing.T) {
	bad := []map[string]any{
		{"reputation": map[string]any{"arasaka": 1.5}},
		{"reputation": map[string]any{"arasaka": "high"}},
		{"inventory": []any{"keycard"}},
		{"world_state": map[string]any{"tower_access": 1}},
		{"horoscope": map[string]any{}},
	}
	for _, in := range bad {
		st, err := structpb.NewStruct(in)
		require.NoError(t, err)
		_, err = ExternalFromStruct(st)
		assert.Error(t, err, "%v", in)
	}
}

func TestContextFromJSON(t *testing.T) {
	st, err := contextFromJSON(nil)
	require.NoError(t, err)
	assert.Nil(t, st)

	st, err = contextFromJSON([]byte("null"))
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = contextFromJSON([]byte(`[1,2]`))
	assert.Error(t, err)

	st, err = contextFromJSON([]byte(`{"skills":{"tech":4}}`))
	require.NoError(t, err)
	assert.Equal(t, 4.0, st.GetFields()["skills"].GetStructValue().GetFields()["tech"].GetNumberValue())
}
