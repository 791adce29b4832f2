package api

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/user/narrative-engine/internal/types"
	"google.golang.org/protobuf/types/known/structpb"
)

// syncRequest is the body of the sync endpoint. Context is free-form JSON
// from the calling service.
type syncRequest struct {
	Level   int             `json:"level"`
	Context json.RawMessage `json:"context"`
}

// contextFromJSON decodes a loose context document
func contextFromJSON(data []byte) (*structpb.Struct, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("context must be a JSON object: %w", err)
	}
	return structpb.NewStruct(payload)
}

// ExternalFromStruct translates a loose context into the typed mirror of
// collaborator state. Sections that are absent stay nil so the sync leaves
// them untouched; unknown sections are rejected.
func ExternalFromStruct(in *structpb.Struct) (types.ExternalState, error) {
	var ext types.ExternalState
	if in == nil {
		return ext, nil
	}

	for key, value := range in.GetFields() {
		var err error
		switch key {
		case "reputation":
			ext.Reputation, err = intSection(key, value)
		case "inventory":
			ext.Inventory, err = intSection(key, value)
		case "skills":
			ext.Skills, err = intSection(key, value)
		case "relationships":
			ext.Relationships, err = intSection(key, value)
		case "faction_standing":
			ext.FactionStanding, err = intSection(key, value)
		case "world_state":
			ext.WorldState, err = boolSection(key, value)
		default:
			err = fmt.Errorf("unknown context section %q", key)
		}
		if err != nil {
			return types.ExternalState{}, err
		}
	}
	return ext, nil
}

func intSection(name string, value *structpb.Value) (map[string]int, error) {
	st, ok := value.GetKind().(*structpb.Value_StructValue)
	if !ok {
		return nil, fmt.Errorf("context section %s must be an object", name)
	}
	out := make(map[string]int, len(st.StructValue.GetFields()))
	for k, v := range st.StructValue.GetFields() {
		if strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("context section %s has an empty key", name)
		}
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok || n.NumberValue != math.Trunc(n.NumberValue) {
			return nil, fmt.Errorf("%s.%s must be an integer", name, k)
		}
		out[k] = int(n.NumberValue)
	}
	return out, nil
}

func boolSection(name string, value *structpb.Value) (map[string]bool, error) {
	st, ok := value.GetKind().(*structpb.Value_StructValue)
	if !ok {
		return nil, fmt.Errorf("context section %s must be an object", name)
	}
	out := make(map[string]bool, len(st.StructValue.GetFields()))
	for k, v := range st.StructValue.GetFields() {
		b, ok := v.GetKind().(*structpb.Value_BoolValue)
		if !ok {
			return nil, fmt.Errorf("%s.%s must be a boolean", name, k)
		}
		out[k] = b.BoolValue
	}
	return out, nil
}
