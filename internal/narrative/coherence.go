package narrative

import (
	"fmt"
	"sort"

	"github.com/user/narrative-engine/internal/types"
)

// ValidateQuestContent checks a quest template for problems no character
// state could fix: dangling references, contradictory relationships,
// requires cycles and critical paths that can never be walked.
func ValidateQuestContent(q *types.Quest) []types.Violation {
	var out []types.Violation
	bad := func(kind types.ViolationKind, branches []string, format string, args ...any) {
		out = append(out, types.Violation{
			Kind:     kind,
			QuestID:  q.ID,
			Branches: branches,
			Detail:   fmt.Sprintf("quest %s: ", q.ID) + fmt.Sprintf(format, args...),
		})
	}
	hasNode := func(id string) bool { _, ok := q.Nodes[id]; return ok }
	hasBranch := func(id string) bool { _, ok := q.Branches[id]; return ok }

	if !hasNode(q.EntryNode) {
		bad(types.ViolationUnknownReference, nil, "entry node %q not defined", q.EntryNode)
	}

	for _, nodeID := range sortedKeys(q.Nodes) {
		n := q.Nodes[nodeID]
		for _, tr := range n.Transitions {
			if !hasNode(tr.ToNode) {
				bad(types.ViolationUnknownReference, nil, "transition %s at %s targets unknown node %q", tr.ChoiceID, nodeID, tr.ToNode)
			}
			if tr.ActivatesBranch != "" && !hasBranch(tr.ActivatesBranch) {
				bad(types.ViolationUnknownReference, []string{tr.ActivatesBranch}, "transition %s activates unknown branch", tr.ChoiceID)
			}
			out = append(out, variantViolations(q.ID, "transition "+tr.ChoiceID, tr.Conditions, tr.Consequences)...)
		}
	}

	out = append(out, objectiveViolations(q)...)

	for _, branchID := range sortedKeys(q.Branches) {
		b := q.Branches[branchID]
		if b.EntryNode != "" && !hasNode(b.EntryNode) {
			bad(types.ViolationUnknownReference, []string{branchID}, "branch entry node %q not defined", b.EntryNode)
		}
		for _, nodeID := range b.Nodes {
			if !hasNode(nodeID) {
				bad(types.ViolationUnknownReference, []string{branchID}, "branch lists unknown node %q", nodeID)
			}
		}
		out = append(out, variantViolations(q.ID, "branch "+branchID, b.Conditions, b.Consequences)...)
	}

	type pair struct{ a, b string }
	exclusive := make(map[pair]bool)
	requires := make(map[pair]bool)
	blocks := make(map[pair]bool)
	requireEdges := make(map[string][]string)

	for _, rel := range q.Relationships {
		if !hasBranch(rel.From) || !hasBranch(rel.To) {
			bad(types.ViolationUnknownReference, []string{rel.From, rel.To}, "%s relationship references unknown branch", rel.Type)
			continue
		}
		if rel.From == rel.To {
			bad(types.ViolationContradiction, []string{rel.From}, "branch has a %s relationship with itself", rel.Type)
			continue
		}
		switch rel.Type {
		case types.RelationExclusiveWith:
			exclusive[pair{rel.From, rel.To}] = true
			exclusive[pair{rel.To, rel.From}] = true
		case types.RelationRequires:
			requires[pair{rel.From, rel.To}] = true
			requireEdges[rel.From] = append(requireEdges[rel.From], rel.To)
		case types.RelationBlocks:
			blocks[pair{rel.From, rel.To}] = true
		case types.RelationLeadsTo:
		default:
			bad(types.ViolationInvalidVariant, []string{rel.From, rel.To}, "unknown relationship type %q", rel.Type)
		}
	}

	for p := range requires {
		if exclusive[p] {
			bad(types.ViolationContradiction, []string{p.a, p.b}, "%s both requires and excludes %s", p.a, p.b)
		}
		if blocks[p] {
			bad(types.ViolationContradiction, []string{p.a, p.b}, "%s both requires and blocks %s", p.a, p.b)
		}
	}

	if cycle := findCycle(requireEdges); cycle != nil {
		bad(types.ViolationRequiresCycle, cycle, "requires cycle %v", cycle)
	}

	for _, path := range q.CriticalPaths {
		for i, a := range path.Branches {
			if !hasBranch(a) {
				bad(types.ViolationUnknownReference, []string{a}, "critical path %s lists unknown branch", path.ID)
				continue
			}
			for _, b := range path.Branches[i+1:] {
				if exclusive[pair{a, b}] {
					bad(types.ViolationUnreachablePath, []string{a, b}, "critical path %s contains exclusive branches", path.ID)
				}
				if requires[pair{a, b}] {
					bad(types.ViolationUnreachablePath, []string{a, b}, "critical path %s: %s requires the later %s", path.ID, a, b)
				}
				if blocks[pair{b, a}] {
					bad(types.ViolationUnreachablePath, []string{b, a}, "critical path %s: %s blocks the earlier %s", path.ID, b, a)
				}
			}
		}
	}

	for _, e := range q.Endings {
		for _, branchID := range e.RequiredBranches {
			if !hasBranch(branchID) {
				bad(types.ViolationUnknownReference, []string{branchID}, "ending %s requires unknown branch", e.ID)
			}
		}
		out = append(out, variantViolations(q.ID, "ending "+e.ID, e.Conditions, nil)...)
	}

	return out
}

func variantViolations(questID, owner string, conds []types.BranchCondition, cons []types.Consequence) []types.Violation {
	var out []types.Violation
	for _, c := range conds {
		if !IsKnownCondition(c.Type) {
			out = append(out, types.Violation{
				Kind:    types.ViolationInvalidVariant,
				QuestID: questID,
				Detail:  fmt.Sprintf("quest %s: %s has unknown condition type %q", questID, owner, c.Type),
			})
		}
	}
	for _, c := range cons {
		if !IsKnownConsequence(c.Type) {
			out = append(out, types.Violation{
				Kind:    types.ViolationInvalidVariant,
				QuestID: questID,
				Detail:  fmt.Sprintf("quest %s: %s has unknown consequence type %q", questID, owner, c.Type),
			})
		}
	}
	return out
}

// findCycle returns the branches of one requires cycle, or nil
func findCycle(edges map[string][]string) []string {
	const (
		unvisited = iota
		inProgress
		done
	)
	state := make(map[string]int)
	var stack []string
	var cycle []string

	var visit func(n string) bool
	visit = func(n string) bool {
		state[n] = inProgress
		stack = append(stack, n)
		for _, next := range edges[n] {
			switch state[next] {
			case inProgress:
				for i, s := range stack {
					if s == next {
						cycle = append([]string(nil), stack[i:]...)
						break
					}
				}
				return true
			case unvisited:
				if visit(next) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[n] = done
		return false
	}

	for _, n := range sortedKeys(edges) {
		if state[n] == unvisited && visit(n) {
			return cycle
		}
	}
	return nil
}

// CheckQuestState runs the dynamic invariants of one quest against a state
func CheckQuestState(q *types.Quest, s *types.NarrativeSessionState) []types.Violation {
	var out []types.Violation
	active := s.ActiveBranches

	for _, rel := range q.Relationships {
		switch rel.Type {
		case types.RelationExclusiveWith:
			if active[rel.From] && active[rel.To] {
				out = append(out, types.Violation{
					Kind:     types.ViolationExclusive,
					QuestID:  q.ID,
					Branches: []string{rel.From, rel.To},
					Detail:   fmt.Sprintf("%s and %s are exclusive but both active", rel.From, rel.To),
				})
			}
		case types.RelationRequires:
			if active[rel.From] && !active[rel.To] {
				out = append(out, types.Violation{
					Kind:     types.ViolationRequires,
					QuestID:  q.ID,
					Branches: []string{rel.From, rel.To},
					Detail:   fmt.Sprintf("%s is active but requires inactive %s", rel.From, rel.To),
				})
			}
		}
	}

	for _, path := range q.CriticalPaths {
		for j, later := range path.Branches {
			if !active[later] {
				continue
			}
			for _, earlier := range path.Branches[:j] {
				if s.ActivatedBranches[earlier] && !s.LockedBranches[earlier] {
					continue
				}
				out = append(out, types.Violation{
					Kind:     types.ViolationCriticalPath,
					QuestID:  q.ID,
					Branches: []string{earlier, later},
					Detail:   fmt.Sprintf("critical path %s: %s is active before %s was unlocked", path.ID, later, earlier),
				})
			}
		}
	}
	return out
}

// CheckSession runs the dynamic invariants for every quest with an active branch
func CheckSession(reg *Registry, s *types.NarrativeSessionState) []types.Violation {
	quests := make(map[string]bool)
	for branchID, on := range s.ActiveBranches {
		if !on {
			continue
		}
		if _, q, ok := reg.Branch(branchID); ok {
			quests[q.ID] = true
		}
	}

	var out []types.Violation
	for _, questID := range sortedKeys(quests) {
		q, _ := reg.Quest(questID)
		out = append(out, CheckQuestState(q, s)...)
	}
	return out
}

// NewCoherenceValidator returns the store validator that refuses any draft
// breaking the dynamic invariants
func NewCoherenceValidator(reg *Registry) Validator {
	return func(draft *types.NarrativeSessionState) error {
		violations := CheckSession(reg, draft)
		if len(violations) == 0 {
			return nil
		}
		return coherenceError(violations)
	}
}

func coherenceError(violations []types.Violation) *Error {
	seen := make(map[string]bool)
	var conflicts, reasons []string
	for _, v := range violations {
		reasons = append(reasons, v.Detail)
		for _, b := range v.Branches {
			if !seen[b] {
				seen[b] = true
				conflicts = append(conflicts, b)
			}
		}
	}
	sort.Strings(conflicts)
	return &Error{
		Code:      CodeNarrativeCoherence,
		Message:   "narrative graph would become incoherent",
		Reasons:   reasons,
		Conflicts: conflicts,
	}
}
