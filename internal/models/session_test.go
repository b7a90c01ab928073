package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextPhase(t *testing.T) {
	tests := []struct {
		name   string
		phase  Phase
		want   Phase
		wantOK bool
	}{
		{"first", PhaseIntake, PhaseResearch, true},
		{"middle", PhaseReview, PhaseDrafting, true},
		{"last", PhaseCompilation, "", false},
		{"unknown", Phase("appendix"), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NextPhase(tt.phase)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("NextPhase(%q) = (%q, %v), want (%q, %v)", tt.phase, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestExpectedPhase(t *testing.T) {
	s := &WorkflowSession{}
	assert.Equal(t, PhaseIntake, s.ExpectedPhase())

	s.CompletedPhases = []Phase{PhaseIntake, PhaseResearch}
	assert.Equal(t, PhaseOutline, s.ExpectedPhase())

	s.CompletedPhases = append([]Phase{}, PhaseSequence...)
	assert.Equal(t, PhaseCompilation, s.ExpectedPhase())
}

func TestMarkFailedKeepsOrderAndSetSemantics(t *testing.T) {
	s := &WorkflowSession{}
	s.MarkFailed(PhaseDrafting)
	s.MarkFailed(PhaseResearch)
	s.MarkFailed(PhaseDrafting)

	assert.Equal(t, []Phase{PhaseResearch, PhaseDrafting}, s.FailedPhases)

	s.ClearFailed(PhaseResearch)
	assert.Equal(t, []Phase{PhaseDrafting}, s.FailedPhases)
}

func TestSessionCloneIsDeep(t *testing.T) {
	score := 0.8
	s := &WorkflowSession{
		SessionID:       "s1",
		CompletedPhases: []Phase{PhaseIntake},
		GlobalContext: map[string]any{
			"facts": map[string]any{"plaintiff": "Ada"},
			"list":  []any{"a", "b"},
		},
		History: []PhaseResult{{PhaseID: PhaseIntake, QualityScore: &score, OutputData: map[string]any{"k": "v"}}},
	}

	c := s.Clone()
	require.Equal(t, s, c)

	c.CompletedPhases[0] = PhaseResearch
	c.GlobalContext["facts"].(map[string]any)["plaintiff"] = "Grace"
	c.GlobalContext["list"].([]any)[0] = "z"
	*c.History[0].QualityScore = 0.1
	c.History[0].OutputData["k"] = "changed"

	assert.Equal(t, PhaseIntake, s.CompletedPhases[0])
	assert.Equal(t, "Ada", s.GlobalContext["facts"].(map[string]any)["plaintiff"])
	assert.Equal(t, "a", s.GlobalContext["list"].([]any)[0])
	assert.Equal(t, 0.8, *s.History[0].QualityScore)
	assert.Equal(t, "v", s.History[0].OutputData["k"])
}
