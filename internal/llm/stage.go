package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"unicode/utf8"

	"github.com/raphaelgruber/brieflow/internal/models"
)

// maxContextChars bounds the serialized global context included in a prompt.
const maxContextChars = 12000

var phaseInstructions = map[models.Phase]string{
	models.PhaseIntake:      "Summarize the case: parties, jurisdiction, key dates and the relief sought.",
	models.PhaseResearch:    "Identify the legal claims that fit the facts and list the supporting authorities.",
	models.PhaseOutline:     "Produce an outline of the document. Return it as \"sections\", each with section_id, claim_id, theory_id, title, summary and body.",
	models.PhaseReview:      "Review the outline for gaps, contradictions and duplicated arguments. List concrete issues.",
	models.PhaseDrafting:    "Draft the document from the context packet. Return updated \"sections\" with full bodies.",
	models.PhaseEditing:     "Edit the draft for clarity, tone and consistency. Return the revised \"sections\".",
	models.PhaseCompilation: "Compile the final document text from the edited sections as \"document\".",
}

const stageSystemPrompt = `You are one stage of a legal document production pipeline.
Respond with a single JSON object and nothing else. Include a "summary" string and a
"quality_score" between 0 and 1 rating your confidence in the output. Add any other keys the
instructions ask for.`

// StageWriter runs pipeline phases through a language model. It satisfies the workflow
// stage collaborator contract.
type StageWriter struct {
	gen Generator
}

// NewStageWriter creates a stage collaborator backed by gen.
func NewStageWriter(gen Generator) *StageWriter {
	return &StageWriter{gen: gen}
}

// Execute prompts the model for phase and turns its JSON answer into a phase result.
func (w *StageWriter) Execute(ctx context.Context, phase models.Phase, globalContext map[string]any) (models.PhaseResult, error) {
	instructions, ok := phaseInstructions[phase]
	if !ok {
		return models.PhaseResult{}, fmt.Errorf("no instructions for phase %s", phase)
	}

	contextJSON, err := json.MarshalIndent(promptContext(globalContext), "", "  ")
	if err != nil {
		return models.PhaseResult{}, fmt.Errorf("encode context: %w", err)
	}
	body := string(contextJSON)
	if cut := truncate(body, maxContextChars); len(cut) < len(body) {
		body = cut + "\n... (truncated)"
	}

	userPrompt := fmt.Sprintf("Phase: %s\n\nInstructions:\n%s\n\nContext:\n%s\n", phase, instructions, body)
	response, err := w.gen.GenerateWithSystem(ctx, stageSystemPrompt, userPrompt)
	if err != nil {
		return models.PhaseResult{}, fmt.Errorf("phase %s: %w", phase, err)
	}

	output, err := decodeObject(response)
	if err != nil {
		// Keep free-form answers instead of failing the phase.
		output = map[string]any{"summary": strings.TrimSpace(response)}
	}

	result := models.PhaseResult{
		PhaseID:    phase,
		Status:     models.PhaseStatusCompleted,
		OutputData: map[string]any{string(phase): output},
	}
	if sections, ok := output["sections"]; ok {
		result.OutputData["sections"] = sections
	}
	if q, ok := output["quality_score"].(float64); ok {
		result.QualityScore = &q
	}
	return result, nil
}

// promptContext drops bulky keys the model should not see twice.
func promptContext(gc map[string]any) map[string]any {
	out := maps.Clone(gc)
	if _, ok := out["context_packet"]; ok {
		delete(out, "sections")
	}
	return out
}

var errNoJSON = errors.New("no JSON object in response")

// decodeObject extracts the first JSON object from a model response, tolerating code fences
// and surrounding prose.
func decodeObject(response string) (map[string]any, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start < 0 || end <= start {
		return nil, errNoJSON
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(response[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

// truncate shortens s to at most maxLen bytes without splitting a UTF-8 sequence.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen]
}
