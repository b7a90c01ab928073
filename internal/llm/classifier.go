package llm

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/raphaelgruber/brieflow/internal/models"
)

// maxEvidenceChars bounds how much of an item is shown to the model.
const maxEvidenceChars = 6000

const classifySystemPrompt = `You classify evidence uploaded to a legal case.
Respond with a single JSON object: {"evidence_class": "primary"|"secondary"|"unknown",
"evidence_type": "<snake_case label such as medical_record, police_report, email, contract>",
"confidence": <number between 0 and 1>}.
Primary evidence directly proves a fact in dispute; secondary evidence supports or references it.`

// Classifier classifies evidence content with a language model.
type Classifier struct {
	gen Generator
}

// NewClassifier creates an evidence classifier backed by gen.
func NewClassifier(gen Generator) *Classifier {
	return &Classifier{gen: gen}
}

// Classify asks the model for the class, type and confidence of an item.
func (c *Classifier) Classify(ctx context.Context, content []byte, metadata map[string]any) (models.Classification, error) {
	if !utf8.Valid(content) {
		return models.Classification{}, fmt.Errorf("binary content cannot be classified by text model")
	}
	text := truncate(string(content), maxEvidenceChars)
	filename, _ := metadata["filename"].(string)
	caseType, _ := metadata["case_type"].(string)

	userPrompt := fmt.Sprintf("Case type: %s\nFilename: %s\n\nContent:\n%s\n", caseType, filename, text)
	response, err := c.gen.GenerateWithSystem(ctx, classifySystemPrompt, userPrompt)
	if err != nil {
		return models.Classification{}, fmt.Errorf("classify %s: %w", filename, err)
	}

	out, err := decodeObject(response)
	if err != nil {
		return models.Classification{}, fmt.Errorf("classify %s: %w", filename, err)
	}
	class, _ := out["evidence_class"].(string)
	evidenceType, _ := out["evidence_type"].(string)
	confidence, ok := out["confidence"].(float64)
	if !ok {
		return models.Classification{}, fmt.Errorf("classify %s: missing confidence", filename)
	}
	return models.Classification{
		EvidenceClass: models.EvidenceClass(strings.ToLower(class)),
		EvidenceType:  evidenceType,
		Confidence:    confidence,
	}, nil
}
