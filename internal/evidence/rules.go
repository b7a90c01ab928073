package evidence

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/raphaelgruber/brieflow/internal/models"
	"github.com/raphaelgruber/brieflow/internal/parser"
)

// keywordRule maps a phrase found in text content to an evidence type.
type keywordRule struct {
	phrase       string
	evidenceType string
	class        models.EvidenceClass
}

var keywordRules = []keywordRule{
	{"police report", "police_report", models.EvidencePrimary},
	{"incident report", "police_report", models.EvidencePrimary},
	{"diagnosis", "medical_record", models.EvidencePrimary},
	{"patient", "medical_record", models.EvidencePrimary},
	{"witness statement", "witness_statement", models.EvidencePrimary},
	{"i declare under penalty", "witness_statement", models.EvidencePrimary},
	{"termination", "termination_letter", models.EvidencePrimary},
	{"performance review", "performance_review", models.EvidencePrimary},
	{"employment agreement", "employment_contract", models.EvidencePrimary},
	{"this agreement", "contract", models.EvidencePrimary},
	{"invoice", "invoice", models.EvidencePrimary},
	{"subject:", "email", models.EvidenceSecondary},
	{"dear ", "correspondence", models.EvidenceSecondary},
}

var extensionTypes = map[string]string{
	".jpg":  "photograph",
	".jpeg": "photograph",
	".png":  "photograph",
	".heic": "photograph",
	".eml":  "email",
	".msg":  "email",
	".mp3":  "audio_recording",
	".wav":  "audio_recording",
	".mp4":  "video_recording",
	".mov":  "video_recording",
}

// RuleClassifier is a deterministic classifier for deployments without a language model.
// It honors a markdown frontmatter "type" (and optional "class"), then file extensions,
// then keyword matches in text content.
type RuleClassifier struct{}

// Classify implements Classifier.
func (RuleClassifier) Classify(ctx context.Context, content []byte, metadata map[string]any) (models.Classification, error) {
	if err := ctx.Err(); err != nil {
		return models.Classification{}, err
	}
	filename, _ := metadata["filename"].(string)
	ext := strings.ToLower(filepath.Ext(filename))

	if t, ok := extensionTypes[ext]; ok {
		return models.Classification{EvidenceClass: models.EvidencePrimary, EvidenceType: t, Confidence: 0.7}, nil
	}
	if !utf8.Valid(content) {
		return models.Classification{}, fmt.Errorf("unsupported binary content in %q", filename)
	}

	text := string(content)
	if ext == ".md" || strings.HasPrefix(text, "---\n") {
		doc, err := parser.ParseMarkdown(text)
		if err == nil {
			if t := doc.GetFrontmatterString("type"); t != "" {
				class := models.EvidenceClass(strings.ToLower(doc.GetFrontmatterString("class")))
				if class == "" {
					class = models.EvidenceSecondary
				}
				return models.Classification{EvidenceClass: class, EvidenceType: t, Confidence: 0.95}, nil
			}
			text = doc.Title + "\n" + doc.Content
		}
	}

	lower := strings.ToLower(text)
	for _, r := range keywordRules {
		if strings.Contains(lower, r.phrase) {
			return models.Classification{EvidenceClass: r.class, EvidenceType: r.evidenceType, Confidence: 0.6}, nil
		}
	}
	return models.Classification{EvidenceClass: models.EvidenceSecondary, EvidenceType: "document", Confidence: 0.4}, nil
}
