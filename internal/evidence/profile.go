package evidence

import (
	"slices"
	"strings"

	"github.com/raphaelgruber/brieflow/internal/models"
)

// Case types with built-in classification profiles.
const (
	CasePersonalInjury = "personal_injury"
	CaseEmployment     = "employment"
	CaseContract       = "contract"
	CaseGeneral        = "general"
)

// Profile holds the case-type-specific classification defaults of a queue.
type Profile struct {
	CaseType string `yaml:"case_type" json:"case_type"`
	// Evidence types that always count as primary for this case type.
	PrimaryTypes []string `yaml:"primary_types" json:"primary_types"`
	// Classifications below this confidence are downgraded to unknown.
	MinConfidence float64 `yaml:"min_confidence" json:"min_confidence" validate:"gte=0,lte=1"`
}

// DefaultProfiles returns the built-in profiles keyed by case type.
func DefaultProfiles() map[string]Profile {
	return map[string]Profile{
		CasePersonalInjury: {
			CaseType:      CasePersonalInjury,
			PrimaryTypes:  []string{"medical_record", "police_report", "photograph", "witness_statement"},
			MinConfidence: 0.5,
		},
		CaseEmployment: {
			CaseType:      CaseEmployment,
			PrimaryTypes:  []string{"employment_contract", "email", "performance_review", "termination_letter"},
			MinConfidence: 0.5,
		},
		CaseContract: {
			CaseType:      CaseContract,
			PrimaryTypes:  []string{"contract", "invoice", "correspondence"},
			MinConfidence: 0.5,
		},
		CaseGeneral: {
			CaseType:      CaseGeneral,
			MinConfidence: 0.3,
		},
	}
}

// resolveProfile picks the profile for caseType, falling back to the general profile.
func resolveProfile(profiles map[string]Profile, caseType string) Profile {
	caseType = strings.ToLower(strings.TrimSpace(caseType))
	if p, ok := profiles[caseType]; ok {
		if p.CaseType == "" {
			p.CaseType = caseType
		}
		return p
	}
	if p, ok := profiles[CaseGeneral]; ok {
		p.CaseType = CaseGeneral
		return p
	}
	return Profile{CaseType: CaseGeneral}
}

// Apply adjusts a raw classification to the profile.
func (p Profile) Apply(c models.Classification) models.Classification {
	c.Confidence = min(max(c.Confidence, 0), 1)
	c.EvidenceType = strings.ToLower(strings.TrimSpace(c.EvidenceType))
	if c.EvidenceType == "" {
		c.EvidenceType = "unknown"
	}
	if slices.Contains(p.PrimaryTypes, c.EvidenceType) {
		c.EvidenceClass = models.EvidencePrimary
	}
	switch c.EvidenceClass {
	case models.EvidencePrimary, models.EvidenceSecondary:
	default:
		c.EvidenceClass = models.EvidenceUnknown
	}
	if c.Confidence < p.MinConfidence {
		c.EvidenceClass = models.EvidenceUnknown
	}
	return c
}
