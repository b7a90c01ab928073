package models

import "slices"

// SectionNode is one content section of a document object map.
type SectionNode struct {
	SectionID string   `json:"section_id" yaml:"section_id"`
	ClaimID   string   `json:"claim_id" yaml:"claim_id"`
	TheoryID  string   `json:"theory_id,omitempty" yaml:"theory_id"`
	Title     string   `json:"title" yaml:"title"`
	Body      string   `json:"body" yaml:"body"`
	Summary   string   `json:"summary" yaml:"summary"`
	Tags      []string `json:"tags,omitempty" yaml:"tags"`
}

// Clone returns a copy with its own tag slice.
func (n SectionNode) Clone() SectionNode {
	n.Tags = slices.Clone(n.Tags)
	return n
}

// SectionSummary is the packet view of a section: everything but the body.
type SectionSummary struct {
	SectionID string   `json:"section_id"`
	ClaimID   string   `json:"claim_id"`
	TheoryID  string   `json:"theory_id,omitempty"`
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	Tags      []string `json:"tags,omitempty"`
	Tokens    int      `json:"tokens"`
}

// Link is a directed relation between two sections.
type Link struct {
	FromSectionID string `json:"from_section_id"`
	ToSectionID   string `json:"to_section_id"`
	Reason        string `json:"reason"`
}

// DuplicatePair names two sections under the same claim with identical bodies.
type DuplicatePair struct {
	ClaimID  string `json:"claim_id"`
	FirstID  string `json:"first_section_id"`
	SecondID string `json:"second_section_id"`
}

// OverlapReport records duplicate-content detection results.
type OverlapReport struct {
	HasOverlap     bool            `json:"has_overlap"`
	DuplicatePairs []DuplicatePair `json:"duplicate_pairs"`
}

// ContextPacket is a deduplicated, budget-bounded bundle of sections. It is rebuilt per
// request and never stored.
type ContextPacket struct {
	Sections      []SectionSummary `json:"sections"`
	Links         []Link           `json:"links"`
	OverlapReport OverlapReport    `json:"overlap_report"`
	TokenBudget   int              `json:"token_budget"`
	TokensUsed    int              `json:"tokens_used"`
}
