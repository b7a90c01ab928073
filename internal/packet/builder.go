// Package packet assembles overlap-checked, budget-bounded context packets from content
// sections.
package packet

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/raphaelgruber/brieflow/internal/models"
)

// Link reasons.
const (
	ReasonSharedClaim   = "shared_claim"
	ReasonDuplicateBody = "duplicate_body"
)

var (
	// ErrValidation indicates an invalid section.
	ErrValidation = errors.New("validation error")

	// ErrDuplicateSection indicates a section ID that is already present.
	ErrDuplicateSection = errors.New("duplicate section id")
)

// CostFunc estimates the token cost of a section.
type CostFunc func(models.SectionNode) int

// WordCount costs a section by the number of words in its summary.
func WordCount(n models.SectionNode) int {
	return len(strings.Fields(n.Summary))
}

// Builder holds the section set of a document object map. It is safe for concurrent use
// and can build any number of packets.
type Builder struct {
	cost       CostFunc
	dedupe     bool
	mu         sync.RWMutex
	sections   []models.SectionNode
	sectionIDs map[string]struct{}
}

// Option customizes a Builder.
type Option func(*Builder)

// WithCostFunc replaces the word-count cost estimate.
func WithCostFunc(fn CostFunc) Option {
	return func(b *Builder) {
		if fn != nil {
			b.cost = fn
		}
	}
}

// WithDedupe leaves the later section of every duplicate pair out of the selection.
func WithDedupe() Option {
	return func(b *Builder) { b.dedupe = true }
}

// NewBuilder creates an empty builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		cost:       WordCount,
		sectionIDs: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddSection inserts a section, rejecting an empty or duplicate section ID.
func (b *Builder) AddSection(node models.SectionNode) error {
	if strings.TrimSpace(node.SectionID) == "" {
		return fmt.Errorf("%w: section id is required", ErrValidation)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.sectionIDs[node.SectionID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSection, node.SectionID)
	}
	b.sectionIDs[node.SectionID] = struct{}{}
	b.sections = append(b.sections, node.Clone())
	return nil
}

// Len returns the number of sections.
func (b *Builder) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sections)
}

// Build detects overlap, links sections sharing a claim and selects sections in insertion
// order until the next one would exceed tokenBudget. Sections are never split, so a budget
// below the first section's cost yields no sections.
func (b *Builder) Build(tokenBudget int) models.ContextPacket {
	b.mu.RLock()
	sections := make([]models.SectionNode, len(b.sections))
	for i, s := range b.sections {
		sections[i] = s.Clone()
	}
	b.mu.RUnlock()

	links, pairs := analyze(sections)
	packet := models.ContextPacket{
		Sections: []models.SectionSummary{},
		Links:    links,
		OverlapReport: models.OverlapReport{
			HasOverlap:     len(pairs) > 0,
			DuplicatePairs: pairs,
		},
		TokenBudget: tokenBudget,
	}

	skip := make(map[string]struct{})
	if b.dedupe {
		for _, p := range pairs {
			skip[p.SecondID] = struct{}{}
		}
	}

	for _, s := range sections {
		if _, ok := skip[s.SectionID]; ok {
			continue
		}
		cost := max(b.cost(s), 0)
		if packet.TokensUsed+cost > tokenBudget {
			break
		}
		packet.TokensUsed += cost
		packet.Sections = append(packet.Sections, models.SectionSummary{
			SectionID: s.SectionID,
			ClaimID:   s.ClaimID,
			TheoryID:  s.TheoryID,
			Title:     s.Title,
			Summary:   s.Summary,
			Tags:      s.Tags,
			Tokens:    cost,
		})
	}
	return packet
}

// analyze groups sections by claim and compares every pair within a group. Each pair yields
// a link in both directions; pairs whose trimmed bodies match are reported as duplicates.
// Sections without a claim join no group.
func analyze(sections []models.SectionNode) ([]models.Link, []models.DuplicatePair) {
	var claims []string
	groups := make(map[string][]models.SectionNode)
	for _, s := range sections {
		if s.ClaimID == "" {
			continue
		}
		if _, ok := groups[s.ClaimID]; !ok {
			claims = append(claims, s.ClaimID)
		}
		groups[s.ClaimID] = append(groups[s.ClaimID], s)
	}

	links := []models.Link{}
	pairs := []models.DuplicatePair{}
	for _, claim := range claims {
		group := groups[claim]
		for i := range group {
			for j := i + 1; j < len(group); j++ {
				a, c := group[i], group[j]
				reason := ReasonSharedClaim
				if strings.TrimSpace(a.Body) == strings.TrimSpace(c.Body) {
					reason = ReasonDuplicateBody
					pairs = append(pairs, models.DuplicatePair{ClaimID: claim, FirstID: a.SectionID, SecondID: c.SectionID})
				}
				links = append(links,
					models.Link{FromSectionID: a.SectionID, ToSectionID: c.SectionID, Reason: reason},
					models.Link{FromSectionID: c.SectionID, ToSectionID: a.SectionID, Reason: reason},
				)
			}
		}
	}
	return links, pairs
}

// SectionsFromValue decodes sections from a JSON-like value, such as the "sections" entry a
// phase wrote into the global context. Unknown shapes return an error.
func SectionsFromValue(v any) ([]models.SectionNode, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []models.SectionNode:
		return slices.Clone(t), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode sections: %w", err)
	}
	var nodes []models.SectionNode
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("decode sections: %w", err)
	}
	return nodes, nil
}

// AsContext converts a packet into a JSON-like map suitable for a phase's global context.
func AsContext(p models.ContextPacket) (map[string]any, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode packet: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode packet: %w", err)
	}
	return out, nil
}
