package parser

import (
	"testing"

	"github.com/raphaelgruber/brieflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const brief = `---
title: Doe v. Acme
type: brief
tags: [draft, negligence]
---
# Doe v. Acme

## Facts
claim_id: c1
summary: Plaintiff slipped on an unmarked wet floor.

On March 3 the plaintiff entered the store.

No warning sign was present.

## Duty of Care
claim: c1
theory: premises
tags: duty

The store owed a duty to invitees.

## Damages
Note: medical bills attached.
`

func TestParseMarkdown(t *testing.T) {
	doc, err := ParseMarkdown(brief)
	require.NoError(t, err)

	assert.Equal(t, "Doe v. Acme", doc.Title)
	assert.Equal(t, "brief", doc.GetFrontmatterString("type"))
	assert.Equal(t, []string{"draft", "negligence"}, doc.GetFrontmatterStringSlice("tags"))
	assert.Empty(t, doc.GetFrontmatterString("missing"))

	require.Len(t, doc.Sections, 4)
	assert.Equal(t, 1, doc.Sections[0].Level)
	assert.Equal(t, "# Doe v. Acme > ## Facts", doc.Sections[1].Path)
}

func TestParseMarkdownWithoutFrontmatter(t *testing.T) {
	doc, err := ParseMarkdown("# Title Only\n\nbody\n")
	require.NoError(t, err)
	assert.Equal(t, "Title Only", doc.Title)
	assert.Empty(t, doc.Frontmatter)
}

func TestParseMarkdownInvalidFrontmatter(t *testing.T) {
	doc, err := ParseMarkdown("---\ntype: [unclosed\n---\n# T\n")
	require.NoError(t, err)
	assert.Empty(t, doc.Frontmatter)
	assert.Equal(t, "T", doc.Title)
}

func TestSectionNodes(t *testing.T) {
	doc, err := ParseMarkdown(brief)
	require.NoError(t, err)

	nodes := doc.SectionNodes(2)
	require.Len(t, nodes, 3)

	assert.Equal(t, models.SectionNode{
		SectionID: "facts",
		ClaimID:   "c1",
		Title:     "Facts",
		Summary:   "Plaintiff slipped on an unmarked wet floor.",
		Body:      "On March 3 the plaintiff entered the store.\n\nNo warning sign was present.",
		Tags:      []string{"draft", "negligence"},
	}, nodes[0])

	assert.Equal(t, "duty-of-care", nodes[1].SectionID)
	assert.Equal(t, "c1", nodes[1].ClaimID)
	assert.Equal(t, "premises", nodes[1].TheoryID)
	assert.Equal(t, []string{"draft", "negligence", "duty"}, nodes[1].Tags)
	assert.Equal(t, "The store owed a duty to invitees.", nodes[1].Summary)

	// Unknown keys end the attribute block and stay in the body.
	assert.Equal(t, "", nodes[2].ClaimID)
	assert.Equal(t, "Note: medical bills attached.", nodes[2].Body)
}

func TestSectionNodesOtherLevel(t *testing.T) {
	doc, err := ParseMarkdown(brief)
	require.NoError(t, err)

	nodes := doc.SectionNodes(1)
	require.Len(t, nodes, 1)
	assert.Equal(t, "doe-v-acme", nodes[0].SectionID)
	assert.Empty(t, doc.SectionNodes(3))
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Facts", "facts"},
		{"Duty of Care", "duty-of-care"},
		{"  Doe v. Acme (2024)  ", "doe-v-acme-2024"},
		{"---", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slugify(tt.in), tt.in)
	}
}
