package packet

import (
	"testing"

	"github.com/raphaelgruber/brieflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuplicateBodiesUnderOneClaim(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.AddSection(models.SectionNode{SectionID: "s1", ClaimID: "negligence", TheoryID: "t1", Body: "The defendant breached a duty.", Summary: "breach"}))
	require.NoError(t, b.AddSection(models.SectionNode{SectionID: "s2", ClaimID: "negligence", TheoryID: "t2", Body: "The defendant breached a duty.", Summary: "breach again"}))

	p := b.Build(100)
	assert.True(t, p.OverlapReport.HasOverlap)
	require.Len(t, p.OverlapReport.DuplicatePairs, 1)
	assert.Equal(t, models.DuplicatePair{ClaimID: "negligence", FirstID: "s1", SecondID: "s2"}, p.OverlapReport.DuplicatePairs[0])
	require.Len(t, p.Links, 2)
	assert.Equal(t, models.Link{FromSectionID: "s1", ToSectionID: "s2", Reason: ReasonDuplicateBody}, p.Links[0])
	assert.Equal(t, models.Link{FromSectionID: "s2", ToSectionID: "s1", Reason: ReasonDuplicateBody}, p.Links[1])
}

func TestBudgetSelectsWholeSectionsInOrder(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.AddSection(models.SectionNode{SectionID: "a", ClaimID: "c1", Summary: "one two three"}))
	require.NoError(t, b.AddSection(models.SectionNode{SectionID: "b", ClaimID: "c2", Summary: "four five six"}))

	p := b.Build(3)
	require.Len(t, p.Sections, 1)
	assert.Equal(t, "a", p.Sections[0].SectionID)
	assert.Equal(t, 3, p.TokensUsed)
	assert.False(t, p.OverlapReport.HasOverlap)
	assert.Empty(t, p.Links)
}

func TestBudgetBoundaries(t *testing.T) {
	tests := []struct {
		name   string
		budget int
		want   []string
	}{
		{"below first section", 2, nil},
		{"zero", 0, nil},
		{"negative", -5, nil},
		{"exact fit for both", 6, []string{"a", "b"}},
		{"stops at first overflow", 5, []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder()
			require.NoError(t, b.AddSection(models.SectionNode{SectionID: "a", Summary: "one two three"}))
			require.NoError(t, b.AddSection(models.SectionNode{SectionID: "b", Summary: "four five six"}))
			require.NoError(t, b.AddSection(models.SectionNode{SectionID: "c", Summary: "seven"}))

			p := b.Build(tt.budget)
			var got []string
			for _, s := range p.Sections {
				got = append(got, s.SectionID)
			}
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, p.TokensUsed, max(tt.budget, 0))
		})
	}
}

func TestUnclaimedSectionsAreNeverDuplicates(t *testing.T) {
	b := NewBuilder(WithDedupe())
	require.NoError(t, b.AddSection(models.SectionNode{SectionID: "u1", Body: "Same text."}))
	require.NoError(t, b.AddSection(models.SectionNode{SectionID: "u2", Body: "Same text."}))
	require.NoError(t, b.AddSection(models.SectionNode{SectionID: "c1", ClaimID: "fraud", Body: "Wired funds.\n"}))
	require.NoError(t, b.AddSection(models.SectionNode{SectionID: "c2", ClaimID: "fraud", Body: "  Wired funds."}))

	p := b.Build(100)
	assert.Equal(t, []models.DuplicatePair{{ClaimID: "fraud", FirstID: "c1", SecondID: "c2"}}, p.OverlapReport.DuplicatePairs)
	require.Len(t, p.Links, 2)
	for _, l := range p.Links {
		assert.NotContains(t, []string{l.FromSectionID, l.ToSectionID}, "u1")
		assert.Equal(t, ReasonDuplicateBody, l.Reason)
	}
	var ids []string
	for _, s := range p.Sections {
		ids = append(ids, s.SectionID)
	}
	assert.Equal(t, []string{"u1", "u2", "c1"}, ids)
}

func TestLinksPerClaimGroup(t *testing.T) {
	b := NewBuilder()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, b.AddSection(models.SectionNode{SectionID: id, ClaimID: "fraud", Body: "body " + id}))
	}
	require.NoError(t, b.AddSection(models.SectionNode{SectionID: "d", ClaimID: "breach", Body: "x"}))
	require.NoError(t, b.AddSection(models.SectionNode{SectionID: "e", Body: "x"}))

	p := b.Build(0)
	// 2 * C(3,2) for the fraud group; singleton and unclaimed sections add nothing.
	assert.Len(t, p.Links, 6)
	assert.False(t, p.OverlapReport.HasOverlap)
	for _, l := range p.Links {
		assert.Equal(t, ReasonSharedClaim, l.Reason)
	}
}

func TestAddSectionRejectsDuplicatesAndEmptyIDs(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.AddSection(models.SectionNode{SectionID: "a"}))
	assert.ErrorIs(t, b.AddSection(models.SectionNode{SectionID: "a"}), ErrDuplicateSection)
	assert.ErrorIs(t, b.AddSection(models.SectionNode{SectionID: "  "}), ErrValidation)
	assert.Equal(t, 1, b.Len())
}

func TestBuilderIsReusable(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.AddSection(models.SectionNode{SectionID: "a", Summary: "one", Tags: []string{"x"}}))
	first := b.Build(10)
	first.Sections[0].Tags[0] = "mutated"

	require.NoError(t, b.AddSection(models.SectionNode{SectionID: "b", Summary: "two"}))
	second := b.Build(10)
	require.Len(t, second.Sections, 2)
	assert.Equal(t, []string{"x"}, second.Sections[0].Tags)
}

func TestCustomCostAndDedupe(t *testing.T) {
	chars := func(n models.SectionNode) int { return len(n.Summary) }
	b := NewBuilder(WithCostFunc(chars), WithDedupe())
	require.NoError(t, b.AddSection(models.SectionNode{SectionID: "a", ClaimID: "c", Body: "same", Summary: "abc"}))
	require.NoError(t, b.AddSection(models.SectionNode{SectionID: "b", ClaimID: "c", Body: " same ", Summary: "de"}))
	require.NoError(t, b.AddSection(models.SectionNode{SectionID: "c", ClaimID: "c", Body: "other", Summary: "f"}))

	p := b.Build(4)
	require.Len(t, p.Sections, 2)
	assert.Equal(t, "a", p.Sections[0].SectionID)
	assert.Equal(t, "c", p.Sections[1].SectionID)
	assert.Equal(t, 4, p.TokensUsed)
	assert.True(t, p.OverlapReport.HasOverlap)
}

func TestSectionsFromValue(t *testing.T) {
	raw := []any{
		map[string]any{"section_id": "s1", "claim_id": "c1", "summary": "hello world", "tags": []any{"a"}},
	}
	nodes, err := SectionsFromValue(raw)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, models.SectionNode{SectionID: "s1", ClaimID: "c1", Summary: "hello world", Tags: []string{"a"}}, nodes[0])

	_, err = SectionsFromValue("not a list")
	assert.Error(t, err)

	nodes, err = SectionsFromValue(nil)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestAsContext(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.AddSection(models.SectionNode{SectionID: "s1", Summary: "one"}))
	m, err := AsContext(b.Build(5))
	require.NoError(t, err)
	assert.Equal(t, float64(1), m["tokens_used"])
	sections, ok := m["sections"].([]any)
	require.True(t, ok)
	assert.Len(t, sections, 1)
}
