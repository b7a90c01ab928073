// Package parser provides Markdown parsing: frontmatter, titles and heading sections.
package parser

import (
	"bufio"
	"regexp"
	"slices"
	"strings"

	"github.com/raphaelgruber/brieflow/internal/models"
	"gopkg.in/yaml.v3"
)

// MarkdownDoc represents a parsed Markdown document.
type MarkdownDoc struct {
	// Frontmatter metadata (from YAML)
	Frontmatter map[string]any

	// Title extracted from first h1 or frontmatter
	Title string

	// Main content (after frontmatter)
	Content string

	// Structured content by heading
	Sections []Section
}

// Section represents a heading and its content.
type Section struct {
	Level   int    // 1-6 for h1-h6
	Heading string // The heading text
	Path    string // Full path like "## Facts > ### Incident"
	Content string // Content under this heading
	Start   int    // Line number where section starts
	End     int    // Line number where section ends
}

// ParseMarkdown parses a Markdown document into structured form.
func ParseMarkdown(content string) (*MarkdownDoc, error) {
	doc := &MarkdownDoc{
		Frontmatter: make(map[string]any),
	}

	// Parse frontmatter if present
	remaining := content
	if strings.HasPrefix(content, "---\n") {
		endIdx := strings.Index(content[4:], "\n---")
		if endIdx > 0 {
			frontmatterYAML := content[4 : 4+endIdx]
			remaining = strings.TrimPrefix(content[4+endIdx+4:], "\n")

			if err := yaml.Unmarshal([]byte(frontmatterYAML), &doc.Frontmatter); err != nil {
				// Ignore YAML errors, just use empty frontmatter
				doc.Frontmatter = make(map[string]any)
			}
		}
	}

	doc.Content = remaining

	// Extract title
	doc.Title = extractTitle(doc.Frontmatter, remaining)

	// Parse sections
	doc.Sections = parseSections(remaining)

	return doc, nil
}

// extractTitle gets title from frontmatter or first h1.
func extractTitle(fm map[string]any, content string) string {
	// Check frontmatter
	if title, ok := fm["title"].(string); ok && title != "" {
		return title
	}
	if name, ok := fm["name"].(string); ok && name != "" {
		return name
	}

	// Find first h1
	h1Regex := regexp.MustCompile(`(?m)^#\s+(.+)$`)
	if match := h1Regex.FindStringSubmatch(content); len(match) > 1 {
		return strings.TrimSpace(match[1])
	}

	return ""
}

// parseSections extracts sections from Markdown content.
func parseSections(content string) []Section {
	var sections []Section
	headingRegex := regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

	scanner := bufio.NewScanner(strings.NewReader(content))
	lineNum := 0
	var currentPath []string
	var currentLevels []int

	var currentSection *Section
	var contentBuilder strings.Builder

	flushSection := func(endLine int) {
		if currentSection != nil {
			currentSection.Content = strings.TrimSpace(contentBuilder.String())
			currentSection.End = endLine
			sections = append(sections, *currentSection)
			contentBuilder.Reset()
		}
	}

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		if match := headingRegex.FindStringSubmatch(line); len(match) > 0 {
			// Flush previous section
			flushSection(lineNum - 1)

			level := len(match[1])
			heading := strings.TrimSpace(match[2])

			// Update path based on heading level
			for len(currentLevels) > 0 && currentLevels[len(currentLevels)-1] >= level {
				currentPath = currentPath[:len(currentPath)-1]
				currentLevels = currentLevels[:len(currentLevels)-1]
			}
			currentPath = append(currentPath, match[1]+" "+heading)
			currentLevels = append(currentLevels, level)

			currentSection = &Section{
				Level:   level,
				Heading: heading,
				Path:    strings.Join(currentPath, " > "),
				Start:   lineNum,
			}
		} else if currentSection != nil {
			contentBuilder.WriteString(line)
			contentBuilder.WriteString("\n")
		}
	}

	// Flush last section
	flushSection(lineNum)

	return sections
}

// GetFrontmatterString extracts a string from frontmatter.
func (d *MarkdownDoc) GetFrontmatterString(key string) string {
	if v, ok := d.Frontmatter[key].(string); ok {
		return v
	}
	return ""
}

// GetFrontmatterStringSlice extracts a string slice from frontmatter.
func (d *MarkdownDoc) GetFrontmatterStringSlice(key string) []string {
	switch v := d.Frontmatter[key].(type) {
	case []any:
		result := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	case []string:
		return v
	}
	return nil
}

// SectionNodes turns the sections at the given heading level into document sections.
// Leading "key: value" lines set section_id, claim_id, theory_id, summary and tags; the
// remaining text is the body. Without a summary line the first paragraph is used, and
// without a section_id the heading is slugified. Frontmatter tags apply to every section.
func (d *MarkdownDoc) SectionNodes(level int) []models.SectionNode {
	shared := d.GetFrontmatterStringSlice("tags")
	var nodes []models.SectionNode
	for _, s := range d.Sections {
		if s.Level != level {
			continue
		}
		node := models.SectionNode{Title: s.Heading, Tags: slices.Clone(shared)}
		lines := strings.Split(s.Content, "\n")
		i := 0
	attrs:
		for ; i < len(lines); i++ {
			match := attrRegex.FindStringSubmatch(lines[i])
			if match == nil {
				break
			}
			value := strings.TrimSpace(match[2])
			switch strings.ToLower(match[1]) {
			case "section_id", "id":
				node.SectionID = value
			case "claim_id", "claim":
				node.ClaimID = value
			case "theory_id", "theory":
				node.TheoryID = value
			case "summary":
				node.Summary = value
			case "tags":
				for _, tag := range strings.Split(value, ",") {
					if tag = strings.TrimSpace(tag); tag != "" {
						node.Tags = append(node.Tags, tag)
					}
				}
			default:
				break attrs
			}
		}
		node.Body = strings.TrimSpace(strings.Join(lines[i:], "\n"))
		if node.Summary == "" {
			node.Summary, _, _ = strings.Cut(node.Body, "\n\n")
			node.Summary = strings.Join(strings.Fields(node.Summary), " ")
		}
		if node.SectionID == "" {
			node.SectionID = Slugify(s.Heading)
		}
		nodes = append(nodes, node)
	}
	return nodes
}

var (
	attrRegex    = regexp.MustCompile(`^([A-Za-z_]+):\s*(.*)$`)
	nonSlugRegex = regexp.MustCompile(`[^a-z0-9]+`)
)

// Slugify lowercases s and replaces runs of non-alphanumerics with a dash.
func Slugify(s string) string {
	return strings.Trim(nonSlugRegex.ReplaceAllString(strings.ToLower(s), "-"), "-")
}
