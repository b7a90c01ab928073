package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/raphaelgruber/brieflow/internal/models"
	"github.com/raphaelgruber/brieflow/internal/packet"
	"github.com/raphaelgruber/brieflow/internal/parser"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	packetBudget int
	packetLevel  int
	packetDedupe bool
)

var packetCmd = &cobra.Command{
	Use:   "packet",
	Short: "Build context packets from document sections",
}

var packetBuildCmd = &cobra.Command{
	Use:   "build <file>",
	Short: "Build a context packet within a token budget",
	Long: `Build a context packet from a sections file within a token budget.

The file is either Markdown, where every heading of --level becomes a section,
or a YAML/JSON list of sections with section_id, claim_id, theory_id, title,
summary, body and tags. Sections sharing a claim are linked and duplicate
bodies are reported.

Examples:
  brieflow packet build outline.md --budget 500
  brieflow packet build sections.yaml --budget 2000 --dedupe --json`,
	Args: cobra.ExactArgs(1),
	RunE: runPacketBuild,
}

func init() {
	packetBuildCmd.Flags().IntVarP(&packetBudget, "budget", "b", 2000, "token budget")
	packetBuildCmd.Flags().IntVarP(&packetLevel, "level", "l", 2, "Markdown heading level of sections")
	packetBuildCmd.Flags().BoolVar(&packetDedupe, "dedupe", false, "leave out the second section of each duplicate pair")

	packetCmd.AddCommand(packetBuildCmd)
}

func runPacketBuild(cmd *cobra.Command, args []string) error {
	sections, err := readSections(args[0], packetLevel)
	if err != nil {
		return err
	}

	var opts []packet.Option
	if packetDedupe {
		opts = append(opts, packet.WithDedupe())
	}
	b := packet.NewBuilder(opts...)
	for _, s := range sections {
		if err := b.AddSection(s); err != nil {
			return fmt.Errorf("add section: %w", err)
		}
	}
	p := b.Build(packetBudget)

	if jsonOutput {
		return printJSON(cmd, p)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Packet: %d of %d sections, %d tokens (budget %d)\n",
		len(p.Sections), len(sections), p.TokensUsed, p.TokenBudget)
	for _, s := range p.Sections {
		fmt.Fprintf(out, "  - %s [%s] %s (%d)\n", s.SectionID, s.ClaimID, s.Title, s.Tokens)
	}
	if len(p.Links) > 0 {
		fmt.Fprintf(out, "Links: %d\n", len(p.Links))
	}
	if p.OverlapReport.HasOverlap {
		fmt.Fprintln(out, "Duplicate bodies:")
		for _, d := range p.OverlapReport.DuplicatePairs {
			fmt.Fprintf(out, "  - %s = %s (claim %s)\n", d.FirstID, d.SecondID, d.ClaimID)
		}
	}
	return nil
}

// readSections loads section nodes from a Markdown or YAML/JSON file.
func readSections(path string, level int) ([]models.SectionNode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sections: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		doc, err := parser.ParseMarkdown(string(data))
		if err != nil {
			return nil, fmt.Errorf("parse markdown: %w", err)
		}
		return doc.SectionNodes(level), nil
	default:
		var sections []models.SectionNode
		if err := yaml.Unmarshal(data, &sections); err != nil {
			return nil, fmt.Errorf("parse sections: %w", err)
		}
		return sections, nil
	}
}
