package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/brieflow/internal/models"
	"golang.org/x/term"
)

const pollInterval = 200 * time.Millisecond

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

// Style functions for dynamic theming
func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// StatusFunc reads the current state of an evidence queue.
type StatusFunc func() models.QueueStatus

// tickMsg triggers polling the queue status
type tickMsg time.Time

// progressModel is the bubbletea model for evidence classification progress.
type progressModel struct {
	fetch    StatusFunc
	status   models.QueueStatus
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
}

// newProgressModel creates a new progress model.
func newProgressModel(fetch StatusFunc) progressModel {
	// Create progress bar with color blend
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		fetch:    fetch,
		status:   fetch(),
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init returns the initial command (start polling).
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		m.status = m.fetch()
		if m.status.Pending() == 0 {
			m.done = true
			return m, tea.Quit
		}
		return m, tickCmd()

	case progress.FrameMsg:
		// Update progress bar animation
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m progressModel) renderContent() string {
	if m.done || m.quitting {
		return m.finalView()
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%d processing]", m.status.Processing))
	progressBar := m.progress.ViewAs(fraction(m.status))
	counts := fmt.Sprintf("%d/%d files", m.status.Total-m.status.Pending(), m.status.Total)
	hint := m.theme.hintStyle().Render("Press Ctrl+C to stop waiting (unfinished items resume next run)")

	return fmt.Sprintf("%s %s %s\n%s\n", status, progressBar, counts, hint)
}

// finalView renders the completion message.
func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\n%d items still pending for case %s.\nUse 'brieflow evidence status %s' to check later.\n",
			m.status.Pending(), m.status.CaseID, m.status.CaseID)
		return m.theme.hintStyle().Render(msg)
	}
	return renderQueueResult(m.theme, m.status)
}

// renderQueueResult formats a finished queue for both the interactive and plain output.
func renderQueueResult(theme Theme, s models.QueueStatus) string {
	var b strings.Builder
	b.WriteString(theme.completedStyle().Render("✓ Classified") + "\n\n")
	fmt.Fprintf(&b, "  Completed:          %d\n", s.Completed)
	if s.ErrorCount > 0 {
		b.WriteString(theme.errorStyle().Render(fmt.Sprintf("  Errors:             %d", s.ErrorCount)) + "\n")
	}
	if s.Cancelled > 0 {
		fmt.Fprintf(&b, "  Cancelled:          %d\n", s.Cancelled)
	}
	fmt.Fprintf(&b, "  Primary evidence:   %.0f%%\n", s.PrimaryPercentage)
	fmt.Fprintf(&b, "  Average confidence: %.2f\n", s.AverageConfidence)
	return b.String()
}

func fraction(s models.QueueStatus) float64 {
	if s.Total == 0 {
		return 1
	}
	return float64(s.Total-s.Pending()) / float64(s.Total)
}

// tickCmd returns a command that sends a tick after the poll interval.
func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// RunQueueProgress shows classification progress until the queue has no pending items.
// On a terminal it runs the interactive UI; otherwise it polls and prints one summary.
// Returns true when the user stopped waiting early.
func RunQueueProgress(out io.Writer, fetch StatusFunc, wait func() error) (bool, error) {
	if f, ok := out.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		if err := wait(); err != nil {
			return false, err
		}
		fmt.Fprint(out, renderQueueResult(defaultTheme, fetch()))
		return false, nil
	}

	p := tea.NewProgram(newProgressModel(fetch))
	finalModel, err := p.Run()
	if err != nil {
		return false, fmt.Errorf("progress UI error: %w", err)
	}
	if m, ok := finalModel.(progressModel); ok && m.quitting {
		return true, nil
	}
	return false, nil
}
