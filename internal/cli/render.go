package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/agentfloor/agentfloor/internal/models"
	"github.com/agentfloor/agentfloor/internal/monitor"
)

// Adaptive colors matching the viewer palette.
var (
	colorDim    = lipgloss.AdaptiveColor{Light: "242", Dark: "240"}
	colorGreen  = lipgloss.AdaptiveColor{Light: "28", Dark: "40"}
	colorYellow = lipgloss.AdaptiveColor{Light: "136", Dark: "220"}
	colorCyan   = lipgloss.AdaptiveColor{Light: "30", Dark: "45"}
)

var (
	styleHeader  = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	styleWorking = lipgloss.NewStyle().Foreground(colorGreen)
	styleWaiting = lipgloss.NewStyle().Bold(true).Foreground(colorYellow)
	styleQuiet   = lipgloss.NewStyle().Foreground(colorDim)
	styleDetail  = lipgloss.NewStyle().Foreground(colorDim)
)

// TableRenderer prints the session set as a compact table after each
// refresh. Pure presentation: no classification logic lives here.
type TableRenderer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewTableRenderer creates a renderer writing to out.
func NewTableRenderer(out io.Writer) *TableRenderer {
	return &TableRenderer{out: out}
}

// Render implements monitor.Renderer.
func (r *TableRenderer) Render(records []monitor.SessionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sort.Slice(records, func(i, j int) bool {
		if records[i].ProjectPath != records[j].ProjectPath {
			return records[i].ProjectPath < records[j].ProjectPath
		}
		return records[i].AgentID < records[j].AgentID
	})

	width := 100
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 40 {
		width = w
	}

	fmt.Fprintln(r.out, styleHeader.Render(fmt.Sprintf("%-20s %-16s %5s  %s", "PROJECT", "ACTIVITY", "CTX%", "DETAIL")))
	for _, rec := range records {
		name := truncateCell(projectLabel(rec), 20)
		detail := truncateCell(rec.Detail, width-48)
		line := fmt.Sprintf("%-20s %-16s %4.0f%%  %s",
			name, rec.Activity, rec.ContextUsage, styleDetail.Render(detail))
		fmt.Fprintln(r.out, activityStyle(rec.Activity).Render(line))
	}
	fmt.Fprintln(r.out)
}

func projectLabel(rec monitor.SessionRecord) string {
	name := rec.ProjectPath
	if rec.IsSidechain {
		name += " ⇢"
	}
	return name
}

func activityStyle(a models.Activity) lipgloss.Style {
	switch models.DeriveState(a) {
	case models.StateWorking:
		return styleWorking
	case models.StateIdle:
		if a == models.ActivityWaitingInput {
			return styleWaiting
		}
		return styleQuiet
	default:
		return styleQuiet
	}
}

func truncateCell(s string, max int) string {
	if max < 4 || len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
