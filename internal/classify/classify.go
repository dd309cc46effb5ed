// Package classify derives a session's current activity from a window of
// its most recent log records.
package classify

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/agentfloor/agentfloor/internal/models"
)

// Thresholds are the staleness and abandonment knobs. They are hand-tuned;
// override individual fields in tests rather than re-deriving values.
type Thresholds struct {
	// Stale is how long after the last file modification an in-flight
	// activity is downgraded to done/idle.
	Stale time.Duration
	// Abandoned is how long a waiting_input state persists before the
	// session is considered walked away from.
	Abandoned time.Duration
}

// DefaultThresholds returns the production staleness knobs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Stale:     30 * time.Second,
		Abandoned: 30 * time.Minute,
	}
}

// ActivityInfo is the classifier's result: the discrete activity plus an
// optional human-readable detail and the tool that produced it.
type ActivityInfo struct {
	Type     models.Activity
	Detail   string
	ToolName string
}

// Tools that suspend the session until the user answers.
var waitsForUser = map[string]bool{
	"AskUserQuestion": true,
	"ExitPlanMode":    true,
}

// toolActivity maps tool names to canonical activities. Unmapped tools
// classify as thinking.
var toolActivity = map[string]models.Activity{
	"Read":         models.ActivityReading,
	"NotebookRead": models.ActivityReading,
	"WebFetch":     models.ActivityReading,
	"Edit":         models.ActivityWriting,
	"MultiEdit":    models.ActivityWriting,
	"Write":        models.ActivityWriting,
	"NotebookEdit": models.ActivityWriting,
	"Bash":         models.ActivityRunningCmd,
	"Task":         models.ActivitySpawningAgent,
	"Glob":         models.ActivitySearching,
	"Grep":         models.ActivitySearching,
	"WebSearch":    models.ActivitySearching,
}

// Classifier turns record windows into activities.
type Classifier struct {
	thresholds Thresholds
	now        func() time.Time
}

// New creates a Classifier with the given thresholds.
func New(thresholds Thresholds) *Classifier {
	return &Classifier{thresholds: thresholds, now: time.Now}
}

// SetNow overrides the clock. Tests only.
func (c *Classifier) SetNow(now func() time.Time) {
	c.now = now
}

// Classify derives the current activity from the record window, the file's
// last modification time, and whether a liveness hint (a pid) is present.
// Records are ordered oldest first.
func (c *Classifier) Classify(records []models.LogRecord, lastModifiedAt time.Time, hasLivenessHint bool) ActivityInfo {
	if len(records) == 0 {
		return ActivityInfo{Type: models.ActivityIdle}
	}

	stale := c.now().Sub(lastModifiedAt) > c.thresholds.Stale

	// A trailing user-authored message means the agent is about to respond.
	last := records[len(records)-1]
	if last.IsUserMessage() {
		if stale {
			return ActivityInfo{Type: c.inactiveFallback(hasLivenessHint)}
		}
		return ActivityInfo{Type: models.ActivityThinking}
	}

	// Newest tool invocation wins; scan backwards.
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]

		if tool := rec.ToolUse(); tool != nil {
			if waitsForUser[tool.Name] {
				if answered(records[i+1:]) {
					continue
				}
				if c.now().Sub(lastModifiedAt) > c.thresholds.Abandoned {
					return ActivityInfo{Type: models.ActivityDone, ToolName: tool.Name}
				}
				return ActivityInfo{
					Type:     models.ActivityWaitingInput,
					Detail:   toolDetail(tool),
					ToolName: tool.Name,
				}
			}

			activity, ok := toolActivity[tool.Name]
			if !ok {
				activity = models.ActivityThinking
			}
			if stale {
				return ActivityInfo{Type: c.inactiveFallback(hasLivenessHint), ToolName: tool.Name}
			}
			return ActivityInfo{
				Type:     activity,
				Detail:   toolDetail(tool),
				ToolName: tool.Name,
			}
		}

		// Assistant text with no later tool call: the turn is finished.
		if rec.Type == models.RecordTypeAssistant && rec.TextContent() != "" {
			return ActivityInfo{Type: c.inactiveFallback(hasLivenessHint)}
		}
	}

	return ActivityInfo{Type: models.ActivityIdle}
}

// answered reports whether any user-authored reply appears in the records
// after a waits-for-user tool call.
func answered(later []models.LogRecord) bool {
	for _, rec := range later {
		if rec.IsUserMessage() {
			return true
		}
	}
	return false
}

func (c *Classifier) inactiveFallback(hasLivenessHint bool) models.Activity {
	if hasLivenessHint {
		return models.ActivityDone
	}
	return models.ActivityIdle
}

// IsSidechain reports whether the record window belongs to a sub-agent:
// either a record carries the sidechain flag, or the log's own session id
// differs from the id the file is named for.
func IsSidechain(records []models.LogRecord, fileSessionID string) bool {
	for _, rec := range records {
		if rec.IsSidechain {
			return true
		}
		if rec.SessionID != "" && fileSessionID != "" && rec.SessionID != fileSessionID {
			return true
		}
	}
	return false
}

// toolDetail extracts a short human-readable summary of a tool invocation.
const detailMax = 50

func toolDetail(tool *models.ContentBlock) string {
	var input struct {
		FilePath    string `json:"file_path"`
		Command     string `json:"command"`
		Pattern     string `json:"pattern"`
		Description string `json:"description"`
		URL         string `json:"url"`
		Query       string `json:"query"`
		Questions   []struct {
			Question string `json:"question"`
		} `json:"questions"`
	}
	if len(tool.Input) > 0 {
		if err := json.Unmarshal(tool.Input, &input); err != nil {
			return ""
		}
	}

	switch tool.Name {
	case "Read", "NotebookRead", "Edit", "MultiEdit", "Write", "NotebookEdit":
		return input.FilePath
	case "Bash":
		// Shell commands can embed secrets; only the short description is
		// safe to surface.
		return truncate(strings.ReplaceAll(input.Description, "\n", " "), detailMax)
	case "Glob", "Grep":
		return input.Pattern
	case "WebSearch":
		return input.Query
	case "Task":
		return input.Description
	case "WebFetch":
		return input.URL
	case "AskUserQuestion":
		if len(input.Questions) > 0 {
			return truncate(input.Questions[0].Question, detailMax)
		}
	}
	return ""
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
