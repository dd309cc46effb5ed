package monitor

import (
	"time"

	"github.com/agentfloor/agentfloor/internal/models"
)

// contextLimit is the assumed model context window, used to express token
// usage as a percentage.
const contextLimit = 200_000

// SessionRecord is the client-side view of one live session or sub-agent.
type SessionRecord struct {
	AgentID         string
	ParentSessionID string // set only for sidechains
	ProjectPath     string
	IsSidechain     bool
	PID             int // liveness hint, 0 if unknown
	Activity        models.Activity
	Detail          string
	ToolName        string
	ContextUsage    float64 // percent of the context window consumed
	LastUpdate      time.Time
}

// contextUsage computes the context percentage from the newest usage
// counters in the record window.
func contextUsage(records []models.LogRecord) float64 {
	for i := len(records) - 1; i >= 0; i-- {
		msg := records[i].Message
		if msg == nil || msg.Usage == nil {
			continue
		}
		u := msg.Usage
		used := u.InputTokens + u.CacheReadTokens + u.CacheCreationTokens
		pct := float64(used) / contextLimit * 100
		if pct > 100 {
			pct = 100
		}
		return pct
	}
	return 0
}
