package syncer

import (
	"errors"
	"log"
	"path/filepath"

	"github.com/agentfloor/agentfloor/internal/models"
	"github.com/agentfloor/agentfloor/internal/monitor"
)

// maxHealDepth bounds the conflict/not-found self-healing recursion.
const maxHealDepth = 3

// RegistryAPI is the slice of the REST client the syncer needs. *Client
// implements it; tests substitute a fake.
type RegistryAPI interface {
	CreateAgent(req models.CreateAgentRequest) error
	UpdateAgent(id string, req models.UpdateAgentRequest) error
	DeleteAgent(id string) error
	Heartbeat() error
}

type syncedState struct {
	activity     models.Activity
	contextUsage float64
}

// Syncer maintains the local synced set and reconciles it against the
// server on every cycle. Safe for use from the monitor's publish path only;
// it is not internally concurrent.
type Syncer struct {
	api    RegistryAPI
	synced map[string]syncedState
}

// New creates a Syncer over the given API.
func New(api RegistryAPI) *Syncer {
	return &Syncer{
		api:    api,
		synced: make(map[string]syncedState),
	}
}

// SyncAll reconciles the session set with the server: removes agents the
// monitor no longer sees, creates newly discovered ones, updates changed
// ones, and falls back to a heartbeat on an all-quiet cycle.
func (s *Syncer) SyncAll(records []monitor.SessionRecord) {
	present := make(map[string]monitor.SessionRecord, len(records))
	for _, rec := range records {
		present[rec.AgentID] = rec
	}

	calls := 0

	// Remove what disappeared locally.
	for id := range s.synced {
		if _, ok := present[id]; ok {
			continue
		}
		calls++
		if err := s.api.DeleteAgent(id); err != nil && !errors.Is(err, ErrNotFound) {
			log.Printf("[syncer] remove %s: %v", id, err)
			continue
		}
		delete(s.synced, id)
	}

	for id, rec := range present {
		state, ok := s.synced[id]
		if !ok {
			// A done agent is never (re)created; resurrecting it would
			// leave a zombie on the server.
			if rec.Activity == models.ActivityDone {
				continue
			}
			calls++
			s.create(rec, 0)
			continue
		}
		if state.activity == rec.Activity && state.contextUsage == rec.ContextUsage {
			continue
		}
		calls++
		s.update(rec, 0)
	}

	// Nothing to say but agents remain synced: let the server know the
	// client is still alive.
	if calls == 0 && len(s.synced) > 0 {
		if err := s.api.Heartbeat(); err != nil {
			log.Printf("[syncer] heartbeat: %v", err)
		}
	}
}

func (s *Syncer) create(rec monitor.SessionRecord, depth int) {
	if depth >= maxHealDepth {
		log.Printf("[syncer] create %s: giving up after %d attempts", rec.AgentID, depth)
		return
	}

	err := s.api.CreateAgent(models.CreateAgentRequest{
		ID:                rec.AgentID,
		DisplayName:       displayName(rec),
		Activity:          rec.Activity,
		ParentID:          rec.ParentSessionID,
		IsSidechain:       rec.IsSidechain,
		ContextPercentage: rec.ContextUsage,
	})
	switch {
	case err == nil:
		s.synced[rec.AgentID] = syncedState{rec.Activity, rec.ContextUsage}
	case errors.Is(err, ErrConflict):
		// The server already knows this agent (an earlier run created it).
		// Adopt it and push the current tuple instead.
		s.synced[rec.AgentID] = syncedState{}
		s.update(rec, depth+1)
	default:
		log.Printf("[syncer] create %s: %v", rec.AgentID, err)
	}
}

func (s *Syncer) update(rec monitor.SessionRecord, depth int) {
	if depth >= maxHealDepth {
		log.Printf("[syncer] update %s: giving up after %d attempts", rec.AgentID, depth)
		return
	}

	err := s.api.UpdateAgent(rec.AgentID, models.UpdateAgentRequest{
		Activity:          rec.Activity,
		ContextPercentage: rec.ContextUsage,
	})
	switch {
	case err == nil:
		s.synced[rec.AgentID] = syncedState{rec.Activity, rec.ContextUsage}
	case errors.Is(err, ErrNotFound):
		// The server lost it (restart, reap). Recreate unless the agent is
		// already done, in which case it is simply dropped.
		delete(s.synced, rec.AgentID)
		if rec.Activity != models.ActivityDone {
			s.create(rec, depth+1)
		}
	default:
		log.Printf("[syncer] update %s: %v", rec.AgentID, err)
	}
}

// displayName derives the server-side name from the project directory.
func displayName(rec monitor.SessionRecord) string {
	name := filepath.Base(rec.ProjectPath)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = rec.AgentID
	}
	if rec.IsSidechain {
		name += "/sub"
	}
	return name
}
