package models

// REST payloads exchanged between the monitoring client and the server.

// LoginRequest carries the API key for the credential exchange.
type LoginRequest struct {
	APIKey string `json:"apiKey"`
}

// LoginResponse carries the issued bearer token.
type LoginResponse struct {
	Token       string `json:"token"`
	DisplayName string `json:"displayName"`
	ExpiresAt   string `json:"expiresAt"` // ISO-8601
}

// CreateAgentRequest registers a new agent.
type CreateAgentRequest struct {
	ID                string   `json:"id"`
	DisplayName       string   `json:"displayName"`
	Activity          Activity `json:"activity"`
	ParentID          string   `json:"parentId,omitempty"`
	IsSidechain       bool     `json:"isSidechain,omitempty"`
	ContextPercentage float64  `json:"contextPercentage,omitempty"`
	VariantIndex      *int     `json:"variantIndex,omitempty"`
}

// UpdateAgentRequest mutates an existing agent.
type UpdateAgentRequest struct {
	Activity          Activity `json:"activity"`
	ContextPercentage float64  `json:"contextPercentage"`
}

// AgentResponse is the REST representation of a registry agent.
type AgentResponse struct {
	ID                string   `json:"id"`
	DisplayName       string   `json:"displayName"`
	State             State    `json:"state"`
	Activity          Activity `json:"activity"`
	ContextPercentage float64  `json:"contextPercentage"`
	ParentID          string   `json:"parentId,omitempty"`
	IsSidechain       bool     `json:"isSidechain,omitempty"`
	CreatedAt         string   `json:"createdAt"`
	UpdatedAt         string   `json:"updatedAt"`
}

// ErrorResponse is the JSON body of any non-2xx REST response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WebSocket message types, server to client.
const (
	MsgSpawnAgent   = "spawn_agent"
	MsgUpdateAgent  = "update_agent"
	MsgRemoveAgent  = "remove_agent"
	MsgSyncComplete = "sync_complete"
	MsgUserStats    = "user_stats"
)

// WebSocket message types, client to server.
const (
	MsgAck          = "ack"
	MsgAgentRemoved = "agent_removed"
)

// WSMessage is the envelope for every real-time channel message. Exactly
// one payload group is populated, selected by Type.
type WSMessage struct {
	Type string `json:"type"`

	// spawn_agent / update_agent / remove_agent
	ID                string   `json:"id,omitempty"`
	DisplayName       string   `json:"displayName,omitempty"`
	UserName          string   `json:"userName,omitempty"`
	VariantIndex      int      `json:"variantIndex,omitempty"`
	State             State    `json:"state,omitempty"`
	Activity          Activity `json:"activity,omitempty"`
	ParentID          string   `json:"parentId,omitempty"`
	IsSidechain       bool     `json:"isSidechain,omitempty"`
	ContextPercentage float64  `json:"contextPercentage,omitempty"`
	IdleAction        string   `json:"idleAction,omitempty"`

	// sync_complete
	AgentIDs []string `json:"agentIds,omitempty"`

	// user_stats
	Users  []UserStats `json:"users,omitempty"`
	Totals *StatsTotal `json:"totals,omitempty"`

	// ack (client to server)
	Command string `json:"command,omitempty"`
	Success bool   `json:"success,omitempty"`
}

// UserStats summarizes one owner's presence for the stats broadcast.
type UserStats struct {
	Key         string `json:"key"`
	DisplayName string `json:"displayName"`
	Sessions    int    `json:"sessions"`
	Agents      int    `json:"agents"`
}

// StatsTotal aggregates the stats broadcast across all owners.
type StatsTotal struct {
	ActiveUsers int `json:"activeUsers"`
	Agents      int `json:"agents"`
}
