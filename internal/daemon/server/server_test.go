package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentfloor/agentfloor/internal/config"
	"github.com/agentfloor/agentfloor/internal/models"
)

func startServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.NewStore(config.ServerConfig{
		Users: []config.UserConfig{
			{Key: "alice-key", DisplayName: "Alice"},
			{Key: "bob-key", DisplayName: "Bob"},
		},
		TokenExpirySeconds:       3600,
		InactivityTimeoutSeconds: 300,
	})
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go func() { _ = srv.Serve() }()
	t.Cleanup(srv.Stop)
	return srv
}

func doJSON(t *testing.T, method, url, token string, body, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func login(t *testing.T, base, apiKey string) string {
	t.Helper()
	var resp models.LoginResponse
	code := doJSON(t, http.MethodPost, base+"/api/login", "", models.LoginRequest{APIKey: apiKey}, &resp)
	if code != http.StatusOK {
		t.Fatalf("login = %d, want 200", code)
	}
	if resp.Token == "" {
		t.Fatal("login returned an empty token")
	}
	return resp.Token
}

func TestLoginRejectsUnknownKey(t *testing.T) {
	srv := startServer(t)
	base := fmt.Sprintf("http://127.0.0.1:%d", srv.HTTPPort())

	code := doJSON(t, http.MethodPost, base+"/api/login", "",
		models.LoginRequest{APIKey: "nope"}, nil)
	if code != http.StatusUnauthorized {
		t.Fatalf("login with unknown key = %d, want 401", code)
	}
}

func TestRequestsWithoutTokenRejected(t *testing.T) {
	srv := startServer(t)
	base := fmt.Sprintf("http://127.0.0.1:%d", srv.HTTPPort())

	code := doJSON(t, http.MethodGet, base+"/api/agents", "", nil, nil)
	if code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list = %d, want 401", code)
	}
}

func TestAgentLifecycle(t *testing.T) {
	srv := startServer(t)
	base := fmt.Sprintf("http://127.0.0.1:%d", srv.HTTPPort())
	alice := login(t, base, "alice-key")
	bob := login(t, base, "bob-key")

	create := models.CreateAgentRequest{
		ID: "a1", DisplayName: "widget", Activity: models.ActivityWriting,
	}
	var created models.AgentResponse
	if code := doJSON(t, http.MethodPost, base+"/api/agents", alice, create, &created); code != http.StatusCreated {
		t.Fatalf("create = %d, want 201", code)
	}
	if created.State != models.StateWorking {
		t.Errorf("created state = %q, want WORKING", created.State)
	}

	if code := doJSON(t, http.MethodPost, base+"/api/agents", alice, create, nil); code != http.StatusConflict {
		t.Fatalf("duplicate create = %d, want 409", code)
	}

	// Ownership: Bob can neither read nor mutate Alice's agent.
	if code := doJSON(t, http.MethodGet, base+"/api/agents/a1", bob, nil, nil); code != http.StatusForbidden {
		t.Errorf("cross-owner get = %d, want 403", code)
	}
	update := models.UpdateAgentRequest{Activity: models.ActivityDone, ContextPercentage: 80}
	if code := doJSON(t, http.MethodPut, base+"/api/agents/a1", bob, update, nil); code != http.StatusForbidden {
		t.Errorf("cross-owner update = %d, want 403", code)
	}
	if code := doJSON(t, http.MethodDelete, base+"/api/agents/a1", bob, nil, nil); code != http.StatusForbidden {
		t.Errorf("cross-owner delete = %d, want 403", code)
	}

	var updated models.AgentResponse
	if code := doJSON(t, http.MethodPut, base+"/api/agents/a1", alice, update, &updated); code != http.StatusOK {
		t.Fatalf("update = %d, want 200", code)
	}
	if updated.Activity != models.ActivityDone || updated.State != models.StateIdle {
		t.Errorf("updated = %s/%s, want done/IDLE", updated.Activity, updated.State)
	}

	var listed []models.AgentResponse
	if code := doJSON(t, http.MethodGet, base+"/api/agents", alice, nil, &listed); code != http.StatusOK {
		t.Fatalf("list = %d, want 200", code)
	}
	if len(listed) != 1 || listed[0].ID != "a1" {
		t.Fatalf("list = %+v, want exactly a1", listed)
	}
	var bobListed []models.AgentResponse
	doJSON(t, http.MethodGet, base+"/api/agents", bob, nil, &bobListed)
	if len(bobListed) != 0 {
		t.Errorf("bob's list includes foreign agents: %+v", bobListed)
	}

	if code := doJSON(t, http.MethodPut, base+"/api/agents/ghost", alice, update, nil); code != http.StatusNotFound {
		t.Errorf("update of unknown id = %d, want 404", code)
	}

	if code := doJSON(t, http.MethodDelete, base+"/api/agents/a1", alice, nil, nil); code != http.StatusOK {
		t.Fatalf("delete = %d, want 200", code)
	}
	if code := doJSON(t, http.MethodDelete, base+"/api/agents/a1", alice, nil, nil); code != http.StatusNotFound {
		t.Fatalf("second delete = %d, want 404", code)
	}
}

func TestHeartbeat(t *testing.T) {
	srv := startServer(t)
	base := fmt.Sprintf("http://127.0.0.1:%d", srv.HTTPPort())
	alice := login(t, base, "alice-key")

	if code := doJSON(t, http.MethodPost, base+"/api/heartbeat", alice, nil, nil); code != http.StatusOK {
		t.Fatalf("heartbeat = %d, want 200", code)
	}
}

// nextMessage reads the next non-stats message. Stats broadcasts interleave
// freely with the event stream and are not what these tests assert on.
func nextMessage(t *testing.T, conn *websocket.Conn) models.WSMessage {
	t.Helper()
	for {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var msg models.WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read ws message: %v", err)
		}
		if msg.Type == models.MsgUserStats {
			continue
		}
		return msg
	}
}

func TestViewerOnboardingAndLiveEvents(t *testing.T) {
	srv := startServer(t)
	base := fmt.Sprintf("http://127.0.0.1:%d", srv.HTTPPort())
	alice := login(t, base, "alice-key")

	for _, id := range []string{"a1", "a2"} {
		req := models.CreateAgentRequest{ID: id, DisplayName: id, Activity: models.ActivityReading}
		if code := doJSON(t, http.MethodPost, base+"/api/agents", alice, req, nil); code != http.StatusCreated {
			t.Fatalf("create %s = %d, want 201", id, code)
		}
	}

	wsURL := fmt.Sprintf("ws://127.0.0.1:%d/ws", srv.WSPort())
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Replay: one spawn per existing agent, then sync_complete listing them.
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		msg := nextMessage(t, conn)
		if msg.Type != models.MsgSpawnAgent {
			t.Fatalf("replay message %d = %q, want spawn_agent", i, msg.Type)
		}
		seen[msg.ID] = true
	}
	if !seen["a1"] || !seen["a2"] {
		t.Fatalf("replay covered %v, want a1 and a2", seen)
	}
	done := nextMessage(t, conn)
	if done.Type != models.MsgSyncComplete {
		t.Fatalf("after replay got %q, want sync_complete", done.Type)
	}
	if len(done.AgentIDs) != 2 {
		t.Fatalf("sync_complete agentIds = %v, want both agents", done.AgentIDs)
	}

	// Live events follow the replay.
	req := models.CreateAgentRequest{ID: "a3", DisplayName: "a3", Activity: models.ActivityWriting}
	if code := doJSON(t, http.MethodPost, base+"/api/agents", alice, req, nil); code != http.StatusCreated {
		t.Fatalf("create a3 = %d, want 201", code)
	}
	msg := nextMessage(t, conn)
	if msg.Type != models.MsgSpawnAgent || msg.ID != "a3" {
		t.Fatalf("live event = %q/%s, want spawn_agent/a3", msg.Type, msg.ID)
	}
	if msg.UserName != "Alice" {
		t.Errorf("spawn userName = %q, want Alice", msg.UserName)
	}

	update := models.UpdateAgentRequest{Activity: models.ActivityDone, ContextPercentage: 50}
	if code := doJSON(t, http.MethodPut, base+"/api/agents/a3", alice, update, nil); code != http.StatusOK {
		t.Fatalf("update a3 = %d, want 200", code)
	}
	msg = nextMessage(t, conn)
	if msg.Type != models.MsgUpdateAgent || msg.Activity != models.ActivityDone {
		t.Fatalf("live event = %q/%s, want update_agent/done", msg.Type, msg.Activity)
	}

	if code := doJSON(t, http.MethodDelete, base+"/api/agents/a3", alice, nil, nil); code != http.StatusOK {
		t.Fatalf("delete a3 = %d, want 200", code)
	}
	msg = nextMessage(t, conn)
	if msg.Type != models.MsgRemoveAgent || msg.ID != "a3" {
		t.Fatalf("live event = %q/%s, want remove_agent/a3", msg.Type, msg.ID)
	}
}
