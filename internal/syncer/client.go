// Package syncer reconciles the local session set with the remote agent
// registry over the authenticated REST surface.
package syncer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/agentfloor/agentfloor/internal/models"
)

// Protocol-level outcomes the sync state machine self-heals on.
var (
	ErrConflict  = errors.New("agent already exists")
	ErrNotFound  = errors.New("agent not found")
	ErrForbidden = errors.New("not the agent's owner")
	ErrAuth      = errors.New("authentication failed")
)

// maxAuthRetries bounds 401-triggered re-login attempts per request.
const maxAuthRetries = 3

// Client is the HTTP client for the registry's REST surface. It caches the
// bearer token from the login exchange and re-acquires it on 401.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	mu    sync.Mutex
	token string
}

// NewClient creates a Client for the given server URL and API key.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// login exchanges the API key for a bearer token.
func (c *Client) login() error {
	body, _ := json.Marshal(map[string]string{"apiKey": c.apiKey})
	resp, err := c.httpClient.Post(c.baseURL+"/api/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login: %w (status %d)", ErrAuth, resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("login: decode: %w", err)
	}

	c.mu.Lock()
	c.token = out.Token
	c.mu.Unlock()
	return nil
}

func (c *Client) bearer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) clearToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// do performs an authenticated request, logging in lazily and re-acquiring
// the token on 401 up to maxAuthRetries times.
func (c *Client) do(method, path string, payload any) error {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return err
		}
	}

	for attempt := 0; attempt <= maxAuthRetries; attempt++ {
		if c.bearer() == "" {
			if err := c.login(); err != nil {
				return err
			}
		}

		req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.bearer())

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated:
			return nil
		case http.StatusUnauthorized:
			c.clearToken()
			continue
		case http.StatusConflict:
			return ErrConflict
		case http.StatusNotFound:
			return ErrNotFound
		case http.StatusForbidden:
			return ErrForbidden
		default:
			return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
		}
	}
	return ErrAuth
}

// CreateAgent registers an agent with the server.
func (c *Client) CreateAgent(req models.CreateAgentRequest) error {
	return c.do(http.MethodPost, "/api/agents", req)
}

// UpdateAgent pushes a new activity/context tuple for an agent.
func (c *Client) UpdateAgent(id string, req models.UpdateAgentRequest) error {
	return c.do(http.MethodPut, "/api/agents/"+id, req)
}

// DeleteAgent removes an agent from the server.
func (c *Client) DeleteAgent(id string) error {
	return c.do(http.MethodDelete, "/api/agents/"+id, nil)
}

// Heartbeat refreshes the server-side activity clock without mutating any
// agent.
func (c *Client) Heartbeat() error {
	return c.do(http.MethodPost, "/api/heartbeat", nil)
}
