package call

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/loqalabs/loqa-interview/internal/fault"
)

// AssistantClient registers the interviewer persona with the realtime call
// service before a live session is started.
type AssistantClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewAssistantClient(endpoint, apiKey string, client *http.Client) *AssistantClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &AssistantClient{endpoint: strings.TrimRight(endpoint, "/"), apiKey: apiKey, client: client}
}

type assistantRequest struct {
	CandidateName  string   `json:"candidate_name"`
	JobDescription string   `json:"job_description"`
	Questions      []string `json:"questions"`
	Language       string   `json:"language,omitempty"`
}

type assistantResponse struct {
	AssistantID string `json:"assistant_id"`
	SessionID   string `json:"session_id"`
	Error       *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Create registers the assistant and returns cfg with AssistantID and
// SessionID filled in.
func (c *AssistantClient) Create(ctx context.Context, cfg AssistantConfig) (AssistantConfig, error) {
	body, err := json.Marshal(assistantRequest{
		CandidateName:  cfg.CandidateName,
		JobDescription: cfg.JobDescription,
		Questions:      cfg.Questions,
		Language:       cfg.Language,
	})
	if err != nil {
		return cfg, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/assistants", bytes.NewReader(body))
	if err != nil {
		return cfg, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return cfg, fault.Transient("call.create_assistant", err)
	}
	defer resp.Body.Close()

	var out assistantResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out)
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return cfg, fault.Permission("call.create_assistant", fmt.Errorf("assistant service rejected credentials (status %d)", resp.StatusCode))
	case resp.StatusCode >= 500:
		return cfg, fault.Transient("call.create_assistant", fmt.Errorf("assistant service status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		msg := fmt.Sprintf("assistant service status %d", resp.StatusCode)
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return cfg, fault.Protocol("call.create_assistant", errors.New(msg))
	case decodeErr != nil:
		return cfg, fault.Protocol("call.create_assistant", fmt.Errorf("decode assistant response: %w", decodeErr))
	case out.AssistantID == "":
		return cfg, fault.Protocol("call.create_assistant", errors.New("assistant response missing assistant_id"))
	}
	cfg.AssistantID = out.AssistantID
	if out.SessionID != "" {
		cfg.SessionID = out.SessionID
	}
	return cfg, nil
}
