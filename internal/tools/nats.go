package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Requester is the request-reply slice of the bus client.
type Requester interface {
	Request(ctx context.Context, topic string, data []byte) ([]byte, error)
}

// NATSProvider performs tool calls as request-reply over the bus. Workers
// subscribe to the tool subject and answer with a JSON object; an object
// carrying an "error" key is surfaced as a call failure.
type NATSProvider struct {
	nc      Requester
	subject string
	timeout time.Duration
}

func NewNATSProvider(nc Requester, subject string, timeout time.Duration) *NATSProvider {
	if timeout <= 0 {
		timeout = defaultToolTimeout
	}
	return &NATSProvider{nc: nc, subject: subject, timeout: timeout}
}

type busToolRequest struct {
	JobID    string         `json:"job_id"`
	TenantID string         `json:"tenant_id"`
	AgentID  string         `json:"agent_id"`
	Params   map[string]any `json:"params"`
}

func (p *NATSProvider) Call(ctx context.Context, call CallContext, params map[string]any) (map[string]any, error) {
	payload, err := json.Marshal(busToolRequest{
		JobID:    call.JobID,
		TenantID: call.TenantID,
		AgentID:  call.AgentID,
		Params:   params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal tool request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	reply, err := p.nc.Request(ctx, p.subject, payload)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", p.subject, err)
	}

	var result map[string]any
	if err := json.Unmarshal(reply, &result); err != nil {
		return nil, fmt.Errorf("decode reply from %s: %w", p.subject, err)
	}
	if msg, ok := result["error"].(string); ok && msg != "" {
		return nil, fmt.Errorf("tool worker on %s: %s", p.subject, msg)
	}
	return result, nil
}
