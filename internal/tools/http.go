package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chorale-dev/chorale/internal/config"
)

const defaultToolTimeout = 10 * time.Second

// HTTPProvider posts tool calls as JSON to a configured endpoint and expects
// a JSON object back. A configured credential is sent as a bearer token.
type HTTPProvider struct {
	tool       string
	url        string
	credential string
	creds      CredentialResolver
	client     *http.Client
}

func NewHTTPProvider(tool string, tc config.ToolConfig, creds CredentialResolver) *HTTPProvider {
	timeout := tc.Timeout
	if timeout <= 0 {
		timeout = defaultToolTimeout
	}
	return &HTTPProvider{
		tool:       tool,
		url:        tc.URL,
		credential: tc.Credential,
		creds:      creds,
		client:     &http.Client{Timeout: timeout},
	}
}

type httpToolRequest struct {
	Tool     string         `json:"tool"`
	JobID    string         `json:"job_id"`
	TenantID string         `json:"tenant_id"`
	AgentID  string         `json:"agent_id"`
	Params   map[string]any `json:"params"`
}

func (p *HTTPProvider) Call(ctx context.Context, call CallContext, params map[string]any) (map[string]any, error) {
	body, err := json.Marshal(httpToolRequest{
		Tool:     p.tool,
		JobID:    call.JobID,
		TenantID: call.TenantID,
		AgentID:  call.AgentID,
		Params:   params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal tool request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build tool request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if p.credential != "" {
		token := p.credential
		if p.creds != nil {
			token, err = p.creds.Resolve(ctx, p.credential)
			if err != nil {
				return nil, fmt.Errorf("resolve credential for tool %q: %w", p.tool, err)
			}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call tool %q: %w", p.tool, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read tool %q response: %w", p.tool, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("tool %q returned http %d: %s", p.tool, resp.StatusCode, truncate(string(data), 200))
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode tool %q response: %w", p.tool, err)
	}
	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
