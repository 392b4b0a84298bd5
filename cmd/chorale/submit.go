package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// runSubmit posts a one-off job to a running chorale server, waits for the
// terminal state, and prints the synthesized result as JSON on stdout.
func runSubmit(args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	var (
		server   = fs.String("server", "http://localhost:8080", "base URL of the chorale API")
		password = fs.String("password", os.Getenv("CHORALE_WEB_PASSWORD"), "API password, if the server requires one")
		kind     = fs.String("kind", "ingestion", "job kind: ingestion or query")
		tenant   = fs.String("tenant", "", "tenant id (required)")
		domain   = fs.String("domain", "", "domain id (required)")
		user     = fs.String("user", "cli", "user id recorded on the job")
		input    = fs.String("input", "", "job input; reads stdin when empty")
		wait     = fs.Bool("wait", true, "poll until the job reaches a terminal state")
		timeout  = fs.Duration("timeout", 5*time.Minute, "how long to wait for completion")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tenant == "" || *domain == "" {
		return fmt.Errorf("-tenant and -domain are required")
	}

	text := *input
	if text == "" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		text = strings.TrimSpace(string(raw))
	}
	if text == "" {
		return fmt.Errorf("empty input")
	}

	cli := &apiClient{base: strings.TrimRight(*server, "/"), password: *password}

	jobID, err := cli.submit(*kind, *tenant, *domain, *user, text)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "job %s submitted\n", jobID)

	if !*wait {
		fmt.Println(jobID)
		return nil
	}

	deadline := time.Now().Add(*timeout)
	for {
		job, err := cli.job(jobID)
		if err != nil {
			return err
		}
		switch job.State {
		case "complete":
			return printResult(job.Result)
		case "error":
			return fmt.Errorf("job failed: %s", job.Error)
		case "cancelled":
			return fmt.Errorf("job cancelled")
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for job %s (last state %s)", jobID, job.State)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func printResult(result json.RawMessage) error {
	if len(result) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, result, "", "  "); err != nil {
		fmt.Println(string(result))
		return nil
	}
	fmt.Println(buf.String())
	return nil
}

type apiClient struct {
	base     string
	password string
}

type jobStatus struct {
	ID     string          `json:"id"`
	State  string          `json:"state"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func (c *apiClient) submit(kind, tenant, domain, user, input string) (string, error) {
	var out struct {
		JobID string `json:"job_id"`
	}
	err := c.call(http.MethodPost, "/api/jobs", map[string]string{
		"kind":      kind,
		"tenant_id": tenant,
		"domain_id": domain,
		"user_id":   user,
		"input":     input,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.JobID, nil
}

func (c *apiClient) job(id string) (*jobStatus, error) {
	var out struct {
		Job jobStatus `json:"job"`
	}
	if err := c.call(http.MethodGet, "/api/jobs/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out.Job, nil
}

func (c *apiClient) call(method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.password != "" {
		req.Header.Set("Authorization", "Bearer "+c.password)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
