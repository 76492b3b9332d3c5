// Package synth talks to the external synthesizer runtime over HTTP. The
// runtime owns the accelerator kernels; this client only moves requests and
// classifies failures so the scheduler knows what is worth retrying.
package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"soundd/internal/scheduler"
	"soundd/pkg/types"
)

// Client implements the scheduler's Engine contract against a synth runtime
// exposing /generate, /models/load and /models/unload.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient constructs a runtime-backed engine. All requests carry
// context-based deadlines, so the http.Client timeout stays zero.
func NewClient(baseURL, apiKey string, connectTimeout time.Duration) *Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Transport: tr, Timeout: 0},
	}
}

type generatePayload struct {
	JobID       string `json:"job_id"`
	Model       string `json:"model"`
	Prompt      string `json:"prompt"`
	DurationSec int    `json:"duration_sec"`
	Loopable    bool   `json:"loopable,omitempty"`
	Seed        int64  `json:"seed,omitempty"`
}

type modelPayload struct {
	Model string `json:"model"`
}

type runtimeError struct {
	Error string `json:"error"`
}

func (c *Client) Generate(ctx context.Context, req scheduler.GenerateRequest) (*types.GenerationResult, error) {
	payload := generatePayload{
		JobID:       req.JobID,
		Model:       string(req.Kind),
		Prompt:      req.Prompt,
		DurationSec: req.DurationSec,
		Loopable:    req.Loopable,
		Seed:        req.Seed,
	}
	var out types.GenerationResult
	if err := c.post(ctx, "/generate", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) LoadModel(ctx context.Context, kind types.ModelKind) error {
	return c.post(ctx, "/models/load", modelPayload{Model: string(kind)}, nil)
}

func (c *Client) UnloadModel(ctx context.Context, kind types.ModelKind) error {
	return c.post(ctx, "/models/unload", modelPayload{Model: string(kind)}, nil)
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return scheduler.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return scheduler.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Connection refused, reset, deadline: the runtime may come back.
		if errors.Is(err, context.Canceled) {
			return err
		}
		return scheduler.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := readErrorMessage(resp.Body)
		err := fmt.Errorf("synth runtime %s: %d %s", path, resp.StatusCode, msg)
		return classify(resp.StatusCode, err)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return scheduler.Transient(fmt.Errorf("decode synth response: %w", err))
	}
	return nil
}

// classify maps runtime status codes onto the retry policy: overload and
// server faults are transient, everything else the runtime rejected outright.
func classify(status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests, status >= http.StatusInternalServerError:
		return scheduler.Transient(err)
	default:
		return scheduler.Permanent(err)
	}
}

func readErrorMessage(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var re runtimeError
	if json.Unmarshal(b, &re) == nil && re.Error != "" {
		return re.Error
	}
	return strings.TrimSpace(string(b))
}
