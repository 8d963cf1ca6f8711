// Package ledgerclient implements the narrow Ledger JSON API client the
// relay needs: reading the ledger end offset, querying active contracts,
// creating contracts, and exercising choices, with a replay fallback over
// /v2/updates when the active-contracts page cap is hit.
package ledgerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client defines the canonical interface for all Ledger JSON API operations.
// Direction handlers depend only on this interface, never on the HTTP
// adapter directly, so they can be exercised against a fake in tests.
type Client interface {
	GetLedgerEnd(ctx context.Context) (int64, error)
	QueryActive(ctx context.Context, templateIDs []string, predicate Predicate) ([]Contract, error)
	Create(ctx context.Context, actAs string, templateID string, payload map[string]interface{}) (Contract, error)
	Exercise(ctx context.Context, actAs string, templateID, contractID, choice string, argument map[string]interface{}, extraActors []string) (ExerciseResult, error)
	Health(ctx context.Context) error
	Close() error
}

// HTTPClient talks to a Canton-style JSON API (DAML JSON API / Ledger API
// JSON gateway) over plain HTTP, bearer-token authenticated.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// Config carries the dial parameters for an HTTPClient.
type Config struct {
	Host    string
	Port    int
	Token   string
	Timeout time.Duration
}

// DefaultTimeout is used when Config.Timeout is zero.
const DefaultTimeout = 15 * time.Second

// New builds an HTTPClient from cfg.
func New(cfg Config) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		baseURL: fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port),
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
	}
}

// do issues method against path with body marshaled as JSON (nil for GET
// requests without a body) and unmarshals the response into out.
func (c *HTTPClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body from %s: %w", path, err)
	}

	if resp.StatusCode >= 300 {
		return &StatusError{Path: path, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}

// StatusError is returned when the Ledger JSON API responds with a
// non-2xx status; QueryActive inspects StatusCode to recognize 413
// (payload too large, triggering the updates-replay fallback).
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ledger API %s returned status %d: %s", e.Path, e.StatusCode, e.Body)
}

// GetLedgerEnd reads GET /v2/state/ledger-end.
func (c *HTTPClient) GetLedgerEnd(ctx context.Context) (int64, error) {
	var resp ledgerEndResponse
	if err := c.do(ctx, http.MethodGet, "/v2/state/ledger-end", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Offset, nil
}

// QueryActive reads POST /v2/state/active-contracts, then transparently
// replays /v2/updates forward from offset 0 to the current ledger end when the
// response hits the documented page cap or the server reports 413 —
// spec §6/§8's boundary behavior for large active-contract sets.
func (c *HTTPClient) QueryActive(ctx context.Context, templateIDs []string, predicate Predicate) ([]Contract, error) {
	req := activeContractsRequest{TemplateIDs: templateIDs, Predicate: predicate, Limit: activeContractsPageCap}
	var resp activeContractsResponse
	err := c.do(ctx, http.MethodPost, "/v2/state/active-contracts", req, &resp)

	if err == nil && len(resp.ActiveContracts) < activeContractsPageCap {
		return resp.ActiveContracts, nil
	}
	if err != nil {
		se, ok := err.(*StatusError)
		if !ok || se.StatusCode != http.StatusRequestEntityTooLarge {
			return nil, err
		}
	}

	return c.replayActiveContracts(ctx, templateIDs, predicate)
}

// replayActiveContracts reconstructs the active-contract set by paging
// /v2/updates from offset 0 and folding created/archived events, stopping
// at the current ledger end or after maxUpdatesPages pages — whichever
// comes first.
func (c *HTTPClient) replayActiveContracts(ctx context.Context, templateIDs []string, predicate Predicate) ([]Contract, error) {
	end, err := c.GetLedgerEnd(ctx)
	if err != nil {
		return nil, fmt.Errorf("replay fallback: failed to read ledger end: %w", err)
	}

	live := make(map[string]Contract)
	var beginExclusive int64
	for page := 0; page < maxUpdatesPages; page++ {
		req := updatesRequest{BeginExclusive: beginExclusive, TemplateIDs: templateIDs, Limit: activeContractsPageCap}
		var resp updatesResponse
		if err := c.do(ctx, http.MethodPost, "/v2/updates", req, &resp); err != nil {
			return nil, fmt.Errorf("replay fallback: updates page at offset %d failed: %w", beginExclusive, err)
		}
		if len(resp.Events) == 0 {
			break
		}
		for _, ev := range resp.Events {
			switch ev.Kind {
			case "created":
				live[ev.Contract.ContractID] = ev.Contract
			case "archived":
				delete(live, ev.Contract.ContractID)
			}
			if ev.Offset > beginExclusive {
				beginExclusive = ev.Offset
			}
		}
		if beginExclusive >= end {
			break
		}
	}

	out := make([]Contract, 0, len(live))
	for _, c := range live {
		if matchesPredicate(c, predicate) {
			out = append(out, c)
		}
	}
	return out, nil
}

// matchesPredicate applies a flat equality filter over a contract's
// top-level payload fields — the only predicate shape the relay needs.
func matchesPredicate(c Contract, predicate Predicate) bool {
	for k, want := range predicate {
		got, ok := c.Payload[k]
		if !ok {
			return false
		}
		gotJSON, _ := json.Marshal(got)
		wantJSON, _ := json.Marshal(want)
		if string(gotJSON) != string(wantJSON) {
			return false
		}
	}
	return true
}

// Create submits a single create command via POST /v2/commands/submit-and-wait.
func (c *HTTPClient) Create(ctx context.Context, actAs, templateID string, payload map[string]interface{}) (Contract, error) {
	req := submitAndWaitRequest{
		Commands: []interface{}{map[string]interface{}{"CreateCommand": createCommand{TemplateID: templateID, Payload: payload}}},
		ActAs:    []string{actAs},
	}
	var resp submitAndWaitResponse
	if err := c.do(ctx, http.MethodPost, "/v2/commands/submit-and-wait", req, &resp); err != nil {
		return Contract{}, err
	}
	if len(resp.Created) == 0 {
		return Contract{}, fmt.Errorf("create of %s returned no created events", templateID)
	}
	return resp.Created[0], nil
}

// Exercise submits a single exercise command via POST /v2/commands/submit-and-wait.
func (c *HTTPClient) Exercise(ctx context.Context, actAs string, templateID, contractID, choice string, argument map[string]interface{}, extraActors []string) (ExerciseResult, error) {
	req := submitAndWaitRequest{
		Commands: []interface{}{map[string]interface{}{"ExerciseCommand": exerciseCommand{
			TemplateID:  templateID,
			ContractID:  contractID,
			Choice:      choice,
			Argument:    argument,
			ExtraActors: extraActors,
		}}},
		ActAs: []string{actAs},
	}
	var resp submitAndWaitResponse
	if err := c.do(ctx, http.MethodPost, "/v2/commands/submit-and-wait", req, &resp); err != nil {
		return ExerciseResult{}, err
	}
	return ExerciseResult{ExerciseResult: resp.Result, CreatedEvents: resp.Created}, nil
}

// Health reads the ledger end as a liveness probe.
func (c *HTTPClient) Health(ctx context.Context) error {
	_, err := c.GetLedgerEnd(ctx)
	return err
}

// Close releases idle connections held by the underlying http.Client.
func (c *HTTPClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

var _ Client = (*HTTPClient)(nil)
