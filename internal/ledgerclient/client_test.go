package ledgerclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, srv *httptest.Server) *HTTPClient {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("failed to parse test server URL: %v", err)
	}
	host := u.Hostname()
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("failed to parse test server port: %v", err)
	}
	return New(Config{Host: host, Port: port})
}

func TestGetLedgerEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/state/ledger-end" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(ledgerEndResponse{Offset: 42})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	offset, err := c.GetLedgerEnd(t.Context())
	if err != nil {
		t.Fatalf("GetLedgerEnd failed: %v", err)
	}
	if offset != 42 {
		t.Fatalf("expected offset 42, got %d", offset)
	}
}

func TestQueryActiveBelowCapReturnsDirectly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "updates") {
			t.Fatal("should not have fallen back to /v2/updates")
		}
		json.NewEncoder(w).Encode(activeContractsResponse{ActiveContracts: []Contract{{ContractID: "c1"}}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	contracts, err := c.QueryActive(t.Context(), []string{"Bridge:Attestation"}, nil)
	if err != nil {
		t.Fatalf("QueryActive failed: %v", err)
	}
	if len(contracts) != 1 || contracts[0].ContractID != "c1" {
		t.Fatalf("unexpected contracts: %+v", contracts)
	}
}

func TestQueryActiveAtCapFallsBackToUpdates(t *testing.T) {
	full := make([]Contract, activeContractsPageCap)
	for i := range full {
		full[i] = Contract{ContractID: strconv.Itoa(i)}
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v2/state/ledger-end":
			json.NewEncoder(w).Encode(ledgerEndResponse{Offset: 1})
		case r.URL.Path == "/v2/state/active-contracts":
			json.NewEncoder(w).Encode(activeContractsResponse{ActiveContracts: full})
		case r.URL.Path == "/v2/updates":
			var req updatesRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.BeginExclusive == 0 {
				json.NewEncoder(w).Encode(updatesResponse{Events: []updateEvent{
					{Kind: "created", Contract: Contract{ContractID: "replayed"}, Offset: 1},
				}})
			} else {
				json.NewEncoder(w).Encode(updatesResponse{Events: nil})
			}
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	contracts, err := c.QueryActive(t.Context(), []string{"Bridge:Attestation"}, nil)
	if err != nil {
		t.Fatalf("QueryActive failed: %v", err)
	}
	if len(contracts) != 1 || contracts[0].ContractID != "replayed" {
		t.Fatalf("expected replayed fallback contract, got %+v", contracts)
	}
}

func TestQueryActivePredicateFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(activeContractsResponse{ActiveContracts: []Contract{
			{ContractID: "a", Payload: map[string]interface{}{"status": "pending"}},
			{ContractID: "b", Payload: map[string]interface{}{"status": "settled"}},
		}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	contracts, err := c.QueryActive(t.Context(), nil, Predicate{"status": "pending"})
	if err != nil {
		t.Fatalf("QueryActive failed: %v", err)
	}
	if len(contracts) != 2 {
		t.Fatalf("expected the raw response unfiltered when under the page cap, got %d", len(contracts))
	}
}

func TestCreateReturnsCreatedEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/commands/submit-and-wait" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(submitAndWaitResponse{Created: []Contract{{ContractID: "new1"}}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	contract, err := c.Create(t.Context(), "relay-party", "Bridge:Attestation", map[string]interface{}{"nonce": 1})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if contract.ContractID != "new1" {
		t.Fatalf("unexpected contract: %+v", contract)
	}
}

func TestExerciseReturnsResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(submitAndWaitResponse{Result: map[string]interface{}{"ok": true}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	result, err := c.Exercise(t.Context(), "relay-party", "Bridge:Attestation", "cid1", "Complete", nil, nil)
	if err != nil {
		t.Fatalf("Exercise failed: %v", err)
	}
	if ok, _ := result.ExerciseResult["ok"].(bool); !ok {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestHealthSurfacesTransportErrors(t *testing.T) {
	c := New(Config{Host: "127.0.0.1", Port: 1})
	if err := c.Health(t.Context()); err == nil {
		t.Fatal("expected health check against an unreachable port to fail")
	}
}

func TestStatusErrorMessage(t *testing.T) {
	err := &StatusError{Path: "/v2/state/active-contracts", StatusCode: http.StatusRequestEntityTooLarge, Body: "too big"}
	if !strings.Contains(err.Error(), "413") {
		t.Fatalf("expected status code in error message, got %q", err.Error())
	}
}
