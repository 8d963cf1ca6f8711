package ledgerclient

import "time"

// Contract is a minimal tagged variant of a Ledger active-contract payload:
// the minimum fields the relay needs, with everything else left as opaque
// JSON (spec §9: "dynamic maps and decoded JSON → tagged variants").
type Contract struct {
	ContractID string                 `json:"contractId"`
	TemplateID string                 `json:"templateId"`
	Payload    map[string]interface{} `json:"payload"`
	CreatedAt  time.Time              `json:"createdAt"`
	Offset     string                 `json:"offset"`
}

// ExerciseResult carries the choice's exercise result payload plus any
// contracts it created, which several directions (D2 completion in
// particular) need to chain into a following exercise.
type ExerciseResult struct {
	ExerciseResult map[string]interface{} `json:"exerciseResult"`
	CreatedEvents  []Contract             `json:"createdEvents"`
}

// Predicate is a loose filter passed to queryActive; the relay only ever
// needs equality filters on top-level payload fields.
type Predicate map[string]interface{}

// ledgerEndResponse mirrors GET /v2/state/ledger-end.
type ledgerEndResponse struct {
	Offset int64 `json:"offset"`
}

// activeContractsRequest mirrors POST /v2/state/active-contracts.
type activeContractsRequest struct {
	TemplateIDs []string `json:"templateIds"`
	Predicate   Predicate `json:"predicate,omitempty"`
	Limit       int       `json:"limit,omitempty"`
}

// activeContractsResponse mirrors the response body of active-contracts.
type activeContractsResponse struct {
	ActiveContracts []Contract `json:"activeContracts"`
}

// updatesRequest mirrors POST /v2/updates.
type updatesRequest struct {
	BeginExclusive int64    `json:"beginExclusive"`
	TemplateIDs    []string `json:"templateIds,omitempty"`
	Limit          int      `json:"limit,omitempty"`
}

// updateEvent is one created-or-archived event in an updates page.
type updateEvent struct {
	Kind     string   `json:"kind"` // "created" | "archived"
	Contract Contract `json:"contract"`
	Offset   int64    `json:"offset"`
}

// updatesResponse mirrors the response body of /v2/updates.
type updatesResponse struct {
	Events []updateEvent `json:"events"`
}

// createCommand mirrors the create command shape inside submit-and-wait.
type createCommand struct {
	TemplateID string                 `json:"templateId"`
	Payload    map[string]interface{} `json:"payload"`
}

// exerciseCommand mirrors the exercise command shape inside submit-and-wait.
type exerciseCommand struct {
	TemplateID  string                 `json:"templateId"`
	ContractID  string                 `json:"contractId"`
	Choice      string                 `json:"choice"`
	Argument    map[string]interface{} `json:"argument"`
	ExtraActors []string               `json:"extraActors,omitempty"`
}

// submitAndWaitRequest mirrors POST /v2/commands/submit-and-wait.
type submitAndWaitRequest struct {
	Commands []interface{} `json:"commands"`
	ActAs    []string       `json:"actAs"`
}

// submitAndWaitResponse mirrors the response body of submit-and-wait.
type submitAndWaitResponse struct {
	TransactionID string     `json:"transactionId"`
	Created       []Contract `json:"createdEvents"`
	Result        map[string]interface{} `json:"exerciseResult"`
}

// activeContractsPageCap is the Ledger's documented page size cap; hitting
// exactly this many items signals the caller must fall back to replaying
// /v2/updates (spec §6, §8 boundary test).
const activeContractsPageCap = 200

// maxUpdatesPages bounds the replay fallback so a pathological offset never
// spins the relay forever.
const maxUpdatesPages = 500
