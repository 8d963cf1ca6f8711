package directions

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/independant-validator/internal/ledgerclient"
)

const bridgeInURIPrefix = "ethereum:bridge-in:"

// OrphanRecovery implements spec §4.6: every sixth cycle it transfers
// operator-held wrapped holdings tagged as undelivered bridge-ins to their
// intended recipient.
type OrphanRecovery struct {
	deps *Deps
}

// NewOrphanRecovery builds the orphan recovery handler.
func NewOrphanRecovery(deps *Deps) *OrphanRecovery {
	return &OrphanRecovery{deps: deps}
}

// Execute scans operator-owned wrapped holdings for undelivered bridge-in
// orphans and attempts to deliver each.
func (o *OrphanRecovery) Execute(ctx context.Context) error {
	holdings, err := o.deps.Ledger.QueryActive(ctx, []string{tplWrappedHolding}, ledgerclient.Predicate{"owner": o.deps.CantonParty})
	if err != nil {
		return transient("orphan recovery: query wrapped holdings: %w", err)
	}

	nonceToUser, err := o.buildNonceRecipientMap(ctx)
	if err != nil {
		o.deps.Logger.Printf("orphan recovery: failed to build nonce->user map, falling back to URI/event resolution: %v", err)
	}

	recovered := 0
	for _, h := range holdings {
		uri := optionalFieldString(h.Payload, "agreementUri")
		if !strings.HasPrefix(uri, bridgeInURIPrefix) {
			continue
		}
		nonce, ok := parseOrphanNonce(uri)
		if !ok {
			o.deps.Logger.Printf("orphan recovery: could not parse nonce from uri %q", uri)
			continue
		}
		recipient := o.resolveOrphanRecipient(ctx, uri, nonce, nonceToUser)
		if recipient == "" || recipient == o.deps.CantonParty {
			continue
		}
		ok, err := o.deliver(ctx, h, recipient)
		if err != nil {
			o.deps.Logger.Printf("orphan recovery: delivery for nonce %s failed: %v", nonce, err)
			continue
		}
		if ok {
			recovered++
		}
	}
	if recovered > 0 {
		o.deps.Logger.Printf("orphan recovery: recovered %d stranded bridge-in holding(s)", recovered)
	}
	return nil
}

// buildNonceRecipientMap builds the primary (a) resolution tier: a
// nonce->user map read off the Ledger BridgeInRequest table.
func (o *OrphanRecovery) buildNonceRecipientMap(ctx context.Context) (map[string]string, error) {
	requests, err := o.deps.Ledger.QueryActive(ctx, []string{tplBridgeInRequest}, ledgerclient.Predicate{})
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(requests))
	for _, r := range requests {
		nonce := optionalFieldString(r.Payload, "nonce")
		recipient := optionalFieldString(r.Payload, "recipient")
		if nonce != "" && recipient != "" {
			out[nonce] = recipient
		}
	}
	return out, nil
}

// resolveOrphanRecipient applies the three-tier order spec §4.6 names:
// the nonce->user map, then the URL-decoded URI suffix, then a Chain-event
// re-scan for the matching nonce.
func (o *OrphanRecovery) resolveOrphanRecipient(ctx context.Context, uri, nonce string, nonceToUser map[string]string) string {
	if user, ok := nonceToUser[nonce]; ok {
		return user
	}
	if suffix := orphanURISuffixRecipient(uri); suffix != "" {
		return suffix
	}
	return o.rescanEventForRecipient(ctx, nonce)
}

// orphanURISuffixRecipient decodes the trailing ":recipient:<value>" segment
// of a bridgeInAgreementURI-shaped URI.
func orphanURISuffixRecipient(uri string) string {
	const marker = ":recipient:"
	idx := strings.LastIndex(uri, marker)
	if idx < 0 {
		return ""
	}
	encoded := uri[idx+len(marker):]
	decoded, err := url.QueryUnescape(encoded)
	if err != nil {
		return ""
	}
	return decoded
}

func (o *OrphanRecovery) rescanEventForRecipient(ctx context.Context, nonce string) string {
	currentBlock, err := o.deps.Chain.BlockNumber(ctx)
	if err != nil {
		return ""
	}
	lookback := uint64(200_000)
	from := uint64(0)
	if currentBlock > lookback {
		from = currentBlock - lookback
	}
	topic, err := o.deps.Chain.Bridge.EventTopic("BridgeToCantonRequested")
	if err != nil {
		return ""
	}
	logs, err := o.deps.Chain.FilterLogs(ctx, []common.Address{o.deps.Chain.Bridge.Address()}, [][]common.Hash{{topic}}, from, currentBlock, 0)
	if err != nil {
		return ""
	}
	for _, lg := range logs {
		ev, err := o.deps.Chain.Bridge.UnpackBridgeToCantonRequested(lg)
		if err != nil {
			continue
		}
		if ev.Nonce.String() == nonce {
			return resolveRecipientAlias(ev.CantonRecipient, o.deps.RecipientPartyAliases)
		}
	}
	return ""
}

func parseOrphanNonce(uri string) (string, bool) {
	rest := strings.TrimPrefix(uri, bridgeInURIPrefix)
	parts := strings.Split(rest, ":")
	for i, p := range parts {
		if p == "nonce" && i+1 < len(parts) {
			if _, err := strconv.ParseUint(parts[i+1], 10, 64); err != nil {
				return "", false
			}
			return parts[i+1], true
		}
	}
	return "", false
}

// deliver transfers the orphaned holding to recipient, returning true only
// when delivery is confirmed (spec §4.6 step 3).
func (o *OrphanRecovery) deliver(ctx context.Context, h ledgerclient.Contract, recipient string) (bool, error) {
	registry, err := o.deps.Ledger.Create(ctx, o.deps.CantonParty, tplComplianceRegistry, map[string]interface{}{"owner": o.deps.CantonParty})
	if err != nil {
		return false, transient("create compliance registry: %w", err)
	}
	result, err := o.deps.Ledger.Exercise(ctx, o.deps.CantonParty, tplWrappedHolding, h.ContractID, choiceTransfer, map[string]interface{}{
		"receiver":      recipient,
		"complianceCid": registry.ContractID,
	}, nil)
	if err != nil {
		return false, transient("exercise Transfer on orphaned holding: %w", err)
	}
	if !o.deps.Config.AutoAcceptMUSDTransferProposals {
		return false, nil
	}
	for _, c := range result.CreatedEvents {
		if _, err := o.deps.Ledger.Exercise(ctx, recipient, c.TemplateID, c.ContractID, choiceAccept, map[string]interface{}{}, nil); err != nil {
			return false, transient("auto-accept of orphan transfer proposal: %w", err)
		}
		return true, nil
	}
	return false, nil
}
