package directions

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger JSON API payloads decode to map[string]interface{}; every
// direction handler needs the same handful of typed field extractors.

func fieldString(payload map[string]interface{}, key string) (string, error) {
	v, ok := payload[key]
	if !ok {
		return "", fmt.Errorf("payload missing field %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("payload field %q is not a string", key)
	}
	return s, nil
}

func optionalFieldString(payload map[string]interface{}, key string) string {
	v, _ := payload[key].(string)
	return v
}

func fieldBigInt(payload map[string]interface{}, key string) (*big.Int, error) {
	s, err := fieldString(payload, key)
	if err != nil {
		return nil, err
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("payload field %q is not a base-10 integer: %q", key, s)
	}
	return n, nil
}

func fieldHex32(payload map[string]interface{}, key string) ([32]byte, error) {
	var out [32]byte
	s, err := fieldString(payload, key)
	if err != nil {
		return out, err
	}
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return out, fmt.Errorf("payload field %q is not valid hex: %w", key, err)
	}
	if len(b) != 32 {
		return out, fmt.Errorf("payload field %q must decode to 32 bytes, got %d", key, len(b))
	}
	copy(out[:], b)
	return out, nil
}

func fieldSignatures(payload map[string]interface{}, key string) ([]rawValidatorSignature, error) {
	v, ok := payload[key]
	if !ok {
		return nil, nil
	}
	list, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("payload field %q is not a list", key)
	}
	out := make([]rawValidatorSignature, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("payload field %q[%d] is not an object", key, i)
		}
		party, err := fieldString(m, "validatorParty")
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
		}
		sigHex, err := fieldString(m, "signature")
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
		}
		sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: signature is not valid hex: %w", key, i, err)
		}
		out = append(out, rawValidatorSignature{ValidatorParty: party, Signature: sig})
	}
	return out, nil
}

type rawValidatorSignature struct {
	ValidatorParty string
	Signature      []byte
}

// parseValidatorAddresses converts the relay's configured string-keyed
// validator address map into common.Address form, skipping (and logging
// via the returned error) any malformed entry.
func parseValidatorAddresses(m map[string]string) (map[string]common.Address, error) {
	out := make(map[string]common.Address, len(m))
	var bad []string
	for party, addrHex := range m {
		if !common.IsHexAddress(addrHex) {
			bad = append(bad, party)
			continue
		}
		out[party] = common.HexToAddress(addrHex)
	}
	if len(bad) > 0 {
		return out, fmt.Errorf("invalid validator addresses for parties: %s", strings.Join(bad, ", "))
	}
	return out, nil
}
