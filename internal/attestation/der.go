package attestation

import (
	"encoding/asn1"
	"fmt"
	"math/big"
)

// derSignature mirrors the ASN.1 SEQUENCE { r INTEGER, s INTEGER } shape an
// ECDSA signer without native Ethereum rsv support (e.g. an HSM) typically
// emits.
type derSignature struct {
	R *big.Int
	S *big.Int
}

// decodeDERSignature parses a DER-encoded ECDSA signature into its r, s
// components.
func decodeDERSignature(raw []byte) ([]byte, []byte, error) {
	var sig derSignature
	rest, err := asn1.Unmarshal(raw, &sig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal DER signature: %w", err)
	}
	if len(rest) != 0 {
		return nil, nil, fmt.Errorf("unexpected trailing bytes after DER signature")
	}
	if sig.R == nil || sig.S == nil {
		return nil, nil, fmt.Errorf("DER signature missing r or s")
	}
	return sig.R.Bytes(), sig.S.Bytes(), nil
}
