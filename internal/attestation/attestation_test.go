package attestation

import (
	"crypto/ecdsa"
	"encoding/asn1"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func sampleFields() Fields {
	return Fields{
		Nonce:              big.NewInt(5),
		GlobalLedgerAssets: big.NewInt(1_000_000),
		Timestamp:          big.NewInt(1_700_000_000),
		Entropy:            [32]byte{0x01},
		LedgerStateHash:    [32]byte{},
		ChainID:            big.NewInt(1),
		BridgeAddress:      common.HexToAddress("0x2222222222222222222222222222222222222222"),
	}
}

func TestIDDeterministic(t *testing.T) {
	f := sampleFields()
	if ID(f) != ID(f) {
		t.Fatal("ID must be deterministic for identical fields")
	}
}

func TestIDChangesWithNonce(t *testing.T) {
	f1 := sampleFields()
	f2 := sampleFields()
	f2.Nonce = big.NewInt(6)
	if ID(f1) == ID(f2) {
		t.Fatal("ID must differ when nonce differs")
	}
}

func TestMessageHashIncludesID(t *testing.T) {
	f := sampleFields()
	id := ID(f)
	mh1 := MessageHash(id, f)
	mh2 := MessageHash(common.Hash{0x01}, f)
	if mh1 == mh2 {
		t.Fatal("MessageHash must depend on the prepended id")
	}
}

func TestRecoverableDigestMatchesPersonalSign(t *testing.T) {
	f := sampleFields()
	id := ID(f)
	mh := MessageHash(id, f)
	digest := RecoverableDigest(mh)

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		t.Fatalf("failed to recover: %v", err)
	}
	if crypto.PubkeyToAddress(*pub) != crypto.PubkeyToAddress(key.PublicKey) {
		t.Fatal("recovered address mismatch")
	}
}

func signRSV(t *testing.T, digest common.Hash, key *ecdsa.PrivateKey) []byte {
	t.Helper()
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig
}

func TestAggregateSortsAscendingAndDropsMismatches(t *testing.T) {
	f := sampleFields()
	digest := RecoverableDigest(MessageHash(ID(f), f))

	keyA, _ := crypto.GenerateKey()
	keyB, _ := crypto.GenerateKey()
	keyC, _ := crypto.GenerateKey() // not a registered validator

	addrA := crypto.PubkeyToAddress(keyA.PublicKey)
	addrB := crypto.PubkeyToAddress(keyB.PublicKey)

	addrs := ValidatorAddresses{
		"validator::a": addrA,
		"validator::b": addrB,
	}

	sigs := []ValidatorSignature{
		{ValidatorParty: "validator::b", Signature: signRSV(t, digest, keyB)},
		{ValidatorParty: "validator::a", Signature: signRSV(t, digest, keyA)},
		{ValidatorParty: "validator::a", Signature: signRSV(t, digest, keyC)}, // wrong key for party a
	}

	out, err := Aggregate(digest, sigs, addrs)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 accepted signatures, got %d", len(out))
	}

	recoveredFirst, err := recoverSigner(digest, out[0])
	if err != nil {
		t.Fatalf("failed to recover first signature: %v", err)
	}
	recoveredSecond, err := recoverSigner(digest, out[1])
	if err != nil {
		t.Fatalf("failed to recover second signature: %v", err)
	}
	if compareAddresses(recoveredFirst, recoveredSecond) > 0 {
		t.Fatal("expected signatures sorted by ascending recovered address")
	}
}

func TestAggregateAcceptsDEREncodedSignature(t *testing.T) {
	f := sampleFields()
	digest := RecoverableDigest(MessageHash(ID(f), f))

	key, _ := crypto.GenerateKey()
	addr := crypto.PubkeyToAddress(key.PublicKey)
	addrs := ValidatorAddresses{"validator::a": addr}

	rsv := signRSV(t, digest, key)
	der, err := asn1.Marshal(derSignature{
		R: new(big.Int).SetBytes(rsv[0:32]),
		S: new(big.Int).SetBytes(rsv[32:64]),
	})
	if err != nil {
		t.Fatalf("failed to marshal DER signature: %v", err)
	}

	out, err := Aggregate(digest, []ValidatorSignature{{ValidatorParty: "validator::a", Signature: der}}, addrs)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 accepted signature, got %d", len(out))
	}
}

func TestAggregateFailsWithNoMatches(t *testing.T) {
	f := sampleFields()
	digest := RecoverableDigest(MessageHash(ID(f), f))
	key, _ := crypto.GenerateKey()

	_, err := Aggregate(digest, []ValidatorSignature{{ValidatorParty: "validator::unknown", Signature: signRSV(t, digest, key)}}, ValidatorAddresses{})
	if err == nil {
		t.Fatal("expected error when no validator signatures match")
	}
}
