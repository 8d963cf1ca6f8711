package signer

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestNewRawKeySignerDerivesAddress(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	hexKey := "0x" + hex.EncodeToString(crypto.FromECDSA(key))

	s, err := NewRawKeySigner(hexKey)
	if err != nil {
		t.Fatalf("NewRawKeySigner failed: %v", err)
	}
	want := crypto.PubkeyToAddress(key.PublicKey)
	if s.Address() != want {
		t.Fatalf("expected address %s, got %s", want, s.Address())
	}
}

func TestRawKeySignerSignDigestRecoversToAddress(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	s, err := NewRawKeySigner(hex.EncodeToString(crypto.FromECDSA(key)))
	if err != nil {
		t.Fatalf("NewRawKeySigner failed: %v", err)
	}

	var digest [32]byte
	digest[0] = 0xab

	sig, err := s.SignDigest(context.Background(), digest)
	if err != nil {
		t.Fatalf("SignDigest failed: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("expected 65-byte signature, got %d", len(sig))
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Fatalf("expected recovery id in {27,28}, got %d", sig[64])
	}

	recoverSig := make([]byte, 65)
	copy(recoverSig, sig)
	recoverSig[64] -= 27
	pub, err := crypto.SigToPub(digest[:], recoverSig)
	if err != nil {
		t.Fatalf("SigToPub failed: %v", err)
	}
	if crypto.PubkeyToAddress(*pub) != s.Address() {
		t.Fatal("recovered address does not match signer address")
	}
}

func TestTrimHexPrefix(t *testing.T) {
	if trimHexPrefix("0xabc") != "abc" {
		t.Fatal("expected 0x prefix to be stripped")
	}
	if trimHexPrefix("abc") != "abc" {
		t.Fatal("expected unprefixed input to pass through unchanged")
	}
}

type fakeHSMClient struct {
	addr common.Address
	sig  []byte
	err  error
}

func (f *fakeHSMClient) Address(ctx context.Context) (common.Address, error) {
	return f.addr, nil
}

func (f *fakeHSMClient) Sign(ctx context.Context, digest [32]byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sig, nil
}

func TestHsmSignerDelegatesToClient(t *testing.T) {
	client := &fakeHSMClient{addr: common.HexToAddress("0x1111111111111111111111111111111111111111"), sig: []byte("sig")}
	s, err := NewHsmSigner(context.Background(), client)
	if err != nil {
		t.Fatalf("NewHsmSigner failed: %v", err)
	}
	if s.Address() != client.addr {
		t.Fatal("expected HsmSigner.Address() to match client's resolved address")
	}

	sig, err := s.SignDigest(context.Background(), [32]byte{})
	if err != nil {
		t.Fatalf("SignDigest failed: %v", err)
	}
	if string(sig) != "sig" {
		t.Fatalf("expected delegated signature, got %q", sig)
	}
}
