package state

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	s := New(path)
	s.SetCursors(Cursors{BridgeOutBlock: 100, StakingYieldBlock: 50, ETHPoolYieldBlock: 60, HighestSubmittedNonce: 7})
	s.ConsumedAttestationIds().Add("attn-1")
	s.RelayedBridgeOutIds().Add("req-1")

	if err := s.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded := New(path)
	if err := loaded.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Cursors() != (Cursors{BridgeOutBlock: 100, StakingYieldBlock: 50, ETHPoolYieldBlock: 60, HighestSubmittedNonce: 7}) {
		t.Fatalf("unexpected cursors after reload: %+v", loaded.Cursors())
	}
	if !loaded.ConsumedAttestationIds().Contains("attn-1") {
		t.Fatal("expected consumed attestation id to survive reload")
	}
	if !loaded.RelayedBridgeOutIds().Contains("req-1") {
		t.Fatal("expected relayed bridge-out id to survive reload")
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err := s.Load(); err != nil {
		t.Fatalf("expected missing file to be a no-op, got %v", err)
	}
}

func TestLoadOversizedFileIsCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	big := make([]byte, MaxFileSize+1)
	if err := os.WriteFile(path, big, 0o600); err != nil {
		t.Fatalf("failed to write oversized file: %v", err)
	}

	s := New(path)
	if err := s.Load(); err != ErrCorrupt {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestLoadRejectsNewerVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	if err := os.WriteFile(path, []byte(`{"version":999}`), 0o600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	s := New(path)
	if err := s.Load(); err == nil {
		t.Fatal("expected an error loading a future state-file version")
	}
}

func TestLRUSetEvictsOldestTenPercentAtCapacity(t *testing.T) {
	set := newLRUSet(100)
	for i := 0; i < 100; i++ {
		set.Add(strconv.Itoa(i))
	}
	if set.Len() != 100 {
		t.Fatalf("expected 100 entries, got %d", set.Len())
	}

	set.Add("new-entry")
	if set.Len() != 91 {
		t.Fatalf("expected 91 entries after a 10-entry eviction plus one insert, got %d", set.Len())
	}
	if set.Contains("0") {
		t.Fatal("expected the oldest entry to have been evicted")
	}
	if !set.Contains("new-entry") {
		t.Fatal("expected the newly added entry to be present")
	}
	if !set.Contains("99") {
		t.Fatal("expected the most recently added pre-eviction entry to survive")
	}
}

func TestLRUSetAddIsIdempotent(t *testing.T) {
	set := newLRUSet(10)
	set.Add("a")
	set.Add("a")
	if set.Len() != 1 {
		t.Fatalf("expected duplicate Add to be a no-op, got length %d", set.Len())
	}
}
