// Package state persists the relay's process state — five bounded id
// sets, four scan cursors, and a version gate — atomically to a single
// JSON file.
//
// CONCURRENCY: Store assumes single-writer access from the scheduler
// thread only. Other readers go through its accessor methods (Cursors
// returns a copy) rather than touching the underlying struct.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// CurrentVersion gates forward-compatibility of the persisted file.
const CurrentVersion = 1

// MaxFileSize bounds the state file; anything larger is treated as
// corrupt and ignored rather than loaded (spec §5).
const MaxFileSize = 5 * 1024 * 1024

// ErrCorrupt is returned by Load when the file exceeds MaxFileSize or
// fails to unmarshal.
var ErrCorrupt = fmt.Errorf("state file is corrupt or exceeds the maximum size")

// Cursors holds the four scan cursors spec §3 names.
type Cursors struct {
	BridgeOutBlock        uint64 `json:"bridgeOutBlock"`
	StakingYieldBlock     uint64 `json:"stakingYieldBlock"`
	ETHPoolYieldBlock     uint64 `json:"ethPoolYieldBlock"`
	HighestSubmittedNonce uint64 `json:"highestSubmittedNonce"`
}

// document is the on-disk shape.
type document struct {
	Version                int             `json:"version"`
	Cursors                Cursors         `json:"cursors"`
	ConsumedAttestationIds *lruSet         `json:"consumedAttestationIds"`
	RelayedBridgeOutIds    *lruSet         `json:"relayedBridgeOutIds"`
	ProcessedStakingEpochs *lruSet         `json:"processedStakingEpochs"`
	ProcessedETHPoolEpochs *lruSet         `json:"processedEthPoolEpochs"`
	SettledRedemptionIds   *lruSet         `json:"settledRedemptionIds"`
}

// Store is the file-backed process state store.
type Store struct {
	mu   sync.RWMutex
	path string
	doc  document
}

// New constructs an empty Store backed by path. Call Load to populate it
// from an existing file, if any.
func New(path string) *Store {
	return &Store{
		path: path,
		doc: document{
			Version:                CurrentVersion,
			ConsumedAttestationIds: newLRUSet(defaultCapacity),
			RelayedBridgeOutIds:    newLRUSet(defaultCapacity),
			ProcessedStakingEpochs: newLRUSet(defaultCapacity),
			ProcessedETHPoolEpochs: newLRUSet(defaultCapacity),
			SettledRedemptionIds:   newLRUSet(defaultCapacity),
		},
	}
}

// Load reads the state file at path, if present. A missing file is not an
// error — the Store starts empty. A file larger than MaxFileSize, or one
// that fails to unmarshal, is reported as ErrCorrupt and left unloaded
// (the Store still starts empty, same as a missing file); the relay
// ignores that error rather than aborting startup.
func (s *Store) Load() error {
	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat state file: %w", err)
	}
	if info.Size() > MaxFileSize {
		return ErrCorrupt
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return ErrCorrupt
	}
	if doc.Version > CurrentVersion {
		return fmt.Errorf("state file version %d is newer than this relay's version %d", doc.Version, CurrentVersion)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.ConsumedAttestationIds == nil {
		doc.ConsumedAttestationIds = newLRUSet(defaultCapacity)
	}
	if doc.RelayedBridgeOutIds == nil {
		doc.RelayedBridgeOutIds = newLRUSet(defaultCapacity)
	}
	if doc.ProcessedStakingEpochs == nil {
		doc.ProcessedStakingEpochs = newLRUSet(defaultCapacity)
	}
	if doc.ProcessedETHPoolEpochs == nil {
		doc.ProcessedETHPoolEpochs = newLRUSet(defaultCapacity)
	}
	if doc.SettledRedemptionIds == nil {
		doc.SettledRedemptionIds = newLRUSet(defaultCapacity)
	}
	doc.Version = CurrentVersion
	s.doc = doc
	return nil
}

// Save writes the state file atomically via temp-file-then-rename.
func (s *Store) Save() error {
	s.mu.RLock()
	data, err := json.Marshal(s.doc)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to fsync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to rename temp state file into place: %w", err)
	}
	return nil
}

// Cursors returns a copy of the current scan cursors.
func (s *Store) Cursors() Cursors {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Cursors
}

// SetCursors replaces the scan cursors.
func (s *Store) SetCursors(c Cursors) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Cursors = c
}

// ConsumedAttestationIds returns the LRU id-set tracking consumed
// attestation ids.
func (s *Store) ConsumedAttestationIds() *lruSet { return s.doc.ConsumedAttestationIds }

// RelayedBridgeOutIds returns the LRU id-set tracking relayed bridge-out
// request ids.
func (s *Store) RelayedBridgeOutIds() *lruSet { return s.doc.RelayedBridgeOutIds }

// ProcessedStakingEpochs returns the LRU id-set tracking processed D4
// staking-pool yield epochs.
func (s *Store) ProcessedStakingEpochs() *lruSet { return s.doc.ProcessedStakingEpochs }

// ProcessedETHPoolEpochs returns the LRU id-set tracking processed D4b
// ETH-pool yield epochs.
func (s *Store) ProcessedETHPoolEpochs() *lruSet { return s.doc.ProcessedETHPoolEpochs }

// SettledRedemptionIds returns the LRU id-set tracking settled redemption
// contract ids.
func (s *Store) SettledRedemptionIds() *lruSet { return s.doc.SettledRedemptionIds }
