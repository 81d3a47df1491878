// Package state implements the marketplace ledger over a key-value store.
// All mutations go through a single journaled overlay so every public
// marketplace operation can commit entirely or revert entirely.
package state

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"nftmarket/core/types"
	"nftmarket/native/market"
	"nftmarket/storage"
)

const (
	prefixListing       = "market/listing/"
	prefixActiveSale    = "market/active/"
	keyListingSequence  = "market/seq/listing"
	keyFeeConfig        = "market/fees"
	keyPauses           = "params/pauses"
	prefixParam         = "params/"
	prefixAccount       = "ledger/account/"
	prefixAssetOwner    = "assets/owner/"
	prefixAssetApproval = "assets/approval/"
	prefixOperator      = "assets/operator/"
)

// MarketState is the concrete ledger backing the marketplace engine, the
// asset registry and the payout gateway. Reads fall through to the database;
// writes land in an in-memory overlay and reach the database only on Commit.
// Snapshot/RevertToSnapshot bracket one marketplace operation each.
type MarketState struct {
	db storage.Database

	cache  map[string][]byte
	loaded map[string]bool
	dirty  map[string]bool

	journal []revision
}

// revision records the overlay entry a write replaced so it can be restored
// on revert.
type revision struct {
	key         string
	prev        []byte
	prevInCache bool
	prevDirty   bool
}

// NewMarketState wraps the database with an empty overlay.
func NewMarketState(db storage.Database) *MarketState {
	return &MarketState{
		db:     db,
		cache:  make(map[string][]byte),
		loaded: make(map[string]bool),
		dirty:  make(map[string]bool),
	}
}

// Snapshot marks the current journal position. The returned value is only
// valid for RevertToSnapshot until the next Commit.
func (s *MarketState) Snapshot() int {
	return len(s.journal)
}

// RevertToSnapshot undoes every write journaled after the snapshot was taken.
func (s *MarketState) RevertToSnapshot(snap int) {
	if snap < 0 || snap > len(s.journal) {
		return
	}
	for i := len(s.journal) - 1; i >= snap; i-- {
		rev := s.journal[i]
		if rev.prevInCache {
			s.cache[rev.key] = rev.prev
			s.loaded[rev.key] = true
		} else {
			delete(s.cache, rev.key)
			delete(s.loaded, rev.key)
		}
		if rev.prevDirty {
			s.dirty[rev.key] = true
		} else {
			delete(s.dirty, rev.key)
		}
	}
	s.journal = s.journal[:snap]
}

// Commit flushes all dirty overlay entries to the database and resets the
// journal. Snapshots taken before Commit become invalid.
func (s *MarketState) Commit() error {
	for key := range s.dirty {
		value, ok := s.cache[key]
		if !ok || value == nil {
			if err := s.db.Delete([]byte(key)); err != nil {
				return fmt.Errorf("state commit: delete %s: %w", key, err)
			}
			continue
		}
		if err := s.db.Put([]byte(key), value); err != nil {
			return fmt.Errorf("state commit: put %s: %w", key, err)
		}
	}
	s.dirty = make(map[string]bool)
	s.journal = s.journal[:0]
	return nil
}

func (s *MarketState) get(key string) ([]byte, error) {
	if s.loaded[key] {
		return s.cache[key], nil
	}
	value, err := s.db.Get([]byte(key))
	if errors.Is(err, storage.ErrKeyNotFound) {
		s.cache[key] = nil
		s.loaded[key] = true
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.cache[key] = value
	s.loaded[key] = true
	return value, nil
}

func (s *MarketState) set(key string, value []byte) {
	prev, inCache := s.cache[key]
	s.journal = append(s.journal, revision{
		key:         key,
		prev:        prev,
		prevInCache: inCache && s.loaded[key],
		prevDirty:   s.dirty[key],
	})
	s.cache[key] = value
	s.loaded[key] = true
	s.dirty[key] = true
}

func (s *MarketState) getJSON(key string, out interface{}) (bool, error) {
	raw, err := s.get(key)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *MarketState) setJSON(key string, in interface{}) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", key, err)
	}
	s.set(key, raw)
	return nil
}

func keyForID(prefix string, id uint64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return prefix + string(buf[:])
}

func keyForAddress(prefix string, addr common.Address) string {
	return prefix + addr.Hex()
}

// --- market engine state ---

// ListingPut validates and stores the listing.
func (s *MarketState) ListingPut(l *market.Listing) error {
	sanitized, err := market.SanitizeListing(l)
	if err != nil {
		return err
	}
	return s.setJSON(keyForID(prefixListing, sanitized.ID), sanitized)
}

// ListingGet returns the stored listing, if any. A backend failure is
// reported as an error, never as absence.
func (s *MarketState) ListingGet(id uint64) (*market.Listing, bool, error) {
	listing := new(market.Listing)
	ok, err := s.getJSON(keyForID(prefixListing, id), listing)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return listing, true, nil
}

// NextListingID allocates the next sequential listing identifier, starting
// at 1. Identifiers are never reused.
func (s *MarketState) NextListingID() (uint64, error) {
	var current uint64
	if _, err := s.getJSON(keyListingSequence, &current); err != nil {
		return 0, err
	}
	next := current + 1
	if err := s.setJSON(keyListingSequence, next); err != nil {
		return 0, err
	}
	return next, nil
}

// ActiveListing returns the id of the active listing for the asset, if one
// exists. A backend failure is reported as an error, never as absence.
func (s *MarketState) ActiveListing(assetID uint64) (uint64, bool, error) {
	var listingID uint64
	ok, err := s.getJSON(keyForID(prefixActiveSale, assetID), &listingID)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, nil
	}
	return listingID, true, nil
}

// SetActiveListing marks the asset as on sale under the given listing.
func (s *MarketState) SetActiveListing(assetID, listingID uint64) error {
	return s.setJSON(keyForID(prefixActiveSale, assetID), listingID)
}

// ClearActiveListing removes the asset's on-sale marker.
func (s *MarketState) ClearActiveListing(assetID uint64) error {
	s.set(keyForID(prefixActiveSale, assetID), nil)
	return nil
}

// FeeConfigGet returns the stored fee configuration, or an empty one when the
// ledger holds none yet.
func (s *MarketState) FeeConfigGet() (*market.FeeConfig, error) {
	cfg := new(market.FeeConfig)
	ok, err := s.getJSON(keyFeeConfig, cfg)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &market.FeeConfig{Exempt: make(map[common.Address]bool)}, nil
	}
	if cfg.Exempt == nil {
		cfg.Exempt = make(map[common.Address]bool)
	}
	return cfg, nil
}

// FeeConfigPut validates and stores the fee configuration.
func (s *MarketState) FeeConfigPut(cfg *market.FeeConfig) error {
	sanitized, err := market.SanitizeFeeConfig(cfg)
	if err != nil {
		return err
	}
	return s.setJSON(keyFeeConfig, sanitized)
}

// --- module pauses ---

// PausesGet returns the persisted module pause set, empty when none has been
// stored yet.
func (s *MarketState) PausesGet() (map[string]bool, error) {
	pauses := make(map[string]bool)
	if _, err := s.getJSON(keyPauses, &pauses); err != nil {
		return nil, err
	}
	return pauses, nil
}

// PausesPut stores the module pause set.
func (s *MarketState) PausesPut(pauses map[string]bool) error {
	return s.setJSON(keyPauses, pauses)
}

// IsPaused reports whether the named module is administratively paused. It
// satisfies the pause view the engines guard on.
func (s *MarketState) IsPaused(module string) bool {
	pauses, err := s.PausesGet()
	if err != nil {
		return false
	}
	return pauses[module]
}

// --- parameter store ---

// ParamGet returns the raw parameter value stored under name.
func (s *MarketState) ParamGet(name string) ([]byte, bool, error) {
	raw, err := s.get(prefixParam + name)
	if err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, false, nil
	}
	return raw, true, nil
}

// ParamPut stores a raw parameter value under name. The write is journaled
// like every other ledger mutation.
func (s *MarketState) ParamPut(name string, value []byte) error {
	s.set(prefixParam+name, value)
	return nil
}

// --- accounts ---

// GetAccount returns the account for the address, defaulting to a zero
// balance when the ledger holds no record.
func (s *MarketState) GetAccount(addr common.Address) (*types.Account, error) {
	account := new(types.Account)
	ok, err := s.getJSON(keyForAddress(prefixAccount, addr), account)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	if account.Balance == nil {
		account.Balance = big.NewInt(0)
	}
	return account, nil
}

// PutAccount stores the account record.
func (s *MarketState) PutAccount(addr common.Address, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account for %s", addr.Hex())
	}
	return s.setJSON(keyForAddress(prefixAccount, addr), account)
}

// --- asset registry state ---

// AssetOwnerGet returns the owner of the asset, if minted.
func (s *MarketState) AssetOwnerGet(assetID uint64) (common.Address, bool, error) {
	var owner common.Address
	ok, err := s.getJSON(keyForID(prefixAssetOwner, assetID), &owner)
	if err != nil {
		return common.Address{}, false, err
	}
	return owner, ok, nil
}

// AssetOwnerPut records the asset's owner.
func (s *MarketState) AssetOwnerPut(assetID uint64, owner common.Address) error {
	return s.setJSON(keyForID(prefixAssetOwner, assetID), owner)
}

// AssetApprovalGet returns the per-asset approved delegate, if any.
func (s *MarketState) AssetApprovalGet(assetID uint64) (common.Address, bool, error) {
	var operator common.Address
	ok, err := s.getJSON(keyForID(prefixAssetApproval, assetID), &operator)
	if err != nil {
		return common.Address{}, false, err
	}
	return operator, ok, nil
}

// AssetApprovalPut records the per-asset approved delegate.
func (s *MarketState) AssetApprovalPut(assetID uint64, operator common.Address) error {
	return s.setJSON(keyForID(prefixAssetApproval, assetID), operator)
}

// AssetApprovalClear removes the per-asset approval.
func (s *MarketState) AssetApprovalClear(assetID uint64) error {
	s.set(keyForID(prefixAssetApproval, assetID), nil)
	return nil
}

// OperatorApprovalGet reports whether operator holds blanket authority over
// the owner's assets.
func (s *MarketState) OperatorApprovalGet(owner, operator common.Address) (bool, error) {
	var approved bool
	ok, err := s.getJSON(operatorKey(owner, operator), &approved)
	if err != nil {
		return false, err
	}
	return ok && approved, nil
}

// OperatorApprovalSet grants or revokes blanket operator authority.
func (s *MarketState) OperatorApprovalSet(owner, operator common.Address, approved bool) error {
	if !approved {
		s.set(operatorKey(owner, operator), nil)
		return nil
	}
	return s.setJSON(operatorKey(owner, operator), true)
}

func operatorKey(owner, operator common.Address) string {
	return prefixOperator + owner.Hex() + "/" + operator.Hex()
}
