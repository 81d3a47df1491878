// Package assets implements custody for the marketplace's fixed collection of
// non-fungible assets: an ownership table with per-asset and per-operator
// approvals, and receipt acknowledgment for contract-like recipients.
package assets

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrAssetNotFound    = errors.New("assets: asset not found")
	ErrAssetExists      = errors.New("assets: asset already minted")
	ErrNotOwner         = errors.New("assets: holder does not own the asset")
	ErrNotAuthorized    = errors.New("assets: caller lacks transfer authority")
	ErrReceiverRejected = errors.New("assets: recipient rejected the asset")
	ErrZeroAddress      = errors.New("assets: zero address not allowed")
	errNilRegistryState = errors.New("assets: registry state not configured")
)

// CollectionAddress identifies the single asset collection this marketplace
// design supports.
var CollectionAddress = common.BytesToAddress(ethcrypto.Keccak256([]byte("nftmarket/collection"))[12:])

// ReceiptAck is the confirmation value a contract-like recipient must return
// for a transfer to complete, derived the same way contract ABIs derive
// function selectors.
var ReceiptAck = receiptSelector()

func receiptSelector() [4]byte {
	var sel [4]byte
	copy(sel[:], ethcrypto.Keccak256([]byte("onAssetReceived(address,address,uint256)"))[:4])
	return sel
}

// Receiver is implemented by contract-like parties that must acknowledge
// receipt of an asset. Returning anything other than ReceiptAck, or an error,
// reverts the transfer.
type Receiver interface {
	OnAssetReceived(operator, from common.Address, assetID uint64) ([4]byte, error)
}

// registryState is the ledger interface backing the ownership and approval
// tables.
type registryState interface {
	AssetOwnerGet(assetID uint64) (common.Address, bool, error)
	AssetOwnerPut(assetID uint64, owner common.Address) error
	AssetApprovalGet(assetID uint64) (common.Address, bool, error)
	AssetApprovalPut(assetID uint64, operator common.Address) error
	AssetApprovalClear(assetID uint64) error
	OperatorApprovalGet(owner, operator common.Address) (bool, error)
	OperatorApprovalSet(owner, operator common.Address, approved bool) error
}

// Registry tracks ownership of the collection's assets. Transfers require the
// operator to be the owner, the per-asset approved delegate, or an approved
// operator for the owner's whole holding.
type Registry struct {
	state registryState

	mu        sync.RWMutex
	receivers map[common.Address]Receiver
}

// NewRegistry creates a registry without a state backend; callers wire one
// via SetState before use.
func NewRegistry() *Registry {
	return &Registry{receivers: make(map[common.Address]Receiver)}
}

// SetState configures the ledger backend used by the registry.
func (r *Registry) SetState(state registryState) { r.state = state }

// RegisterReceiver attaches receive-acknowledgment behavior to an address,
// marking it contract-like. Passing nil removes the hook.
func (r *Registry) RegisterReceiver(addr common.Address, recv Receiver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if recv == nil {
		delete(r.receivers, addr)
		return
	}
	r.receivers[addr] = recv
}

func (r *Registry) receiver(addr common.Address) (Receiver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	recv, ok := r.receivers[addr]
	return recv, ok
}

// Mint assigns a fresh asset to the owner. Used at genesis and by tests.
func (r *Registry) Mint(owner common.Address, assetID uint64) error {
	if r == nil || r.state == nil {
		return errNilRegistryState
	}
	if owner == (common.Address{}) {
		return ErrZeroAddress
	}
	if _, ok, err := r.state.AssetOwnerGet(assetID); err != nil {
		return err
	} else if ok {
		return ErrAssetExists
	}
	return r.state.AssetOwnerPut(assetID, owner)
}

// OwnerOf returns the current owner of the asset.
func (r *Registry) OwnerOf(assetID uint64) (common.Address, bool, error) {
	if r == nil || r.state == nil {
		return common.Address{}, false, errNilRegistryState
	}
	return r.state.AssetOwnerGet(assetID)
}

// Approve grants operator the right to move one specific asset. Only the
// owner may grant it; the zero operator clears the approval.
func (r *Registry) Approve(caller, operator common.Address, assetID uint64) error {
	if r == nil || r.state == nil {
		return errNilRegistryState
	}
	owner, ok, err := r.state.AssetOwnerGet(assetID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAssetNotFound
	}
	if owner != caller {
		return ErrNotOwner
	}
	if operator == (common.Address{}) {
		return r.state.AssetApprovalClear(assetID)
	}
	return r.state.AssetApprovalPut(assetID, operator)
}

// SetApprovalForAll grants or revokes operator authority over every asset the
// caller owns, now and in the future.
func (r *Registry) SetApprovalForAll(caller, operator common.Address, approved bool) error {
	if r == nil || r.state == nil {
		return errNilRegistryState
	}
	if caller == (common.Address{}) || operator == (common.Address{}) {
		return ErrZeroAddress
	}
	return r.state.OperatorApprovalSet(caller, operator, approved)
}

// IsApproved reports whether operator may move the asset on the owner's
// behalf.
func (r *Registry) IsApproved(owner, operator common.Address, assetID uint64) (bool, error) {
	if r == nil || r.state == nil {
		return false, errNilRegistryState
	}
	if owner == operator {
		return true, nil
	}
	if approved, ok, err := r.state.AssetApprovalGet(assetID); err != nil {
		return false, err
	} else if ok && approved == operator {
		return true, nil
	}
	return r.state.OperatorApprovalGet(owner, operator)
}

// TransferFrom moves the asset from its current holder to the recipient. The
// operator must hold transfer authority over the asset, and a contract-like
// recipient must acknowledge receipt with ReceiptAck or the transfer fails.
// A successful transfer clears the per-asset approval.
func (r *Registry) TransferFrom(operator, from, to common.Address, assetID uint64) error {
	if r == nil || r.state == nil {
		return errNilRegistryState
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	owner, ok, err := r.state.AssetOwnerGet(assetID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAssetNotFound
	}
	if owner != from {
		return ErrNotOwner
	}
	authorized, err := r.IsApproved(owner, operator, assetID)
	if err != nil {
		return err
	}
	if !authorized {
		return ErrNotAuthorized
	}
	if recv, isContract := r.receiver(to); isContract {
		ack, err := recv.OnAssetReceived(operator, from, assetID)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrReceiverRejected, err)
		}
		if ack != ReceiptAck {
			return ErrReceiverRejected
		}
	}
	if err := r.state.AssetApprovalClear(assetID); err != nil {
		return err
	}
	return r.state.AssetOwnerPut(assetID, to)
}

// Custodian binds the registry to the marketplace's operator identity,
// satisfying the engine's AssetCustody interface.
type Custodian struct {
	registry *Registry
	operator common.Address
}

// NewCustodian wraps the registry with the operator address the marketplace
// acts under.
func NewCustodian(registry *Registry, operator common.Address) *Custodian {
	return &Custodian{registry: registry, operator: operator}
}

// OwnerOf returns the asset's current owner.
func (c *Custodian) OwnerOf(assetID uint64) (common.Address, bool, error) {
	return c.registry.OwnerOf(assetID)
}

// MarketApproved reports whether the marketplace may move the owner's asset.
func (c *Custodian) MarketApproved(owner common.Address, assetID uint64) (bool, error) {
	return c.registry.IsApproved(owner, c.operator, assetID)
}

// Transfer moves the asset acting as the marketplace operator. Transfers out
// of escrow originate from the vault itself, which owns the asset while a
// sale is unresolved, so operator authority always holds for that leg.
func (c *Custodian) Transfer(from, to common.Address, assetID uint64) error {
	return c.registry.TransferFrom(c.operator, from, to, assetID)
}
