package market

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"nftmarket/core/events"
	"nftmarket/core/types"
	nativecommon "nftmarket/native/common"
)

const moduleName = "market"

// EscrowVaultAddress is the address holding custodied assets and escrowed
// funds while a sale is unresolved. It is keccak-derived so it cannot collide
// with a key-derived account.
var EscrowVaultAddress = common.BytesToAddress(ethcrypto.Keccak256([]byte("nftmarket/escrow-vault"))[12:])

var (
	errNilState   = errors.New("market engine: state not configured")
	errNilCustody = errors.New("market engine: asset custody not configured")
	errNilPayouts = errors.New("market engine: payout gateway not configured")
)

// engineState is the narrow ledger interface the engine mutates. All writes
// performed through it must be journaled by the backing implementation so a
// failed operation can be reverted as a whole.
type engineState interface {
	ListingPut(*Listing) error
	ListingGet(id uint64) (*Listing, bool, error)
	NextListingID() (uint64, error)
	ActiveListing(assetID uint64) (uint64, bool, error)
	SetActiveListing(assetID, listingID uint64) error
	ClearActiveListing(assetID uint64) error
	FeeConfigGet() (*FeeConfig, error)
	FeeConfigPut(*FeeConfig) error
}

// AssetCustody moves ownership of a uniquely identified asset between two
// parties. Transfer fails when the holder does not own the asset, when the
// marketplace lacks delegated authority, or when a contract-like recipient
// refuses to acknowledge receipt.
type AssetCustody interface {
	OwnerOf(assetID uint64) (common.Address, bool, error)
	MarketApproved(owner common.Address, assetID uint64) (bool, error)
	Transfer(from, to common.Address, assetID uint64) error
}

// PayoutGateway moves value between external accounts and the escrow vault.
// Pay fails when the recipient rejects the value; that failure must abort the
// entire enclosing operation.
type PayoutGateway interface {
	Collect(from common.Address, amount *big.Int) error
	Pay(to common.Address, amount *big.Int) error
}

type marketEvent struct {
	evt *types.Event
}

func (e marketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e marketEvent) Event() *types.Event { return e.evt }

// Engine is the listing/bidding/settlement state machine. It owns no storage
// of its own: listings, bids and fee state live behind engineState, assets
// behind the custody gateway and funds behind the payout gateway. The engine
// assumes its caller serializes operations and reverts journaled writes when
// a method returns an error.
type Engine struct {
	state   engineState
	custody AssetCustody
	payouts PayoutGateway
	emitter events.Emitter
	pauses  nativecommon.PauseView
	admin   common.Address
	nowFn   func() int64
}

// NewEngine creates a marketplace engine with a no-op emitter. Callers wire
// the state, gateways and emitter before use.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the ledger backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetCustody configures the asset custody gateway.
func (e *Engine) SetCustody(custody AssetCustody) { e.custody = custody }

// SetPayouts configures the payout gateway.
func (e *Engine) SetPayouts(payouts PayoutGateway) { e.payouts = payouts }

// SetAdmin configures the administrator account for fee settings.
func (e *Engine) SetAdmin(admin common.Address) { e.admin = admin }

// SetPauses configures the module pause view.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily used in tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.custody == nil {
		return errNilCustody
	}
	if e.payouts == nil {
		return errNilPayouts
	}
	return nil
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(marketEvent{evt: evt})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadListing(id uint64) (*Listing, error) {
	listing, ok, err := e.state.ListingGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrListingNotFound
	}
	return SanitizeListing(listing)
}

// activeListing loads the listing and verifies it is the live sale for its
// asset: not sold, not canceled, and still indexed as on sale.
func (e *Engine) activeListing(id uint64) (*Listing, error) {
	listing, err := e.loadListing(id)
	if err != nil {
		return nil, err
	}
	if listing.Terminal() {
		return nil, ErrListingNotActive
	}
	activeID, ok, err := e.state.ActiveListing(listing.AssetID)
	if err != nil {
		return nil, err
	}
	if !ok || activeID != listing.ID {
		return nil, ErrListingNotActive
	}
	return listing, nil
}

func (e *Engine) feeConfig() (*FeeConfig, error) {
	cfg, err := e.state.FeeConfigGet()
	if err != nil {
		return nil, err
	}
	return SanitizeFeeConfig(cfg)
}

// SetFeeRemittanceAddress changes the destination for marketplace fees.
// Administrator only.
func (e *Engine) SetFeeRemittanceAddress(caller, addr common.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.admin == (common.Address{}) || caller != e.admin {
		return ErrNotAdministrator
	}
	if addr == (common.Address{}) {
		return ErrZeroAddress
	}
	cfg, err := e.feeConfig()
	if err != nil {
		return err
	}
	cfg.Remittance = addr
	if err := e.state.FeeConfigPut(cfg); err != nil {
		return err
	}
	e.emit(NewFeeRemittanceUpdatedEvent(addr))
	return nil
}

// SetFeeExemption toggles the per-seller fee exemption flag. Administrator
// only.
func (e *Engine) SetFeeExemption(caller, seller common.Address, exempt bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.admin == (common.Address{}) || caller != e.admin {
		return ErrNotAdministrator
	}
	if seller == (common.Address{}) {
		return ErrZeroAddress
	}
	cfg, err := e.feeConfig()
	if err != nil {
		return err
	}
	if exempt {
		cfg.Exempt[seller] = true
	} else {
		delete(cfg.Exempt, seller)
	}
	if err := e.state.FeeConfigPut(cfg); err != nil {
		return err
	}
	e.emit(NewFeeExemptionUpdatedEvent(seller, exempt))
	return nil
}

// GetListing returns a copy of the stored listing.
func (e *Engine) GetListing(id uint64) (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadListing(id)
}

// BidOf returns the caller's bid record for a listing, or ErrNoActiveBids
// when the address never bid on it.
func (e *Engine) BidOf(listingID uint64, bidder common.Address) (*Bid, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	listing, err := e.loadListing(listingID)
	if err != nil {
		return nil, err
	}
	bid, ok := listing.Bids[bidder]
	if !ok {
		return nil, ErrNoActiveBids
	}
	return bid.Clone(), nil
}

// Bidders returns every address that has ever placed a bid on the listing, in
// insertion order.
func (e *Engine) Bidders(listingID uint64) ([]common.Address, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	listing, err := e.loadListing(listingID)
	if err != nil {
		return nil, err
	}
	return append([]common.Address(nil), listing.BidderList...), nil
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func checkPayment(amount, value *big.Int) error {
	if value == nil || value.Cmp(amount) < 0 {
		return ErrInsufficientPayment
	}
	return nil
}

func rejected(op string, err error) error {
	return fmt.Errorf("%s: %s: %w", op, err, ErrTransferRejected)
}
