package market

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"nftmarket/core/events"
	"nftmarket/core/types"
	nativecommon "nftmarket/native/common"
)

type mockState struct {
	listings map[uint64]*Listing
	active   map[uint64]uint64
	fees     *FeeConfig
	seq      uint64
	readErr  error
}

func newMockState() *mockState {
	return &mockState{
		listings: make(map[uint64]*Listing),
		active:   make(map[uint64]uint64),
		fees:     &FeeConfig{Exempt: make(map[common.Address]bool)},
	}
}

func (m *mockState) ListingPut(l *Listing) error {
	sanitized, err := SanitizeListing(l)
	if err != nil {
		return err
	}
	m.listings[sanitized.ID] = sanitized.Clone()
	return nil
}

func (m *mockState) ListingGet(id uint64) (*Listing, bool, error) {
	if m.readErr != nil {
		return nil, false, m.readErr
	}
	listing, ok := m.listings[id]
	if !ok {
		return nil, false, nil
	}
	return listing.Clone(), true, nil
}

func (m *mockState) NextListingID() (uint64, error) {
	m.seq++
	return m.seq, nil
}

func (m *mockState) ActiveListing(assetID uint64) (uint64, bool, error) {
	if m.readErr != nil {
		return 0, false, m.readErr
	}
	id, ok := m.active[assetID]
	return id, ok, nil
}

func (m *mockState) SetActiveListing(assetID, listingID uint64) error {
	m.active[assetID] = listingID
	return nil
}

func (m *mockState) ClearActiveListing(assetID uint64) error {
	delete(m.active, assetID)
	return nil
}

func (m *mockState) FeeConfigGet() (*FeeConfig, error) {
	return m.fees.Clone(), nil
}

func (m *mockState) FeeConfigPut(cfg *FeeConfig) error {
	sanitized, err := SanitizeFeeConfig(cfg)
	if err != nil {
		return err
	}
	m.fees = sanitized
	return nil
}

type mockCustody struct {
	owners    map[uint64]common.Address
	approved  map[uint64]bool
	transfers int
	rejectTo  map[common.Address]bool
}

func newMockCustody() *mockCustody {
	return &mockCustody{
		owners:   make(map[uint64]common.Address),
		approved: make(map[uint64]bool),
		rejectTo: make(map[common.Address]bool),
	}
}

func (m *mockCustody) OwnerOf(assetID uint64) (common.Address, bool, error) {
	owner, ok := m.owners[assetID]
	return owner, ok, nil
}

func (m *mockCustody) MarketApproved(owner common.Address, assetID uint64) (bool, error) {
	return m.approved[assetID], nil
}

func (m *mockCustody) Transfer(from, to common.Address, assetID uint64) error {
	owner, ok := m.owners[assetID]
	if !ok || owner != from {
		return fmt.Errorf("custody: %s does not hold asset %d", from.Hex(), assetID)
	}
	if m.rejectTo[to] {
		return fmt.Errorf("custody: %s refused asset %d", to.Hex(), assetID)
	}
	m.owners[assetID] = to
	m.transfers++
	return nil
}

type mockPayout struct {
	balances map[common.Address]*big.Int
	escrowed *big.Int
	paid     map[common.Address]*big.Int
	reject   map[common.Address]bool
}

func newMockPayout() *mockPayout {
	return &mockPayout{
		balances: make(map[common.Address]*big.Int),
		escrowed: big.NewInt(0),
		paid:     make(map[common.Address]*big.Int),
		reject:   make(map[common.Address]bool),
	}
}

func (m *mockPayout) fund(addr common.Address, amount int64) {
	m.balances[addr] = big.NewInt(amount)
}

func (m *mockPayout) Collect(from common.Address, amount *big.Int) error {
	balance, ok := m.balances[from]
	if !ok || balance.Cmp(amount) < 0 {
		return ErrInsufficientPayment
	}
	m.balances[from] = new(big.Int).Sub(balance, amount)
	m.escrowed = new(big.Int).Add(m.escrowed, amount)
	return nil
}

func (m *mockPayout) Pay(to common.Address, amount *big.Int) error {
	if m.reject[to] {
		return errors.New("recipient refused the value")
	}
	if m.escrowed.Cmp(amount) < 0 {
		return fmt.Errorf("escrow short: holds %s, need %s", m.escrowed, amount)
	}
	m.escrowed = new(big.Int).Sub(m.escrowed, amount)
	total, ok := m.paid[to]
	if !ok {
		total = big.NewInt(0)
	}
	m.paid[to] = new(big.Int).Add(total, amount)
	return nil
}

func (m *mockPayout) paidTo(addr common.Address) int64 {
	total, ok := m.paid[addr]
	if !ok {
		return 0
	}
	return total.Int64()
}

type captureEmitter struct {
	events []*types.Event
}

func (c *captureEmitter) Emit(evt events.Event) {
	if p, ok := evt.(events.Payloader); ok {
		c.events = append(c.events, p.Event())
	}
}

func (c *captureEmitter) last() *types.Event {
	if len(c.events) == 0 {
		return nil
	}
	return c.events[len(c.events)-1]
}

func newTestAddress(fill byte) common.Address {
	var addr common.Address
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

var (
	seller = newTestAddress(0x01)
	buyer  = newTestAddress(0x02)
	bidX   = newTestAddress(0x03)
	bidY   = newTestAddress(0x04)
	admin  = newTestAddress(0x0A)
	feeDst = newTestAddress(0x0F)
)

type testEnv struct {
	engine  *Engine
	state   *mockState
	custody *mockCustody
	payout  *mockPayout
	emitter *captureEmitter
}

const testAssetID uint64 = 7

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		state:   newMockState(),
		custody: newMockCustody(),
		payout:  newMockPayout(),
		emitter: &captureEmitter{},
	}
	env.engine = NewEngine()
	env.engine.SetState(env.state)
	env.engine.SetCustody(env.custody)
	env.engine.SetPayouts(env.payout)
	env.engine.SetEmitter(env.emitter)
	env.engine.SetAdmin(admin)
	env.engine.SetNowFunc(func() int64 { return 1700000000 })

	env.custody.owners[testAssetID] = seller
	env.custody.approved[testAssetID] = true
	env.payout.fund(buyer, 1_000)
	env.payout.fund(bidX, 1_000)
	env.payout.fund(bidY, 1_000)
	return env
}

func (env *testEnv) mustList(t *testing.T, price int64, auction bool) uint64 {
	t.Helper()
	id, err := env.engine.CreateListing(seller, testAssetID, big.NewInt(price), auction)
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	return id
}

func (env *testEnv) mustBid(t *testing.T, bidder common.Address, listingID uint64, amount int64) {
	t.Helper()
	if err := env.engine.PlaceBid(bidder, listingID, big.NewInt(amount), big.NewInt(amount)); err != nil {
		t.Fatalf("place bid %s %d: %v", bidder.Hex(), amount, err)
	}
}

func TestCreateListingChecks(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.engine.CreateListing(buyer, testAssetID, big.NewInt(100), false); !errors.Is(err, ErrNotAssetOwner) {
		t.Fatalf("expected ErrNotAssetOwner, got %v", err)
	}

	env.custody.approved[testAssetID] = false
	if _, err := env.engine.CreateListing(seller, testAssetID, big.NewInt(100), false); !errors.Is(err, ErrCustodyNotApproved) {
		t.Fatalf("expected ErrCustodyNotApproved, got %v", err)
	}
	env.custody.approved[testAssetID] = true

	id := env.mustList(t, 100, false)
	if id != 1 {
		t.Fatalf("expected first listing id 1, got %d", id)
	}
	if owner := env.custody.owners[testAssetID]; owner != EscrowVaultAddress {
		t.Fatalf("asset should be in escrow, held by %s", owner.Hex())
	}
	if activeID, ok, _ := env.state.ActiveListing(testAssetID); !ok || activeID != id {
		t.Fatalf("asset should be flagged on sale under listing %d", id)
	}
	if evt := env.emitter.last(); evt == nil || evt.Type != EventTypeListingCreated {
		t.Fatalf("expected listing created event, got %+v", evt)
	}

	// Once escrowed the seller no longer owns the asset, so a repeat attempt
	// fails on the ownership check.
	if _, err := env.engine.CreateListing(seller, testAssetID, big.NewInt(100), false); !errors.Is(err, ErrNotAssetOwner) {
		t.Fatalf("expected ErrNotAssetOwner, got %v", err)
	}
	// Even with ownership restored out of band, the active-sale index blocks a
	// second listing for the same asset.
	env.custody.owners[testAssetID] = seller
	if _, err := env.engine.CreateListing(seller, testAssetID, big.NewInt(100), false); !errors.Is(err, ErrAlreadyListed) {
		t.Fatalf("expected ErrAlreadyListed, got %v", err)
	}
}

func TestFixedPricePurchase(t *testing.T) {
	env := newTestEnv(t)
	id := env.mustList(t, 100, false)

	if err := env.engine.BuyItem(buyer, id, big.NewInt(100), big.NewInt(100)); err != nil {
		t.Fatalf("buy item: %v", err)
	}
	if owner := env.custody.owners[testAssetID]; owner != buyer {
		t.Fatalf("asset should belong to buyer, held by %s", owner.Hex())
	}
	if got := env.payout.paidTo(seller); got != 100 {
		t.Fatalf("seller should receive 100, got %d", got)
	}
	listing, _, _ := env.state.ListingGet(id)
	if !listing.IsSold {
		t.Fatal("listing should be sold")
	}
	if _, ok, _ := env.state.ActiveListing(testAssetID); ok {
		t.Fatal("asset should no longer be flagged on sale")
	}
	if evt := env.emitter.last(); evt == nil || evt.Type != EventTypeItemSold {
		t.Fatalf("expected item sold event, got %+v", evt)
	}
}

func TestBuyItemPreconditions(t *testing.T) {
	env := newTestEnv(t)
	id := env.mustList(t, 100, false)

	if err := env.engine.BuyItem(buyer, id, big.NewInt(99), big.NewInt(99)); !errors.Is(err, ErrBelowAskingPrice) {
		t.Fatalf("expected ErrBelowAskingPrice, got %v", err)
	}
	if err := env.engine.BuyItem(buyer, id, big.NewInt(100), big.NewInt(50)); !errors.Is(err, ErrInsufficientPayment) {
		t.Fatalf("expected ErrInsufficientPayment, got %v", err)
	}
	if err := env.engine.PlaceBid(buyer, id, big.NewInt(100), big.NewInt(100)); !errors.Is(err, ErrNotAuctionable) {
		t.Fatalf("expected ErrNotAuctionable for bid on fixed price, got %v", err)
	}
	if err := env.engine.BuyItem(buyer, 99, big.NewInt(100), big.NewInt(100)); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("expected ErrListingNotFound, got %v", err)
	}
}

func TestAuctionCannotBeBoughtOutright(t *testing.T) {
	env := newTestEnv(t)
	id := env.mustList(t, 100, true)

	if err := env.engine.BuyItem(buyer, id, big.NewInt(500), big.NewInt(500)); !errors.Is(err, ErrNotAuctionable) {
		t.Fatalf("expected ErrNotAuctionable, got %v", err)
	}
}

func TestPlaceBidTracksWinning(t *testing.T) {
	env := newTestEnv(t)
	id := env.mustList(t, 100, true)

	env.mustBid(t, bidX, id, 50)
	env.mustBid(t, bidY, id, 80)

	listing, _, _ := env.state.ListingGet(id)
	if listing.WinningBid == nil || listing.WinningBid.Bidder != bidY || listing.WinningBid.Amount.Int64() != 80 {
		t.Fatalf("expected winning bid Y/80, got %+v", listing.WinningBid)
	}

	// Top-up makes X's cumulative 90 and takes the lead.
	env.mustBid(t, bidX, id, 40)
	listing, _, _ = env.state.ListingGet(id)
	if listing.WinningBid.Bidder != bidX || listing.WinningBid.Amount.Int64() != 90 {
		t.Fatalf("expected winning bid X/90, got %+v", listing.WinningBid)
	}

	// Matching the leader is not enough; earliest to reach the amount wins.
	env.mustBid(t, bidY, id, 10)
	listing, _, _ = env.state.ListingGet(id)
	if listing.WinningBid.Bidder != bidX {
		t.Fatalf("tie should keep X in the lead, got %s", listing.WinningBid.Bidder.Hex())
	}

	// The winning amount always equals the maximum cumulative active bid.
	max := int64(0)
	for _, bid := range listing.Bids {
		if bid.Active && bid.Amount.Int64() > max {
			max = bid.Amount.Int64()
		}
	}
	if listing.WinningBid.Amount.Int64() != max {
		t.Fatalf("winning amount %d does not match max active %d", listing.WinningBid.Amount.Int64(), max)
	}

	if len(listing.BidderList) != 2 {
		t.Fatalf("bidder list should contain each address once, got %d entries", len(listing.BidderList))
	}
}

func TestPlaceBidInsufficientValue(t *testing.T) {
	env := newTestEnv(t)
	id := env.mustList(t, 100, true)

	if err := env.engine.PlaceBid(bidX, id, big.NewInt(50), big.NewInt(49)); !errors.Is(err, ErrInsufficientPayment) {
		t.Fatalf("expected ErrInsufficientPayment, got %v", err)
	}
}

func TestWithdrawBid(t *testing.T) {
	env := newTestEnv(t)
	id := env.mustList(t, 100, true)
	env.mustBid(t, bidX, id, 50)
	env.mustBid(t, bidY, id, 80)

	if err := env.engine.WithdrawBid(bidY, id); !errors.Is(err, ErrCannotWithdrawWinningBid) {
		t.Fatalf("expected ErrCannotWithdrawWinningBid, got %v", err)
	}
	if err := env.engine.WithdrawBid(buyer, id); !errors.Is(err, ErrNoActiveBids) {
		t.Fatalf("expected ErrNoActiveBids for stranger, got %v", err)
	}
	if err := env.engine.WithdrawBid(bidX, id); err != nil {
		t.Fatalf("withdraw bid: %v", err)
	}
	if got := env.payout.paidTo(bidX); got != 50 {
		t.Fatalf("X should be refunded 50, got %d", got)
	}

	listing, _, _ := env.state.ListingGet(id)
	bid := listing.Bids[bidX]
	if bid.Active || bid.Amount.Sign() != 0 {
		t.Fatalf("withdrawn bid should be inactive and zeroed, got %+v", bid)
	}
	if err := env.engine.WithdrawBid(bidX, id); !errors.Is(err, ErrNoActiveBids) {
		t.Fatalf("second withdraw should fail, got %v", err)
	}

	// Re-bidding reactivates the record without duplicating the list entry.
	env.mustBid(t, bidX, id, 30)
	listing, _, _ = env.state.ListingGet(id)
	if len(listing.BidderList) != 2 {
		t.Fatalf("bidder list grew on re-bid: %d entries", len(listing.BidderList))
	}
	if bid := listing.Bids[bidX]; !bid.Active || bid.Amount.Int64() != 30 {
		t.Fatalf("re-bid should restart from zero, got %+v", bid)
	}
}

func TestAcceptWinningBid(t *testing.T) {
	env := newTestEnv(t)
	id := env.mustList(t, 100, true)
	env.mustBid(t, bidX, id, 50)
	env.mustBid(t, bidY, id, 80)

	if err := env.engine.AcceptWinningBid(buyer, id); !errors.Is(err, ErrNotSeller) {
		t.Fatalf("expected ErrNotSeller, got %v", err)
	}
	if err := env.engine.AcceptWinningBid(seller, id); err != nil {
		t.Fatalf("accept winning bid: %v", err)
	}

	if owner := env.custody.owners[testAssetID]; owner != bidY {
		t.Fatalf("asset should belong to winner Y, held by %s", owner.Hex())
	}
	if got := env.payout.paidTo(seller); got != 80 {
		t.Fatalf("seller should receive 80, got %d", got)
	}
	if got := env.payout.paidTo(bidX); got != 50 {
		t.Fatalf("X should be refunded 50, got %d", got)
	}

	listing, _, _ := env.state.ListingGet(id)
	if !listing.IsSold {
		t.Fatal("listing should be sold")
	}
	for addr, bid := range listing.Bids {
		if bid.Active {
			t.Fatalf("bid of %s should be inactive after settlement", addr.Hex())
		}
	}
	if _, ok, _ := env.state.ActiveListing(testAssetID); ok {
		t.Fatal("asset should no longer be flagged on sale")
	}
	if env.payout.escrowed.Sign() != 0 {
		t.Fatalf("escrow should be drained, holds %s", env.payout.escrowed)
	}

	if err := env.engine.AcceptWinningBid(seller, id); !errors.Is(err, ErrListingNotActive) {
		t.Fatalf("second accept should fail, got %v", err)
	}
}

func TestAcceptWinningBidWithoutBids(t *testing.T) {
	env := newTestEnv(t)
	id := env.mustList(t, 100, true)

	if err := env.engine.AcceptWinningBid(seller, id); !errors.Is(err, ErrNoActiveBids) {
		t.Fatalf("expected ErrNoActiveBids, got %v", err)
	}
}

func TestAcceptWinningBidRefundFailureAborts(t *testing.T) {
	env := newTestEnv(t)
	id := env.mustList(t, 100, true)
	env.mustBid(t, bidX, id, 50)
	env.mustBid(t, bidY, id, 80)

	env.payout.reject[bidX] = true
	err := env.engine.AcceptWinningBid(seller, id)
	if !errors.Is(err, ErrTransferRejected) {
		t.Fatalf("expected ErrTransferRejected, got %v", err)
	}
}

func TestCancelListing(t *testing.T) {
	env := newTestEnv(t)
	id := env.mustList(t, 100, true)
	env.mustBid(t, bidX, id, 50)
	env.mustBid(t, bidY, id, 80)

	if err := env.engine.CancelListing(buyer, id); !errors.Is(err, ErrNotSeller) {
		t.Fatalf("expected ErrNotSeller, got %v", err)
	}
	transfers := env.custody.transfers
	if err := env.engine.CancelListing(seller, id); err != nil {
		t.Fatalf("cancel listing: %v", err)
	}
	if owner := env.custody.owners[testAssetID]; owner != seller {
		t.Fatalf("asset should be back with seller, held by %s", owner.Hex())
	}
	if got := env.payout.paidTo(bidX); got != 50 {
		t.Fatalf("X should be refunded 50, got %d", got)
	}
	if got := env.payout.paidTo(bidY); got != 80 {
		t.Fatalf("Y should be refunded 80, got %d", got)
	}

	if err := env.engine.CancelListing(seller, id); !errors.Is(err, ErrListingNotActive) {
		t.Fatalf("second cancel should fail, got %v", err)
	}
	if env.custody.transfers != transfers+1 {
		t.Fatalf("expected exactly one asset transfer on cancel, got %d", env.custody.transfers-transfers)
	}

	// A canceled listing is terminal even though the row survives.
	listing, _, _ := env.state.ListingGet(id)
	if !listing.Canceled || listing.IsSold {
		t.Fatalf("canceled listing in wrong terminal state: %+v", listing)
	}
	if _, err := env.engine.CreateListing(seller, testAssetID, big.NewInt(100), false); err != nil {
		t.Fatalf("asset should be listable again after cancel: %v", err)
	}
}

func TestComputeFeeAdjustedPayout(t *testing.T) {
	env := newTestEnv(t)
	env.state.fees = &FeeConfig{
		RatePerMille: 25,
		Remittance:   feeDst,
		Exempt:       make(map[common.Address]bool),
	}
	env.payout.escrowed = big.NewInt(10_000)

	net, err := env.engine.computeFeeAdjustedPayout(big.NewInt(1000), seller)
	if err != nil {
		t.Fatalf("compute payout: %v", err)
	}
	if net.Int64() != 975 {
		t.Fatalf("expected net 975, got %s", net)
	}
	if got := env.payout.paidTo(feeDst); got != 25 {
		t.Fatalf("fee destination should receive 25, got %d", got)
	}

	env.state.fees.Exempt[seller] = true
	net, err = env.engine.computeFeeAdjustedPayout(big.NewInt(1000), seller)
	if err != nil {
		t.Fatalf("compute payout exempt: %v", err)
	}
	if net.Int64() != 1000 {
		t.Fatalf("exempt seller should net 1000, got %s", net)
	}
	if got := env.payout.paidTo(feeDst); got != 25 {
		t.Fatalf("no extra fee should be routed for exempt seller, got %d", got)
	}
}

func TestFeeAppliedOnSale(t *testing.T) {
	env := newTestEnv(t)
	env.state.fees = &FeeConfig{
		RatePerMille: 25,
		Remittance:   feeDst,
		Exempt:       make(map[common.Address]bool),
	}
	id := env.mustList(t, 1000, false)

	if err := env.engine.BuyItem(buyer, id, big.NewInt(1000), big.NewInt(1000)); err != nil {
		t.Fatalf("buy item: %v", err)
	}
	if got := env.payout.paidTo(seller); got != 975 {
		t.Fatalf("seller should net 975, got %d", got)
	}
	if got := env.payout.paidTo(feeDst); got != 25 {
		t.Fatalf("fee destination should receive 25, got %d", got)
	}
}

func TestAdministratorGates(t *testing.T) {
	env := newTestEnv(t)

	if err := env.engine.SetFeeRemittanceAddress(seller, feeDst); !errors.Is(err, ErrNotAdministrator) {
		t.Fatalf("expected ErrNotAdministrator, got %v", err)
	}
	if err := env.engine.SetFeeRemittanceAddress(admin, common.Address{}); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected ErrZeroAddress, got %v", err)
	}
	if err := env.engine.SetFeeRemittanceAddress(admin, feeDst); err != nil {
		t.Fatalf("set remittance: %v", err)
	}
	if env.state.fees.Remittance != feeDst {
		t.Fatalf("remittance not stored, got %s", env.state.fees.Remittance.Hex())
	}

	if err := env.engine.SetFeeExemption(seller, seller, true); !errors.Is(err, ErrNotAdministrator) {
		t.Fatalf("expected ErrNotAdministrator, got %v", err)
	}
	if err := env.engine.SetFeeExemption(admin, seller, true); err != nil {
		t.Fatalf("set exemption: %v", err)
	}
	if !env.state.fees.Exempt[seller] {
		t.Fatal("exemption not stored")
	}
	if err := env.engine.SetFeeExemption(admin, seller, false); err != nil {
		t.Fatalf("clear exemption: %v", err)
	}
	if env.state.fees.Exempt[seller] {
		t.Fatal("exemption not cleared")
	}
}

func TestQueries(t *testing.T) {
	env := newTestEnv(t)
	id := env.mustList(t, 100, true)
	env.mustBid(t, bidX, id, 50)
	env.mustBid(t, bidY, id, 80)

	bid, err := env.engine.BidOf(id, bidX)
	if err != nil {
		t.Fatalf("bid of X: %v", err)
	}
	if bid.Amount.Int64() != 50 || !bid.Active {
		t.Fatalf("unexpected bid record %+v", bid)
	}
	if _, err := env.engine.BidOf(id, buyer); !errors.Is(err, ErrNoActiveBids) {
		t.Fatalf("expected ErrNoActiveBids for stranger, got %v", err)
	}

	bidders, err := env.engine.Bidders(id)
	if err != nil {
		t.Fatalf("bidders: %v", err)
	}
	if len(bidders) != 2 || bidders[0] != bidX || bidders[1] != bidY {
		t.Fatalf("bidders out of order: %v", bidders)
	}
}

type pauseSet map[string]bool

func (p pauseSet) IsPaused(module string) bool { return p[module] }

func TestPausedModuleRejectsOperations(t *testing.T) {
	env := newTestEnv(t)
	pauses := pauseSet{}
	env.engine.SetPauses(pauses)

	id := env.mustList(t, 100, true)
	env.mustBid(t, bidX, id, 50)

	pauses[moduleName] = true
	if _, err := env.engine.CreateListing(seller, testAssetID, big.NewInt(100), false); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := env.engine.PlaceBid(bidY, id, big.NewInt(80), big.NewInt(80)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := env.engine.WithdrawBid(bidX, id); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := env.engine.AcceptWinningBid(seller, id); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := env.engine.CancelListing(seller, id); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := env.engine.SetFeeExemption(admin, seller, true); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}

	// Resuming restores normal operation on the untouched listing.
	delete(pauses, moduleName)
	if err := env.engine.PlaceBid(bidY, id, big.NewInt(80), big.NewInt(80)); err != nil {
		t.Fatalf("bid after resume: %v", err)
	}
}

func TestStateReadFailureIsNotAbsence(t *testing.T) {
	env := newTestEnv(t)
	id := env.mustList(t, 100, true)

	env.state.readErr = errors.New("backend unavailable")
	if _, err := env.engine.GetListing(id); !errors.Is(err, env.state.readErr) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if err := env.engine.PlaceBid(bidX, id, big.NewInt(50), big.NewInt(50)); !errors.Is(err, env.state.readErr) {
		t.Fatalf("expected backend error, got %v", err)
	}
	// A failing active-sale index read must not be mistaken for the asset
	// being free to list.
	env.custody.owners[testAssetID] = seller
	if _, err := env.engine.CreateListing(seller, testAssetID, big.NewInt(100), false); !errors.Is(err, env.state.readErr) {
		t.Fatalf("expected backend error, got %v", err)
	}
}

func TestValueConservation(t *testing.T) {
	env := newTestEnv(t)
	id := env.mustList(t, 100, true)
	env.mustBid(t, bidX, id, 50)
	env.mustBid(t, bidY, id, 80)
	env.mustBid(t, bidX, id, 20)

	// Escrow holds exactly the sum of active cumulative bids.
	listing, _, _ := env.state.ListingGet(id)
	total := int64(0)
	for _, bid := range listing.Bids {
		if bid.Active {
			total += bid.Amount.Int64()
		}
	}
	if env.payout.escrowed.Int64() != total {
		t.Fatalf("escrow %s does not match active bids %d", env.payout.escrowed, total)
	}

	if err := env.engine.AcceptWinningBid(seller, id); err != nil {
		t.Fatalf("accept: %v", err)
	}
	paidOut := env.payout.paidTo(seller) + env.payout.paidTo(bidX) + env.payout.paidTo(bidY)
	if paidOut != total {
		t.Fatalf("paid out %d, expected %d", paidOut, total)
	}
}
