package market

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "nftmarket/native/common"
)

// PlaceBid escrows amount against an active auction listing. The declared
// amount is the value newly escrowed by this call: it is added to the
// caller's existing active bid when present, otherwise a fresh bid record is
// created and the caller joins the bidder list. value is the payment attached
// to the call and must cover amount; exactly amount is collected.
func (e *Engine) PlaceBid(caller common.Address, listingID uint64, amount, value *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if caller == (common.Address{}) {
		return ErrZeroAddress
	}
	listing, err := e.activeListing(listingID)
	if err != nil {
		return err
	}
	if !listing.IsAuction {
		return ErrNotAuctionable
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	if err := checkPayment(amount, value); err != nil {
		return err
	}
	if err := e.payouts.Collect(caller, amount); err != nil {
		return err
	}
	bid, ok := listing.Bids[caller]
	if !ok {
		bid = &Bid{Bidder: caller, Amount: big.NewInt(0)}
		listing.Bids[caller] = bid
		listing.BidderList = append(listing.BidderList, caller)
	}
	bid.Amount = new(big.Int).Add(bid.Amount, amount)
	bid.Active = true
	// Strictly-greater replacement keeps ties with the earliest bid to reach
	// the amount.
	if listing.WinningBid == nil || bid.Amount.Cmp(listing.WinningBid.Amount) > 0 {
		listing.WinningBid = bid.Clone()
	}
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	e.emit(NewBidPlacedEvent(listing, bid))
	return nil
}

// WithdrawBid returns the caller's escrowed stake while the auction is still
// open. The current winning bid cannot be withdrawn.
func (e *Engine) WithdrawBid(caller common.Address, listingID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	listing, err := e.activeListing(listingID)
	if err != nil {
		return err
	}
	bid, ok := listing.Bids[caller]
	if !ok || !bid.Active || bid.Amount.Sign() <= 0 {
		return ErrNoActiveBids
	}
	if listing.WinningBid != nil && listing.WinningBid.Bidder == caller {
		return ErrCannotWithdrawWinningBid
	}
	if err := e.payouts.Pay(caller, bid.Amount); err != nil {
		return rejected("withdraw bid: refund", err)
	}
	amount := new(big.Int).Set(bid.Amount)
	bid.Active = false
	bid.Amount = big.NewInt(0)
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	e.emit(NewBidWithdrawnEvent(listing, caller, amount))
	return nil
}

// AcceptWinningBid settles an auction at the seller's request: the asset goes
// to the winning bidder, the seller receives the fee-adjusted proceeds and
// every other active bidder is refunded. Any failing transfer aborts the
// whole settlement.
func (e *Engine) AcceptWinningBid(caller common.Address, listingID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	listing, err := e.loadListing(listingID)
	if err != nil {
		return err
	}
	if listing.Seller != caller {
		return ErrNotSeller
	}
	if listing.Terminal() {
		return ErrListingNotActive
	}
	if activeID, ok, err := e.state.ActiveListing(listing.AssetID); err != nil {
		return err
	} else if !ok || activeID != listing.ID {
		return ErrListingNotActive
	}
	if !listing.IsAuction {
		return ErrNotAuctionable
	}
	winning := listing.WinningBid
	if winning == nil || winning.Bidder == (common.Address{}) || winning.Amount.Sign() <= 0 {
		return ErrNoActiveBids
	}
	winner := listing.Bids[winning.Bidder]
	if winner == nil || !winner.Active || winner.Amount.Sign() <= 0 {
		return ErrNoActiveBids
	}
	gross := new(big.Int).Set(winner.Amount)
	// Terminal flags flip before the outbound transfers so a re-entrant call
	// cannot observe the listing as still settleable.
	listing.IsSold = true
	winner.Active = false
	listing.WinningBid = winner.Clone()
	if err := e.state.ClearActiveListing(listing.AssetID); err != nil {
		return err
	}
	if err := e.custody.Transfer(EscrowVaultAddress, winner.Bidder, listing.AssetID); err != nil {
		return rejected("accept bid: deliver asset", err)
	}
	net, err := e.computeFeeAdjustedPayout(gross, listing.Seller)
	if err != nil {
		return err
	}
	if err := e.payouts.Pay(listing.Seller, net); err != nil {
		return rejected("accept bid: pay seller", err)
	}
	if err := e.refundActiveBidders(listing, winner.Bidder); err != nil {
		return err
	}
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	e.emit(NewItemSoldEvent(listing, winner.Bidder, gross))
	return nil
}

// refundActiveBidders sweeps the insertion-ordered bidder list and pays every
// active stake back, skipping the given address. The sweep is strict: one
// failing disbursement aborts the whole enclosing settlement so no escrowed
// stake can be silently stranded.
func (e *Engine) refundActiveBidders(listing *Listing, skip common.Address) error {
	for _, addr := range listing.BidderList {
		if addr == skip {
			continue
		}
		bid := listing.Bids[addr]
		if bid == nil || !bid.Active || bid.Amount == nil || bid.Amount.Sign() <= 0 {
			continue
		}
		if err := e.payouts.Pay(addr, bid.Amount); err != nil {
			return rejected("refund bidder "+addr.Hex(), err)
		}
		bid.Active = false
	}
	return nil
}
