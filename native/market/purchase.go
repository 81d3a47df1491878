package market

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "nftmarket/native/common"
)

// BuyItem settles an outright purchase against a fixed-price listing. amount
// must meet the asking price and the attached value must cover amount;
// exactly amount is collected into escrow before it is disbursed, fee
// adjusted, to the seller.
func (e *Engine) BuyItem(caller common.Address, listingID uint64, amount, value *big.Int) error {
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
	if listing.IsAuction {
		return ErrNotAuctionable
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	if amount.Cmp(listing.AskingPrice) < 0 {
		return ErrBelowAskingPrice
	}
	if err := checkPayment(amount, value); err != nil {
		return err
	}
	if err := e.payouts.Collect(caller, amount); err != nil {
		return err
	}
	gross := new(big.Int).Set(amount)
	listing.IsSold = true
	if err := e.state.ClearActiveListing(listing.AssetID); err != nil {
		return err
	}
	if err := e.custody.Transfer(EscrowVaultAddress, caller, listing.AssetID); err != nil {
		return rejected("buy item: deliver asset", err)
	}
	net, err := e.computeFeeAdjustedPayout(gross, listing.Seller)
	if err != nil {
		return err
	}
	if err := e.payouts.Pay(listing.Seller, net); err != nil {
		return rejected("buy item: pay seller", err)
	}
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	e.emit(NewItemSoldEvent(listing, caller, gross))
	return nil
}
