package market

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "nftmarket/native/common"
)

// CreateListing escrows the caller's asset and opens a new listing for it,
// either fixed-price or auction. The listing id is sequential and never
// reused. At most one active listing may exist per asset.
func (e *Engine) CreateListing(caller common.Address, assetID uint64, askingPrice *big.Int, isAuction bool) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	if caller == (common.Address{}) {
		return 0, ErrZeroAddress
	}
	if askingPrice == nil || askingPrice.Sign() < 0 {
		return 0, ErrInvalidAmount
	}
	if !isAuction && askingPrice.Sign() == 0 {
		return 0, ErrInvalidAmount
	}
	owner, ok, err := e.custody.OwnerOf(assetID)
	if err != nil {
		return 0, err
	}
	if !ok || owner != caller {
		return 0, ErrNotAssetOwner
	}
	approved, err := e.custody.MarketApproved(caller, assetID)
	if err != nil {
		return 0, err
	}
	if !approved {
		return 0, ErrCustodyNotApproved
	}
	if _, listed, err := e.state.ActiveListing(assetID); err != nil {
		return 0, err
	} else if listed {
		return 0, ErrAlreadyListed
	}
	if err := e.custody.Transfer(caller, EscrowVaultAddress, assetID); err != nil {
		return 0, rejected("create listing: escrow asset", err)
	}
	id, err := e.state.NextListingID()
	if err != nil {
		return 0, err
	}
	listing := &Listing{
		ID:          id,
		AssetID:     assetID,
		Seller:      caller,
		AskingPrice: new(big.Int).Set(askingPrice),
		IsAuction:   isAuction,
		CreatedAt:   e.now(),
		Bids:        make(map[common.Address]*Bid),
	}
	if err := e.state.ListingPut(listing); err != nil {
		return 0, err
	}
	if err := e.state.SetActiveListing(assetID, id); err != nil {
		return 0, err
	}
	e.emit(NewListingCreatedEvent(listing))
	return id, nil
}

// CancelListing terminates an active listing at the seller's request: the
// asset returns to the seller and, for auctions, every active bidder is
// refunded in full. Cancellation is terminal; the row stays in the ledger but
// can never be re-activated.
func (e *Engine) CancelListing(caller common.Address, listingID uint64) error {
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
	listing.Canceled = true
	if err := e.state.ClearActiveListing(listing.AssetID); err != nil {
		return err
	}
	if err := e.custody.Transfer(EscrowVaultAddress, listing.Seller, listing.AssetID); err != nil {
		return rejected("cancel listing: return asset", err)
	}
	if listing.IsAuction {
		if err := e.refundActiveBidders(listing, common.Address{}); err != nil {
			return err
		}
	}
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	e.emit(NewListingCanceledEvent(listing))
	return nil
}
