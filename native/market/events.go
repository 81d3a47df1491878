package market

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"nftmarket/core/types"
)

const (
	EventTypeListingCreated       = "market.listing.created"
	EventTypeListingCanceled      = "market.listing.canceled"
	EventTypeBidPlaced            = "market.bid.placed"
	EventTypeBidWithdrawn         = "market.bid.withdrawn"
	EventTypeItemSold             = "market.item.sold"
	EventTypeFeeRemittanceUpdated = "market.fee.remittance_updated"
	EventTypeFeeExemptionUpdated  = "market.fee.exemption_updated"
)

// NewListingCreatedEvent returns the canonical payload emitted when a seller
// opens a listing.
func NewListingCreatedEvent(l *Listing) *types.Event {
	attrs := listingAttrs(l)
	attrs["askingPrice"] = formatAmount(l.AskingPrice)
	attrs["isAuction"] = strconv.FormatBool(l.IsAuction)
	return &types.Event{Type: EventTypeListingCreated, Attributes: attrs}
}

// NewListingCanceledEvent returns the payload emitted when the seller
// reclaims the asset.
func NewListingCanceledEvent(l *Listing) *types.Event {
	return &types.Event{Type: EventTypeListingCanceled, Attributes: listingAttrs(l)}
}

// NewBidPlacedEvent returns the payload emitted after a bid or top-up. The
// amount attribute carries the bidder's cumulative stake.
func NewBidPlacedEvent(l *Listing, b *Bid) *types.Event {
	attrs := listingAttrs(l)
	if b != nil {
		attrs["bidder"] = b.Bidder.Hex()
		attrs["amount"] = formatAmount(b.Amount)
	}
	return &types.Event{Type: EventTypeBidPlaced, Attributes: attrs}
}

// NewBidWithdrawnEvent returns the payload emitted when a non-winning bidder
// reclaims their stake.
func NewBidWithdrawnEvent(l *Listing, bidder common.Address, amount *big.Int) *types.Event {
	attrs := listingAttrs(l)
	attrs["bidder"] = bidder.Hex()
	attrs["amount"] = formatAmount(amount)
	return &types.Event{Type: EventTypeBidWithdrawn, Attributes: attrs}
}

// NewItemSoldEvent returns the payload emitted when a listing settles, via
// outright purchase or an accepted winning bid.
func NewItemSoldEvent(l *Listing, buyer common.Address, amount *big.Int) *types.Event {
	attrs := listingAttrs(l)
	attrs["buyer"] = buyer.Hex()
	attrs["amount"] = formatAmount(amount)
	return &types.Event{Type: EventTypeItemSold, Attributes: attrs}
}

// NewFeeRemittanceUpdatedEvent returns the payload emitted when the
// administrator changes the fee destination.
func NewFeeRemittanceUpdatedEvent(addr common.Address) *types.Event {
	return &types.Event{
		Type:       EventTypeFeeRemittanceUpdated,
		Attributes: map[string]string{"remittance": addr.Hex()},
	}
}

// NewFeeExemptionUpdatedEvent returns the payload emitted when a seller's fee
// exemption flag is toggled.
func NewFeeExemptionUpdatedEvent(seller common.Address, exempt bool) *types.Event {
	return &types.Event{
		Type: EventTypeFeeExemptionUpdated,
		Attributes: map[string]string{
			"seller": seller.Hex(),
			"exempt": strconv.FormatBool(exempt),
		},
	}
}

func listingAttrs(l *Listing) map[string]string {
	attrs := make(map[string]string)
	if l == nil {
		return attrs
	}
	attrs["listingId"] = strconv.FormatUint(l.ID, 10)
	attrs["assetId"] = strconv.FormatUint(l.AssetID, 10)
	attrs["seller"] = l.Seller.Hex()
	return attrs
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
