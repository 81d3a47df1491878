package market

import "errors"

// Precondition failures surfaced by the marketplace engine. Every violation
// aborts the operation with no partial state change; the node reverts any
// writes journaled before the failure.
var (
	ErrNotAssetOwner            = errors.New("market: caller does not own the asset")
	ErrCustodyNotApproved       = errors.New("market: marketplace not approved to move the asset")
	ErrAlreadyListed            = errors.New("market: asset already has an active listing")
	ErrListingNotFound          = errors.New("market: listing not found")
	ErrListingNotActive         = errors.New("market: listing is not active")
	ErrNotSeller                = errors.New("market: caller is not the listing seller")
	ErrNotAuctionable           = errors.New("market: operation does not match the listing mode")
	ErrBelowAskingPrice         = errors.New("market: offer below asking price")
	ErrInsufficientPayment      = errors.New("market: attached payment does not cover the amount")
	ErrCannotWithdrawWinningBid = errors.New("market: winning bid cannot be withdrawn")
	ErrNoActiveBids             = errors.New("market: no active bid available")
	ErrNotAdministrator         = errors.New("market: caller is not the administrator")
	ErrZeroAddress              = errors.New("market: zero address not allowed")
	ErrTransferRejected         = errors.New("market: transfer rejected by counterparty")
	ErrInvalidAmount            = errors.New("market: amount must be positive")
)
