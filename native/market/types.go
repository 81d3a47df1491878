package market

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Bid is a bidder's escrowed stake on one listing. Amount is cumulative:
// top-ups add to it, they never replace it. Active flips to false once the
// stake has been refunded, withdrawn, or converted into the sale proceeds.
type Bid struct {
	Bidder common.Address `json:"bidder"`
	Amount *big.Int       `json:"amount"`
	Active bool           `json:"active"`
}

// Clone returns a deep copy of the bid.
func (b *Bid) Clone() *Bid {
	if b == nil {
		return nil
	}
	clone := *b
	if b.Amount != nil {
		clone.Amount = new(big.Int).Set(b.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// Listing is one sale instance of one asset. A listing reaches exactly one
// terminal state: sold or canceled. BidderList keeps insertion order and
// contains an address at most once, even when its bid record is topped up or
// reactivated after a withdrawal; refund sweeps rely on that stability.
type Listing struct {
	ID          uint64                  `json:"id"`
	AssetID     uint64                  `json:"assetId"`
	Seller      common.Address          `json:"seller"`
	AskingPrice *big.Int                `json:"askingPrice"`
	IsAuction   bool                    `json:"isAuction"`
	IsSold      bool                    `json:"isSold"`
	Canceled    bool                    `json:"canceled"`
	CreatedAt   int64                   `json:"createdAt"`
	BidderList  []common.Address        `json:"bidderList,omitempty"`
	Bids        map[common.Address]*Bid `json:"bids,omitempty"`
	WinningBid  *Bid                    `json:"winningBid,omitempty"`
}

// Terminal reports whether the listing reached a terminal state.
func (l *Listing) Terminal() bool {
	if l == nil {
		return true
	}
	return l.IsSold || l.Canceled
}

// Clone returns a deep copy of the listing so callers can safely mutate the
// copy without affecting the stored instance.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	if l.AskingPrice != nil {
		clone.AskingPrice = new(big.Int).Set(l.AskingPrice)
	} else {
		clone.AskingPrice = big.NewInt(0)
	}
	clone.BidderList = append([]common.Address(nil), l.BidderList...)
	clone.Bids = make(map[common.Address]*Bid, len(l.Bids))
	for addr, bid := range l.Bids {
		clone.Bids[addr] = bid.Clone()
	}
	clone.WinningBid = l.WinningBid.Clone()
	return &clone
}

// SanitizeListing validates and normalises a listing, returning a cloned
// instance with non-nil amounts and a consistent bid table. The original is
// not mutated.
func SanitizeListing(l *Listing) (*Listing, error) {
	if l == nil {
		return nil, fmt.Errorf("nil listing")
	}
	clone := l.Clone()
	if clone.Seller == (common.Address{}) {
		return nil, fmt.Errorf("listing %d: seller is the zero address", clone.ID)
	}
	if clone.AskingPrice.Sign() < 0 {
		return nil, fmt.Errorf("listing %d: asking price must be non-negative", clone.ID)
	}
	seen := make(map[common.Address]bool, len(clone.BidderList))
	for _, addr := range clone.BidderList {
		if addr == (common.Address{}) {
			return nil, fmt.Errorf("listing %d: zero address in bidder list", clone.ID)
		}
		if seen[addr] {
			return nil, fmt.Errorf("listing %d: duplicate bidder %s", clone.ID, addr.Hex())
		}
		seen[addr] = true
		bid, ok := clone.Bids[addr]
		if !ok || bid == nil {
			return nil, fmt.Errorf("listing %d: bidder %s has no bid record", clone.ID, addr.Hex())
		}
		if bid.Bidder != addr {
			return nil, fmt.Errorf("listing %d: bid record address mismatch for %s", clone.ID, addr.Hex())
		}
		if bid.Amount.Sign() < 0 {
			return nil, fmt.Errorf("listing %d: negative bid amount for %s", clone.ID, addr.Hex())
		}
	}
	for addr := range clone.Bids {
		if !seen[addr] {
			return nil, fmt.Errorf("listing %d: bid record for %s missing from bidder list", clone.ID, addr.Hex())
		}
	}
	if clone.WinningBid != nil && clone.WinningBid.Bidder != (common.Address{}) {
		if _, ok := clone.Bids[clone.WinningBid.Bidder]; !ok {
			return nil, fmt.Errorf("listing %d: winning bid from unknown bidder", clone.ID)
		}
	}
	if clone.IsSold && clone.Canceled {
		return nil, fmt.Errorf("listing %d: sold and canceled are mutually exclusive", clone.ID)
	}
	return clone, nil
}

// FeeConfig is the marketplace's global fee state: a parts-per-thousand rate,
// the address receiving fee remittances, and the per-seller exemption set. It
// is mutated only through administrator-gated entry points.
type FeeConfig struct {
	RatePerMille uint32                  `json:"ratePerMille"`
	Remittance   common.Address          `json:"remittance"`
	Exempt       map[common.Address]bool `json:"exempt,omitempty"`
}

// Clone returns a deep copy of the fee configuration.
func (c *FeeConfig) Clone() *FeeConfig {
	if c == nil {
		return &FeeConfig{Exempt: make(map[common.Address]bool)}
	}
	clone := &FeeConfig{
		RatePerMille: c.RatePerMille,
		Remittance:   c.Remittance,
		Exempt:       make(map[common.Address]bool, len(c.Exempt)),
	}
	for addr, exempt := range c.Exempt {
		clone.Exempt[addr] = exempt
	}
	return clone
}

// SanitizeFeeConfig validates the fee configuration without mutating it.
func SanitizeFeeConfig(c *FeeConfig) (*FeeConfig, error) {
	clone := c.Clone()
	if clone.RatePerMille > 1000 {
		return nil, fmt.Errorf("fee rate out of range: %d", clone.RatePerMille)
	}
	return clone, nil
}
