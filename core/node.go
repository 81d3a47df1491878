package core

import (
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"nftmarket/config"
	"nftmarket/core/events"
	"nftmarket/core/types"
	"nftmarket/native/assets"
	"nftmarket/native/market"
	"nftmarket/observability"
	"nftmarket/state"
	"nftmarket/storage"
)

const paramGenesisApplied = "genesis/applied"

// Node owns the marketplace ledger and serializes every operation against it.
// Each mutating entry point runs as one atomic unit: snapshot, engine call,
// then commit on success or revert on failure, so no caller ever observes or
// persists partially-updated state.
type Node struct {
	mu       sync.Mutex
	db       storage.Database
	st       *state.MarketState
	engine   *market.Engine
	registry *assets.Registry
	payouts  *state.LedgerPayout
	recorder *events.Recorder
	metrics  *observability.MarketMetrics
	admin    common.Address
	log      *slog.Logger
}

// NewNode wires storage, state, registry, payout gateway and engine together
// and applies genesis on first start.
func NewNode(db storage.Database, cfg *config.Config, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	st := state.NewMarketState(db)
	registry := assets.NewRegistry()
	registry.SetState(st)
	payouts := state.NewLedgerPayout(st, market.EscrowVaultAddress)
	recorder := events.NewRecorder(0)

	engine := market.NewEngine()
	engine.SetState(st)
	engine.SetCustody(assets.NewCustodian(registry, market.EscrowVaultAddress))
	engine.SetPayouts(payouts)
	engine.SetEmitter(recorder)
	engine.SetAdmin(cfg.Admin())
	engine.SetPauses(st)

	node := &Node{
		db:       db,
		st:       st,
		engine:   engine,
		registry: registry,
		payouts:  payouts,
		recorder: recorder,
		metrics:  observability.Metrics(),
		admin:    cfg.Admin(),
		log:      logger.With("component", "node"),
	}
	if err := node.bootstrap(cfg); err != nil {
		return nil, err
	}
	return node, nil
}

// bootstrap applies the configured fee rate on every start and the genesis
// allocation exactly once.
func (n *Node) bootstrap(cfg *config.Config) error {
	snap := n.st.Snapshot()
	if err := n.applyBootstrap(cfg); err != nil {
		n.st.RevertToSnapshot(snap)
		return err
	}
	return n.st.Commit()
}

func (n *Node) applyBootstrap(cfg *config.Config) error {
	feeCfg, err := n.st.FeeConfigGet()
	if err != nil {
		return err
	}
	feeCfg.RatePerMille = cfg.FeeRatePerMille
	if err := n.st.FeeConfigPut(feeCfg); err != nil {
		return err
	}
	_, applied, err := n.st.ParamGet(paramGenesisApplied)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}
	for _, entry := range cfg.Genesis.Accounts {
		addr, err := config.ParseAddress(entry.Address)
		if err != nil {
			return err
		}
		balance, err := config.ParseAmount(entry.Balance)
		if err != nil {
			return err
		}
		account, err := n.st.GetAccount(addr)
		if err != nil {
			return err
		}
		account.Balance = balance
		if err := n.st.PutAccount(addr, account); err != nil {
			return err
		}
	}
	for _, entry := range cfg.Genesis.Assets {
		owner, err := config.ParseAddress(entry.Owner)
		if err != nil {
			return err
		}
		if err := n.registry.Mint(owner, entry.ID); err != nil {
			return fmt.Errorf("genesis asset %d: %w", entry.ID, err)
		}
	}
	n.log.Info("genesis applied",
		"accounts", len(cfg.Genesis.Accounts),
		"assets", len(cfg.Genesis.Assets))
	// The flag goes through the journaled overlay so it commits, or fails,
	// together with the allocation it records.
	return n.st.ParamPut(paramGenesisApplied, []byte{1})
}

// exec runs one mutating operation under the global ledger lock with
// all-or-nothing semantics.
func (n *Node) exec(method string, fn func() error) error {
	start := time.Now()
	n.mu.Lock()
	defer n.mu.Unlock()
	snap := n.st.Snapshot()
	err := fn()
	if err != nil {
		n.st.RevertToSnapshot(snap)
	} else if commitErr := n.st.Commit(); commitErr != nil {
		err = commitErr
	}
	n.metrics.Observe(method, err, time.Since(start))
	if err != nil {
		n.log.Info("market operation rejected", "method", method, "err", err)
	}
	return err
}

// CreateListing opens a listing for the seller's asset.
func (n *Node) CreateListing(seller common.Address, assetID uint64, askingPrice *big.Int, isAuction bool) (uint64, error) {
	var id uint64
	err := n.exec("market_createListing", func() error {
		created, err := n.engine.CreateListing(seller, assetID, askingPrice, isAuction)
		if err != nil {
			return err
		}
		id = created
		return nil
	})
	return id, err
}

// CancelListing terminates an active listing at the seller's request.
func (n *Node) CancelListing(seller common.Address, listingID uint64) error {
	return n.exec("market_cancelListing", func() error {
		return n.engine.CancelListing(seller, listingID)
	})
}

// PlaceBid escrows a bid or top-up against an auction listing.
func (n *Node) PlaceBid(bidder common.Address, listingID uint64, amount, value *big.Int) error {
	return n.exec("market_placeBid", func() error {
		return n.engine.PlaceBid(bidder, listingID, amount, value)
	})
}

// WithdrawBid returns a non-winning bidder's stake.
func (n *Node) WithdrawBid(bidder common.Address, listingID uint64) error {
	return n.exec("market_withdrawBid", func() error {
		return n.engine.WithdrawBid(bidder, listingID)
	})
}

// AcceptWinningBid settles an auction at the seller's request.
func (n *Node) AcceptWinningBid(seller common.Address, listingID uint64) error {
	return n.exec("market_acceptWinningBid", func() error {
		return n.engine.AcceptWinningBid(seller, listingID)
	})
}

// BuyItem settles an outright purchase of a fixed-price listing.
func (n *Node) BuyItem(buyer common.Address, listingID uint64, amount, value *big.Int) error {
	return n.exec("market_buyItem", func() error {
		return n.engine.BuyItem(buyer, listingID, amount, value)
	})
}

// SetFeeRemittanceAddress changes the fee destination. Administrator only.
func (n *Node) SetFeeRemittanceAddress(caller, addr common.Address) error {
	return n.exec("market_setFeeRemittanceAddress", func() error {
		return n.engine.SetFeeRemittanceAddress(caller, addr)
	})
}

// SetFeeExemption toggles a seller's fee exemption. Administrator only.
func (n *Node) SetFeeExemption(caller, seller common.Address, exempt bool) error {
	return n.exec("market_setFeeExemption", func() error {
		return n.engine.SetFeeExemption(caller, seller, exempt)
	})
}

// SetPaused pauses or resumes a named module. Administrator only. While a
// module is paused every operation guarded under its name is rejected with
// ErrModulePaused.
func (n *Node) SetPaused(caller common.Address, module string, paused bool) error {
	return n.exec("market_setPaused", func() error {
		if n.admin == (common.Address{}) || caller != n.admin {
			return market.ErrNotAdministrator
		}
		if strings.TrimSpace(module) == "" {
			return fmt.Errorf("module name required")
		}
		pauses, err := n.st.PausesGet()
		if err != nil {
			return err
		}
		if paused {
			pauses[module] = true
		} else {
			delete(pauses, module)
		}
		return n.st.PausesPut(pauses)
	})
}

// IsPaused reports whether the named module is administratively paused.
func (n *Node) IsPaused(module string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.st.IsPaused(module)
}

// MintAsset assigns a fresh asset to an owner. Administrator only.
func (n *Node) MintAsset(caller, owner common.Address, assetID uint64) error {
	return n.exec("assets_mint", func() error {
		if n.admin == (common.Address{}) || caller != n.admin {
			return market.ErrNotAdministrator
		}
		return n.registry.Mint(owner, assetID)
	})
}

// ApproveAsset grants an operator authority over one asset.
func (n *Node) ApproveAsset(caller, operator common.Address, assetID uint64) error {
	return n.exec("assets_approve", func() error {
		return n.registry.Approve(caller, operator, assetID)
	})
}

// SetApprovalForAll grants or revokes blanket operator authority.
func (n *Node) SetApprovalForAll(caller, operator common.Address, approved bool) error {
	return n.exec("assets_setApprovalForAll", func() error {
		return n.registry.SetApprovalForAll(caller, operator, approved)
	})
}

// GetListing returns a copy of the listing.
func (n *Node) GetListing(listingID uint64) (*market.Listing, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.GetListing(listingID)
}

// BidOf returns the bidder's bid record for a listing.
func (n *Node) BidOf(listingID uint64, bidder common.Address) (*market.Bid, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.BidOf(listingID, bidder)
}

// Bidders lists every address that has ever bid on a listing.
func (n *Node) Bidders(listingID uint64) ([]common.Address, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Bidders(listingID)
}

// OwnerOf returns the asset's current owner.
func (n *Node) OwnerOf(assetID uint64) (common.Address, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.registry.OwnerOf(assetID)
}

// BalanceOf returns the ledger balance of an address.
func (n *Node) BalanceOf(addr common.Address) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	account, err := n.st.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(account.Balance), nil
}

// Events returns the recent marketplace events, oldest first.
func (n *Node) Events() []*types.Event {
	return n.recorder.Events()
}

// VaultAddress returns the escrow vault address assets and funds are held
// under while a sale is unresolved.
func (n *Node) VaultAddress() common.Address {
	return market.EscrowVaultAddress
}

// Registry exposes the asset registry, primarily so tests and the RPC layer
// can register contract-like receivers.
func (n *Node) Registry() *assets.Registry {
	return n.registry
}

// Payouts exposes the payout gateway for receiver registration.
func (n *Node) Payouts() *state.LedgerPayout {
	return n.payouts
}
