package state

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"nftmarket/native/market"
)

// ValueReceiver is implemented by contract-like parties whose receive
// behavior can reject incoming value. A rejection fails the disbursement and
// with it the whole enclosing marketplace operation.
type ValueReceiver interface {
	ReceiveValue(from common.Address, amount *big.Int) error
}

// LedgerPayout settles value against ledger accounts: Collect pulls attached
// payment from a caller into the escrow vault, Pay disburses escrowed value
// to a recipient. It satisfies the engine's PayoutGateway interface.
type LedgerPayout struct {
	state *MarketState
	vault common.Address

	mu        sync.RWMutex
	receivers map[common.Address]ValueReceiver
}

// NewLedgerPayout builds a payout gateway settling against the given vault
// address.
func NewLedgerPayout(state *MarketState, vault common.Address) *LedgerPayout {
	return &LedgerPayout{
		state:     state,
		vault:     vault,
		receivers: make(map[common.Address]ValueReceiver),
	}
}

// RegisterReceiver attaches receive behavior to an address, marking it
// contract-like. Passing nil removes the hook.
func (p *LedgerPayout) RegisterReceiver(addr common.Address, recv ValueReceiver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if recv == nil {
		delete(p.receivers, addr)
		return
	}
	p.receivers[addr] = recv
}

func (p *LedgerPayout) receiver(addr common.Address) (ValueReceiver, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	recv, ok := p.receivers[addr]
	return recv, ok
}

// Collect moves amount from the caller's account into the escrow vault. It
// fails with ErrInsufficientPayment when the caller's balance does not cover
// the amount.
func (p *LedgerPayout) Collect(from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return market.ErrInvalidAmount
	}
	payer, err := p.state.GetAccount(from)
	if err != nil {
		return err
	}
	if payer.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("collect %s from %s: %w", amount, from.Hex(), market.ErrInsufficientPayment)
	}
	payer.Balance = new(big.Int).Sub(payer.Balance, amount)
	if err := p.state.PutAccount(from, payer); err != nil {
		return err
	}
	return p.credit(p.vault, amount)
}

// Pay moves amount from the escrow vault to the recipient. A contract-like
// recipient that rejects the value fails the disbursement with
// ErrTransferRejected.
func (p *LedgerPayout) Pay(to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return market.ErrInvalidAmount
	}
	if to == (common.Address{}) {
		return market.ErrZeroAddress
	}
	if recv, ok := p.receiver(to); ok {
		if err := recv.ReceiveValue(p.vault, amount); err != nil {
			return fmt.Errorf("pay %s to %s: %s: %w", amount, to.Hex(), err, market.ErrTransferRejected)
		}
	}
	vault, err := p.state.GetAccount(p.vault)
	if err != nil {
		return err
	}
	if vault.Balance.Cmp(amount) < 0 {
		// Escrow can never disburse more than it holds; this indicates a
		// bookkeeping fault, not a caller error.
		return fmt.Errorf("pay %s to %s: escrow vault holds %s", amount, to.Hex(), vault.Balance)
	}
	vault.Balance = new(big.Int).Sub(vault.Balance, amount)
	if err := p.state.PutAccount(p.vault, vault); err != nil {
		return err
	}
	return p.credit(to, amount)
}

func (p *LedgerPayout) credit(addr common.Address, amount *big.Int) error {
	account, err := p.state.GetAccount(addr)
	if err != nil {
		return err
	}
	account.Balance = new(big.Int).Add(account.Balance, amount)
	return p.state.PutAccount(addr, account)
}
