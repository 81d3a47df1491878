package market

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var perMilleDivisor = big.NewInt(1000)

// computeFeeAdjustedPayout deducts the marketplace fee from gross and routes
// it to the remittance address, returning the seller's net proceeds. The rate
// is expressed in parts per thousand so the arithmetic stays integer-exact.
// No fee is taken when the rate is zero, the seller is exempt, or no
// remittance address is configured.
func (e *Engine) computeFeeAdjustedPayout(gross *big.Int, seller common.Address) (*big.Int, error) {
	cfg, err := e.feeConfig()
	if err != nil {
		return nil, err
	}
	net := new(big.Int).Set(gross)
	if cfg.RatePerMille == 0 || cfg.Exempt[seller] || cfg.Remittance == (common.Address{}) {
		return net, nil
	}
	fee := new(big.Int).Mul(gross, new(big.Int).SetUint64(uint64(cfg.RatePerMille)))
	fee.Quo(fee, perMilleDivisor)
	if fee.Sign() <= 0 {
		return net, nil
	}
	if err := e.payouts.Pay(cfg.Remittance, fee); err != nil {
		return nil, rejected("fee remittance", err)
	}
	return net.Sub(net, fee), nil
}
