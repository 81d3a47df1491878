package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// Config is the marketd node configuration, loaded from TOML.
type Config struct {
	RPCAddress      string  `toml:"RPCAddress"`
	DataDir         string  `toml:"DataDir"`
	NetworkName     string  `toml:"NetworkName"`
	RPCToken        string  `toml:"RPCToken"`
	FeeRatePerMille uint32  `toml:"FeeRatePerMille"`
	AdminAddress    string  `toml:"AdminAddress"`
	Genesis         Genesis `toml:"Genesis"`
}

// Genesis seeds the ledger on first start: funded accounts and minted assets.
type Genesis struct {
	Accounts []GenesisAccount `toml:"Account"`
	Assets   []GenesisAsset   `toml:"Asset"`
}

type GenesisAccount struct {
	Address string `toml:"Address"`
	Balance string `toml:"Balance"`
}

type GenesisAsset struct {
	ID    uint64 `toml:"ID"`
	Owner string `toml:"Owner"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		RPCAddress:  "127.0.0.1:8645",
		DataDir:     "./marketdata",
		NetworkName: "market-local",
	}
}

// Load reads the configuration from path, falling back to defaults when the
// file does not exist. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, cfg.Validate()
	}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0])
	}
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = Default().RPCAddress
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = Default().NetworkName
	}
	return cfg, cfg.Validate()
}

// Validate checks field ranges and address formats.
func (c *Config) Validate() error {
	if c.FeeRatePerMille > 1000 {
		return fmt.Errorf("FeeRatePerMille out of range: %d", c.FeeRatePerMille)
	}
	if strings.TrimSpace(c.AdminAddress) != "" {
		if _, err := ParseAddress(c.AdminAddress); err != nil {
			return fmt.Errorf("AdminAddress: %w", err)
		}
	}
	for i, account := range c.Genesis.Accounts {
		if _, err := ParseAddress(account.Address); err != nil {
			return fmt.Errorf("Genesis.Account[%d].Address: %w", i, err)
		}
		if _, err := ParseAmount(account.Balance); err != nil {
			return fmt.Errorf("Genesis.Account[%d].Balance: %w", i, err)
		}
	}
	for i, asset := range c.Genesis.Assets {
		if _, err := ParseAddress(asset.Owner); err != nil {
			return fmt.Errorf("Genesis.Asset[%d].Owner: %w", i, err)
		}
	}
	return nil
}

// Admin returns the parsed administrator address, or the zero address when
// none is configured.
func (c *Config) Admin() common.Address {
	trimmed := strings.TrimSpace(c.AdminAddress)
	if trimmed == "" {
		return common.Address{}
	}
	addr, err := ParseAddress(trimmed)
	if err != nil {
		return common.Address{}
	}
	return addr
}

// ParseAddress parses a 0x-prefixed hex address.
func ParseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(trimmed), nil
}

// ParseAmount parses a non-negative base-10 integer amount.
func ParseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}
