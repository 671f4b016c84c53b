package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/robfig/cron"
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validNetworks = map[string]bool{
	"main":    true,
	"test":    true,
	"regtest": true,
}

// ValidateConfig checks that all configuration values are within acceptable
// ranges and returns the first error encountered, or nil if valid. A missing
// treasury private key is not an error: transfers report it per request.
func ValidateConfig(cfg Config) error {
	if !validNetworks[cfg.Network] {
		return ErrInvalidNetwork
	}

	if !validLogLevels[strings.ToLower(cfg.LogLevel)] {
		return ErrInvalidLogLevel
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("%w: port %d", ErrInvalidListenAddr, cfg.Server.Port)
	}
	if _, _, err := net.SplitHostPort(cfg.Server.ListenAddr()); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidListenAddr, err)
	}

	switch cfg.Chain.Backend {
	case "explorer", "rpc":
	default:
		return ErrInvalidBackend
	}

	if strings.TrimSpace(cfg.Treasury.Address) == "" {
		return ErrEmptyTreasuryAddress
	}
	if strings.TrimSpace(cfg.Token.Tick) == "" {
		return ErrEmptyTick
	}
	if cfg.Token.TotalSupply == 0 || cfg.Token.ForSale > cfg.Token.TotalSupply {
		return ErrInvalidTotalSupply
	}
	if cfg.Token.PriceSats == 0 {
		return ErrInvalidPrice
	}

	if cfg.Transfer.MaxRetries < 0 || cfg.Transfer.MaxRetries > 10 {
		return ErrInvalidRetries
	}

	if cfg.Reconcile.Enabled {
		if _, err := cron.Parse(cfg.Reconcile.Schedule); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
		}
	}

	if cfg.Payment.MinConfirmations < 0 {
		return ErrInvalidConfirmations
	}
	return nil
}
