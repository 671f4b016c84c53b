package config

import "errors"

var (
	// ErrInvalidNetwork indicates the network name is not recognized.
	ErrInvalidNetwork = errors.New("config: invalid network (must be \"main\", \"test\", or \"regtest\")")

	// ErrInvalidListenAddr indicates the server host or port is malformed.
	ErrInvalidListenAddr = errors.New("config: invalid listen address")

	// ErrInvalidLogLevel indicates the log level is not recognized.
	ErrInvalidLogLevel = errors.New("config: invalid log level (must be \"debug\", \"info\", \"warn\", or \"error\")")

	// ErrInvalidBackend indicates the chain backend is neither explorer nor rpc.
	ErrInvalidBackend = errors.New("config: invalid chain backend (must be \"explorer\" or \"rpc\")")

	// ErrEmptyTreasuryAddress indicates no treasury address is configured.
	ErrEmptyTreasuryAddress = errors.New("config: treasury address must not be empty")

	// ErrEmptyTick indicates no token ticker is configured.
	ErrEmptyTick = errors.New("config: token tick must not be empty")

	// ErrInvalidTotalSupply indicates a zero total supply or a for-sale allocation above it.
	ErrInvalidTotalSupply = errors.New("config: invalid token supply")

	// ErrInvalidPrice indicates a zero token sale price.
	ErrInvalidPrice = errors.New("config: token price_sats must be positive")

	// ErrInvalidRetries indicates the transfer retry bound is out of range.
	ErrInvalidRetries = errors.New("config: transfer max_retries must be between 0 and 10")

	// ErrInvalidSchedule indicates the reconciliation cron expression does not parse.
	ErrInvalidSchedule = errors.New("config: invalid reconcile schedule")

	// ErrInvalidConfirmations indicates a negative payment confirmation requirement.
	ErrInvalidConfirmations = errors.New("config: payment min_confirmations must not be negative")
)
