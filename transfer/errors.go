package transfer

import "errors"

// Messages surfaced verbatim in Result.Error.
const (
	MsgKeyNotConfigured = "Treasury private key not configured"
	MsgNoUTXOs          = "No UTXOs available for treasury"
	msgInsufficientFmt  = "Insufficient funds: have %d, need %d"
)

var (
	// ErrInvalidRequest indicates a missing recipient or non-positive amount.
	ErrInvalidRequest = errors.New("transfer: invalid request")

	// ErrPaymailUnsupported indicates a paymail recipient without a configured resolver.
	ErrPaymailUnsupported = errors.New("transfer: paymail recipients require a resolver")
)
