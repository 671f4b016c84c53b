package network

import (
	"errors"
	"strings"
)

var (
	// ErrConnectionFailed indicates the client could not reach the remote API or node.
	ErrConnectionFailed = errors.New("network: connection failed")

	// ErrTxNotFound indicates the requested transaction does not exist.
	ErrTxNotFound = errors.New("network: transaction not found")

	// ErrBroadcastRejected indicates the explorer or node rejected the broadcast transaction.
	ErrBroadcastRejected = errors.New("network: broadcast rejected")

	// ErrDoubleSpend indicates a broadcast was rejected because an input is
	// already spent or conflicts with a mempool transaction.
	ErrDoubleSpend = errors.New("network: inputs already spent")

	// ErrInvalidResponse indicates the remote returned a malformed or unexpected response.
	ErrInvalidResponse = errors.New("network: invalid response")

	// ErrNotConfigured indicates a client was used without a required setting.
	ErrNotConfigured = errors.New("network: client not configured")
)

// doubleSpendMarkers are lower-cased fragments of rejection messages that
// mean the selected inputs are gone. Rebuilding from fresh UTXOs can succeed.
var doubleSpendMarkers = []string{
	"txn-mempool-conflict",
	"double spend",
	"double-spend",
	"missing inputs",
	"missingorspent",
	"already spent",
	"inputs-spent",
}

// looksLikeDoubleSpend reports whether a rejection message matches doubleSpendMarkers.
func looksLikeDoubleSpend(msg string) bool {
	msg = strings.ToLower(msg)
	for _, m := range doubleSpendMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// IsDoubleSpend reports whether err is a broadcast rejection caused by spent
// or conflicting inputs.
func IsDoubleSpend(err error) bool {
	return errors.Is(err, ErrDoubleSpend)
}
