package tx

import (
	"errors"
	"fmt"
)

var (
	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("tx: required parameter is nil")

	// ErrNoUTXOs indicates the sender has no spendable outputs.
	ErrNoUTXOs = errors.New("tx: no UTXOs available")

	// ErrInsufficientFunds indicates the selected inputs cannot cover the fee and the inscribed output.
	ErrInsufficientFunds = errors.New("tx: insufficient funds")

	// ErrInvalidParams indicates invalid parameters were provided.
	ErrInvalidParams = errors.New("tx: invalid parameters")

	// ErrInvalidTxID indicates a UTXO transaction id is not 32 bytes.
	ErrInvalidTxID = errors.New("tx: transaction id must be 32 bytes")

	// ErrSigningFailed indicates transaction signing failed.
	ErrSigningFailed = errors.New("tx: signing failed")

	// ErrScriptBuild indicates script construction failed.
	ErrScriptBuild = errors.New("tx: script build failed")
)

// InsufficientFundsError reports how far the inputs fall short.
type InsufficientFundsError struct {
	Have uint64
	Need uint64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("%s: have %d sat, need %d sat", ErrInsufficientFunds, e.Have, e.Need)
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}
