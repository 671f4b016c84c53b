package payment

import "errors"

var (
	// ErrInvalidTx indicates the raw transaction cannot be deserialized.
	ErrInvalidTx = errors.New("payment: invalid transaction")

	// ErrTxIDMismatch indicates the fetched transaction hashes to a different id.
	ErrTxIDMismatch = errors.New("payment: transaction id mismatch")

	// ErrNotConfirmed indicates the transaction has fewer confirmations than required.
	ErrNotConfirmed = errors.New("payment: not enough confirmations")

	// ErrNoMatchingOutput indicates no output pays the treasury address.
	ErrNoMatchingOutput = errors.New("payment: no output pays the treasury")

	// ErrInsufficientPayment indicates the treasury outputs sum to less than required.
	ErrInsufficientPayment = errors.New("payment: insufficient payment amount")

	// ErrInvalidParams indicates one or more parameters are invalid.
	ErrInvalidParams = errors.New("payment: invalid parameters")
)
