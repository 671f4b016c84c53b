package bsv20

import "errors"

var (
	// ErrEmptyTick indicates the token ticker is empty.
	ErrEmptyTick = errors.New("bsv20: empty ticker")

	// ErrInvalidPayload indicates the inscription body is not a BSV-20 operation.
	ErrInvalidPayload = errors.New("bsv20: invalid inscription payload")

	// ErrInvalidAmount indicates the amt field is not a base-10 unsigned integer.
	ErrInvalidAmount = errors.New("bsv20: invalid amount")

	// ErrNoEnvelope indicates the script carries no ord envelope.
	ErrNoEnvelope = errors.New("bsv20: no inscription envelope")

	// ErrMalformedEnvelope indicates the ord envelope is truncated or has unknown fields.
	ErrMalformedEnvelope = errors.New("bsv20: malformed inscription envelope")

	// ErrScriptBuild indicates the locking script could not be assembled.
	ErrScriptBuild = errors.New("bsv20: script build failed")
)
