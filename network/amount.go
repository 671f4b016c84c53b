package network

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

var maxAmount = decimal.RequireFromString(strconv.FormatUint(^uint64(0), 10))

// Amount is a non-negative integer token or satoshi quantity as reported by
// the indexer. It decodes from JSON numbers, numeric strings and decimal
// strings with a zero fraction ("100.0"), and encodes as a string.
type Amount uint64

// UnmarshalJSON implements json.Unmarshaler.
func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*a = 0
		return nil
	}
	s := string(bytes.Trim(b, `"`))
	if s == "" {
		*a = 0
		return nil
	}
	v, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = Amount(v)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatUint(uint64(a), 10))), nil
}

// ParseAmount parses s as a non-negative integral quantity.
func ParseAmount(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q: %w", ErrInvalidResponse, s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: negative amount %q", ErrInvalidResponse, s)
	}
	if !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("%w: fractional amount %q", ErrInvalidResponse, s)
	}
	if d.GreaterThan(maxAmount) {
		return 0, fmt.Errorf("%w: amount %q overflows", ErrInvalidResponse, s)
	}
	return d.BigInt().Uint64(), nil
}
