package network

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmountUnmarshal(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{`"1000"`, 1000, false},
		{`1000`, 1000, false},
		{`"1000.000"`, 1000, false},
		{`null`, 0, false},
		{`""`, 0, false},
		{`"18446744073709551615"`, 18446744073709551615, false},
		{`"18446744073709551616"`, 0, true},
		{`"1.5"`, 0, true},
		{`"-1"`, 0, true},
		{`"abc"`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var a Amount
			err := json.Unmarshal([]byte(tt.in), &a)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidResponse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, uint64(a))
		})
	}
}

func TestAmountMarshalsAsString(t *testing.T) {
	b, err := json.Marshal(Amount(42))
	require.NoError(t, err)
	assert.Equal(t, `"42"`, string(b))
}
