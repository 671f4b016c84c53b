package bsv20

import (
	"encoding/json"
	"strconv"
	"testing"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAddress(t *testing.T) *script.Address {
	t.Helper()
	priv, err := ec.NewPrivateKey()
	require.NoError(t, err)
	addr, err := script.NewAddressFromPublicKey(priv.PubKey(), true)
	require.NoError(t, err)
	return addr
}

func TestCreateTransferInscription_WireFormat(t *testing.T) {
	ins, err := CreateTransferInscription("BOASE", 1000)
	require.NoError(t, err)
	assert.Equal(t, `{"p":"bsv-20","op":"transfer","tick":"BOASE","amt":"1000"}`, string(ins.Payload))
	assert.Equal(t, len(ins.Payload), ins.Len())
}

func TestCreateTransferInscription_AmountRoundTrip(t *testing.T) {
	amounts := []uint64{0, 1, 42, 1000, 999_999_999, 1_000_000_000, 1<<63 + 7, ^uint64(0)}
	for _, amt := range amounts {
		t.Run(strconv.FormatUint(amt, 10), func(t *testing.T) {
			ins, err := CreateTransferInscription("BOASE", amt)
			require.NoError(t, err)
			assert.Equal(t, strconv.FormatUint(amt, 10), ins.Data.Amt)

			var decoded map[string]string
			require.NoError(t, json.Unmarshal(ins.Payload, &decoded))
			got, err := strconv.ParseUint(decoded["amt"], 10, 64)
			require.NoError(t, err)
			assert.Equal(t, amt, got)
		})
	}
}

func TestCreateTransferInscription_NoHTMLEscaping(t *testing.T) {
	ins, err := CreateTransferInscription("A&B", 5)
	require.NoError(t, err)
	assert.Contains(t, string(ins.Payload), `"tick":"A&B"`)
}

func TestCreateTransferInscription_EmptyTick(t *testing.T) {
	_, err := CreateTransferInscription("", 5)
	assert.ErrorIs(t, err, ErrEmptyTick)
}

func TestParseTransfer(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr error
	}{
		{"valid", `{"p":"bsv-20","op":"transfer","tick":"BOASE","amt":"10"}`, nil},
		{"wrong protocol", `{"p":"brc-20","op":"transfer","tick":"BOASE","amt":"10"}`, ErrInvalidPayload},
		{"mint op", `{"p":"bsv-20","op":"mint","tick":"BOASE","amt":"10"}`, ErrInvalidPayload},
		{"missing tick", `{"p":"bsv-20","op":"transfer","amt":"10"}`, ErrEmptyTick},
		{"decimal amount", `{"p":"bsv-20","op":"transfer","tick":"BOASE","amt":"1.5"}`, ErrInvalidAmount},
		{"negative amount", `{"p":"bsv-20","op":"transfer","tick":"BOASE","amt":"-1"}`, ErrInvalidAmount},
		{"not json", `not json`, ErrInvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := ParseTransfer([]byte(tt.payload))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			amt, err := tr.Amount()
			require.NoError(t, err)
			assert.Equal(t, uint64(10), amt)
		})
	}
}

func TestEnvelopeScript_Layout(t *testing.T) {
	body := []byte(`{"p":"bsv-20"}`)
	s, err := EnvelopeScript(ContentType, body)
	require.NoError(t, err)

	chunks, err := s.Chunks()
	require.NoError(t, err)
	require.Len(t, chunks, 8)
	assert.Equal(t, script.OpFALSE, chunks[0].Op)
	assert.Equal(t, script.OpIF, chunks[1].Op)
	assert.Equal(t, []byte("ord"), chunks[2].Data)
	assert.Equal(t, script.Op1, chunks[3].Op)
	assert.Equal(t, []byte(ContentType), chunks[4].Data)
	assert.Equal(t, script.Op0, chunks[5].Op)
	assert.Equal(t, body, chunks[6].Data)
	assert.Equal(t, script.OpENDIF, chunks[7].Op)
}

func TestInscriptionScript_P2PKHPrefix(t *testing.T) {
	addr := testAddress(t)
	ins, err := CreateTransferInscription("BOASE", 77)
	require.NoError(t, err)

	s, err := InscriptionScript(addr.AddressString, ins.Payload)
	require.NoError(t, err)

	prefix := script.NewFromBytes((*s)[:p2pkhLen])
	assert.True(t, prefix.IsP2PKH())
	assert.False(t, s.IsP2PKH(), "combined script is longer than a bare P2PKH")

	tr, env, err := ParseTransferScript(s)
	require.NoError(t, err)
	assert.Equal(t, []byte(addr.PublicKeyHash), env.OwnerPKH)
	assert.Equal(t, ContentType, env.ContentType)
	assert.Equal(t, "77", tr.Amt)
	assert.Equal(t, "BOASE", tr.Tick)
}

func TestInscriptionScript_BadAddress(t *testing.T) {
	_, err := InscriptionScript("not-an-address", []byte("x"))
	assert.ErrorIs(t, err, ErrScriptBuild)
}

func TestInscriptionScript_LargePayload(t *testing.T) {
	addr := testAddress(t)
	payload := make([]byte, 600)
	for i := range payload {
		payload[i] = 'a'
	}
	s, err := InscriptionScript(addr.AddressString, payload)
	require.NoError(t, err)

	env, err := ParseEnvelope(s)
	require.NoError(t, err)
	assert.Equal(t, payload, env.Body)
}

func TestParseEnvelope_Errors(t *testing.T) {
	addr := testAddress(t)
	s, err := InscriptionScript(addr.AddressString, []byte("x"))
	require.NoError(t, err)

	t.Run("nil script", func(t *testing.T) {
		_, err := ParseEnvelope(nil)
		assert.ErrorIs(t, err, ErrNoEnvelope)
	})

	t.Run("plain p2pkh", func(t *testing.T) {
		plain := script.NewFromBytes((*s)[:p2pkhLen])
		_, err := ParseEnvelope(plain)
		assert.ErrorIs(t, err, ErrNoEnvelope)
	})

	t.Run("missing endif", func(t *testing.T) {
		truncated := script.NewFromBytes((*s)[:len(*s)-1])
		_, err := ParseEnvelope(truncated)
		assert.ErrorIs(t, err, ErrMalformedEnvelope)
	})

	t.Run("wrong content type", func(t *testing.T) {
		env, err := EnvelopeScript("text/plain", []byte("hello"))
		require.NoError(t, err)
		_, _, err = ParseTransferScript(env)
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})
}
