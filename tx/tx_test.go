package tx

import (
	"bytes"
	"errors"
	"testing"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction"
	sighash "github.com/bsv-blockchain/go-sdk/transaction/sighash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b0ase/bsv20-treasury/bsv20"
)

func generateTestKeyPair(t *testing.T) (*ec.PrivateKey, *ec.PublicKey) {
	t.Helper()
	privKey, err := ec.NewPrivateKey()
	require.NoError(t, err)
	return privKey, privKey.PubKey()
}

func testAddress(t *testing.T) string {
	t.Helper()
	_, pub := generateTestKeyPair(t)
	addr, err := script.NewAddressFromPublicKey(pub, true)
	require.NoError(t, err)
	return addr.AddressString
}

func testUTXO(seed byte, vout uint32, amount uint64) *UTXO {
	return &UTXO{
		TxID:   bytes.Repeat([]byte{seed}, 32),
		Vout:   vout,
		Amount: amount,
	}
}

// expectedFee is the fee for a 1000-unit BOASE transfer (57-byte payload).
const expectedFee = uint64(500)

func transferParams(t *testing.T, utxos ...*UTXO) TransferParams {
	t.Helper()
	key, _ := generateTestKeyPair(t)
	return TransferParams{
		Tick:      "BOASE",
		Amount:    1000,
		Recipient: testAddress(t),
		Key:       key,
		UTXOs:     utxos,
	}
}

func outputTotal(tx *transaction.Transaction) uint64 {
	var total uint64
	for _, out := range tx.Outputs {
		total += out.Satoshis
	}
	return total
}

func TestTransferFee(t *testing.T) {
	tests := []struct {
		length int
		want   uint64
	}{
		{0, 500},
		{57, 500},
		{200, 500},
		{201, 501},
		{700, 1000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TransferFee(tt.length), "length %d", tt.length)
	}
}

func TestSelectUTXOs(t *testing.T) {
	utxos := []*UTXO{testUTXO(1, 0, 600), testUTXO(2, 0, 600), testUTXO(3, 0, 5000)}

	selected, total := SelectUTXOs(utxos, 1000)
	assert.Len(t, selected, 2)
	assert.Equal(t, uint64(1200), total)

	selected, total = SelectUTXOs(utxos, 100_000)
	assert.Len(t, selected, 3)
	assert.Equal(t, uint64(6200), total)

	selected, total = SelectUTXOs([]*UTXO{nil, testUTXO(4, 0, 2000)}, 1000)
	assert.Len(t, selected, 1)
	assert.Equal(t, uint64(2000), total)
}

func TestCreateTransferTransaction_NoUTXOs(t *testing.T) {
	p := transferParams(t)
	_, err := CreateTransferTransaction(p)
	assert.ErrorIs(t, err, ErrNoUTXOs)
}

func TestCreateTransferTransaction_InsufficientFunds(t *testing.T) {
	p := transferParams(t, testUTXO(1, 0, 200), testUTXO(2, 1, 200))
	_, err := CreateTransferTransaction(p)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	var ife *InsufficientFundsError
	require.True(t, errors.As(err, &ife))
	assert.Equal(t, uint64(400), ife.Have)
	assert.Equal(t, expectedFee+InscriptionSats, ife.Need)
}

func TestCreateTransferTransaction_ExactlyFeePlusOne(t *testing.T) {
	p := transferParams(t, testUTXO(1, 0, expectedFee+InscriptionSats))
	res, err := CreateTransferTransaction(p)
	require.NoError(t, err)
	assert.Nil(t, res.Change)
	assert.Equal(t, expectedFee, res.Fee)
}

func TestCreateTransferTransaction_InvalidParams(t *testing.T) {
	t.Run("nil key", func(t *testing.T) {
		p := transferParams(t, testUTXO(1, 0, 5000))
		p.Key = nil
		_, err := CreateTransferTransaction(p)
		assert.ErrorIs(t, err, ErrNilParam)
	})
	t.Run("zero amount", func(t *testing.T) {
		p := transferParams(t, testUTXO(1, 0, 5000))
		p.Amount = 0
		_, err := CreateTransferTransaction(p)
		assert.ErrorIs(t, err, ErrInvalidParams)
	})
	t.Run("bad recipient", func(t *testing.T) {
		p := transferParams(t, testUTXO(1, 0, 5000))
		p.Recipient = "xyz"
		_, err := CreateTransferTransaction(p)
		assert.ErrorIs(t, err, ErrScriptBuild)
	})
	t.Run("empty tick", func(t *testing.T) {
		p := transferParams(t, testUTXO(1, 0, 5000))
		p.Tick = ""
		_, err := CreateTransferTransaction(p)
		assert.ErrorIs(t, err, ErrInvalidParams)
	})
	t.Run("short txid", func(t *testing.T) {
		p := transferParams(t, &UTXO{TxID: []byte{1, 2}, Amount: 5000})
		_, err := CreateTransferTransaction(p)
		assert.ErrorIs(t, err, ErrInvalidTxID)
	})
}

func TestCreateTransferTransaction_WithChange(t *testing.T) {
	p := transferParams(t, testUTXO(1, 0, 600), testUTXO(2, 3, 600), testUTXO(3, 0, 5000))
	res, err := CreateTransferTransaction(p)
	require.NoError(t, err)

	// Greedy selection stops once 1000 sat is reached.
	require.Len(t, res.Inputs, 2)
	assert.Equal(t, uint64(1200), res.InputTotal)
	assert.Equal(t, expectedFee, res.RequiredFee)

	parsed, err := transaction.NewTransactionFromHex(res.Hex)
	require.NoError(t, err)
	assert.Equal(t, res.TxID, parsed.TxID().String())
	require.Len(t, parsed.Inputs, 2)
	require.Len(t, parsed.Outputs, 2)

	assert.Equal(t, InscriptionSats, parsed.Outputs[0].Satoshis)
	require.NotNil(t, res.Change)
	assert.Equal(t, uint64(1200)-expectedFee-InscriptionSats, parsed.Outputs[1].Satoshis)
	assert.Equal(t, res.Change.Amount, parsed.Outputs[1].Satoshis)
	assert.True(t, parsed.Outputs[1].LockingScript.IsP2PKH())

	// Conservation: inputs = outputs + fee.
	assert.Equal(t, res.InputTotal, outputTotal(parsed)+res.Fee)
	assert.Equal(t, res.RequiredFee, res.Fee)

	tr, env, err := bsv20.ParseTransferScript(parsed.Outputs[0].LockingScript)
	require.NoError(t, err)
	assert.Equal(t, "1000", tr.Amt)
	assert.Equal(t, "BOASE", tr.Tick)

	recipient, err := script.NewAddressFromString(p.Recipient)
	require.NoError(t, err)
	assert.Equal(t, []byte(recipient.PublicKeyHash), env.OwnerPKH)
}

func TestCreateTransferTransaction_DustChangeOmitted(t *testing.T) {
	p := transferParams(t, testUTXO(1, 0, 1000))
	res, err := CreateTransferTransaction(p)
	require.NoError(t, err)

	parsed, err := transaction.NewTransactionFromHex(res.Hex)
	require.NoError(t, err)
	require.Len(t, parsed.Outputs, 1)
	assert.Nil(t, res.Change)

	// 1000 - 500 - 1 = 499 <= 546 goes to the miner.
	assert.Equal(t, uint64(999), res.Fee)
	assert.Equal(t, res.InputTotal, outputTotal(parsed)+res.Fee)
}

func TestCreateTransferTransaction_ChangeJustAboveDust(t *testing.T) {
	total := expectedFee + InscriptionSats + DustLimit + 1
	p := transferParams(t, testUTXO(1, 0, total))
	res, err := CreateTransferTransaction(p)
	require.NoError(t, err)
	require.NotNil(t, res.Change)
	assert.Equal(t, DustLimit+1, res.Change.Amount)

	p = transferParams(t, testUTXO(1, 0, total-1))
	res, err = CreateTransferTransaction(p)
	require.NoError(t, err)
	assert.Nil(t, res.Change)
}

func TestCreateTransferTransaction_ConservationProperty(t *testing.T) {
	amounts := [][]uint64{
		{501},
		{1024},
		{1048},
		{1047},
		{300, 300, 300, 300},
		{100_000},
		{999, 1, 50},
		{2_100_000_000},
	}
	for _, set := range amounts {
		var utxos []*UTXO
		for i, a := range set {
			utxos = append(utxos, testUTXO(byte(i+1), uint32(i), a))
		}
		p := transferParams(t, utxos...)
		res, err := CreateTransferTransaction(p)
		require.NoError(t, err, "utxos %v", set)

		parsed, err := transaction.NewTransactionFromHex(res.Hex)
		require.NoError(t, err)
		assert.Equal(t, res.InputTotal, outputTotal(parsed)+res.Fee, "utxos %v", set)
		if res.Change != nil {
			assert.Equal(t, res.RequiredFee, res.Fee, "utxos %v", set)
		} else {
			assert.Equal(t, res.InputTotal-InscriptionSats, res.Fee, "utxos %v", set)
		}
	}
}

func TestCreateTransferTransaction_SignaturesVerify(t *testing.T) {
	p := transferParams(t, testUTXO(1, 0, 700), testUTXO(2, 1, 900))
	res, err := CreateTransferTransaction(p)
	require.NoError(t, err)

	parsed, err := transaction.NewTransactionFromHex(res.Hex)
	require.NoError(t, err)

	sender, err := AddressFromKey(p.Key)
	require.NoError(t, err)
	senderLock, err := P2PKHScript(sender.AddressString)
	require.NoError(t, err)

	for i, in := range parsed.Inputs {
		chunks, err := in.UnlockingScript.Chunks()
		require.NoError(t, err)
		require.Len(t, chunks, 2)

		sigBytes := chunks[0].Data
		require.NotEmpty(t, sigBytes)
		assert.Equal(t, byte(sighash.AllForkID), sigBytes[len(sigBytes)-1])
		assert.Equal(t, p.Key.PubKey().Compressed(), chunks[1].Data)

		in.SetSourceTxOutput(&transaction.TransactionOutput{
			Satoshis:      res.Inputs[i].Amount,
			LockingScript: senderLock,
		})
		hash, err := parsed.CalcInputSignatureHash(uint32(i), sighash.AllForkID)
		require.NoError(t, err)

		sig, err := ec.ParseDERSignature(sigBytes[:len(sigBytes)-1])
		require.NoError(t, err)
		assert.True(t, sig.Verify(hash, p.Key.PubKey()), "input %d", i)
	}
}

func TestCreateTransferTransaction_UsesProvidedScriptPubKey(t *testing.T) {
	p := transferParams(t)
	sender, err := AddressFromKey(p.Key)
	require.NoError(t, err)
	lock, err := P2PKHScript(sender.AddressString)
	require.NoError(t, err)

	u := testUTXO(9, 2, 5000)
	u.ScriptPubKey = []byte(*lock)
	p.UTXOs = []*UTXO{u}

	res, err := CreateTransferTransaction(p)
	require.NoError(t, err)
	require.NotNil(t, res.Change)
	assert.Equal(t, []byte(*lock), res.Change.ScriptPubKey)
}

func TestParseTxID(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}
	h, err := chainhash.NewHash(raw)
	require.NoError(t, err)

	got, err := ParseTxID(h.String())
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = ParseTxID("abcd")
	assert.ErrorIs(t, err, ErrInvalidTxID)
	_, err = ParseTxID("zz")
	assert.ErrorIs(t, err, ErrInvalidTxID)
}

func TestSumAmounts(t *testing.T) {
	assert.Equal(t, uint64(0), SumAmounts(nil))
	assert.Equal(t, uint64(30), SumAmounts([]*UTXO{testUTXO(1, 0, 10), nil, testUTXO(2, 0, 20)}))
}
