// Package tx assembles and signs the treasury's BSV-20 transfer transactions.
package tx

import (
	"fmt"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/go-sdk/transaction"

	"github.com/b0ase/bsv20-treasury/bsv20"
)

const (
	// DustLimit is the threshold at or below which change is not emitted.
	DustLimit = uint64(546)

	// InscriptionSats is the value of the inscribed output.
	InscriptionSats = uint64(1)

	// MinInputTarget is the minimum cumulative input value gathered before fee checks.
	MinInputTarget = uint64(1000)

	// BaseFee is added to the inscription length to get the fee.
	BaseFee = uint64(300)

	// MinFee is the fee floor in satoshis.
	MinFee = uint64(500)
)

// TransferFee returns max(BaseFee + inscriptionLen, MinFee).
func TransferFee(inscriptionLen int) uint64 {
	fee := BaseFee + uint64(inscriptionLen)
	if fee < MinFee {
		return MinFee
	}
	return fee
}

// TransferParams describes one treasury transfer.
type TransferParams struct {
	Tick      string
	Amount    uint64
	Recipient string // P2PKH address
	Key       *ec.PrivateKey
	UTXOs     []*UTXO
}

// TransferTx is a signed transfer ready for broadcast.
type TransferTx struct {
	RawTx       []byte
	Hex         string
	TxID        string // display-order hex
	Inscription *bsv20.Inscription
	Inputs      []*UTXO // UTXOs consumed, in input order
	InputTotal  uint64
	RequiredFee uint64 // max(300 + len(inscription), 500)
	Fee         uint64 // InputTotal minus all outputs; exceeds RequiredFee when change is dust
	Change      *UTXO  // nil when the remainder is dust
}

// SelectUTXOs greedily takes utxos in order until their value reaches target.
// It returns every UTXO when the target cannot be reached.
func SelectUTXOs(utxos []*UTXO, target uint64) ([]*UTXO, uint64) {
	var selected []*UTXO
	var total uint64
	for _, u := range utxos {
		if u == nil {
			continue
		}
		selected = append(selected, u)
		total += u.Amount
		if total >= target {
			break
		}
	}
	return selected, total
}

// CreateTransferTransaction builds and signs a transaction that inscribes a
// BSV-20 transfer of p.Amount to p.Recipient.
//
// Output layout:
//
//	[0] P2PKH(recipient) + ord envelope, 1 sat
//	[1] P2PKH(sender) change, omitted when total - fee - 1 <= DustLimit
func CreateTransferTransaction(p TransferParams) (*TransferTx, error) {
	if p.Key == nil {
		return nil, fmt.Errorf("%w: private key", ErrNilParam)
	}
	if p.Amount == 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidParams)
	}
	if p.Recipient == "" {
		return nil, fmt.Errorf("%w: empty recipient", ErrInvalidParams)
	}
	if len(p.UTXOs) == 0 {
		return nil, ErrNoUTXOs
	}

	sender, err := AddressFromKey(p.Key)
	if err != nil {
		return nil, err
	}
	senderLock, err := P2PKHScript(sender.AddressString)
	if err != nil {
		return nil, err
	}

	ins, err := bsv20.CreateTransferInscription(p.Tick, p.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	fee := TransferFee(ins.Len())
	need := fee + InscriptionSats

	target := MinInputTarget
	if need > target {
		target = need
	}
	inputs, total := SelectUTXOs(p.UTXOs, target)
	if total < need {
		return nil, &InsufficientFundsError{Have: total, Need: need}
	}

	inscribed, err := bsv20.InscriptionScript(p.Recipient, ins.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScriptBuild, err)
	}

	sdkTx := transaction.NewTransaction()
	if err := addSignedInputs(sdkTx, inputs, p.Key, senderLock); err != nil {
		return nil, err
	}

	sdkTx.AddOutput(&transaction.TransactionOutput{
		Satoshis:      InscriptionSats,
		LockingScript: inscribed,
	})

	var change *UTXO
	remainder := total - fee - InscriptionSats
	if remainder > DustLimit {
		sdkTx.AddOutput(&transaction.TransactionOutput{
			Satoshis:      remainder,
			LockingScript: senderLock,
		})
		change = &UTXO{
			Vout:         1,
			Amount:       remainder,
			ScriptPubKey: []byte(*senderLock),
		}
	}

	if err := signAll(sdkTx); err != nil {
		return nil, err
	}

	txid := sdkTx.TxID()
	if change != nil {
		change.TxID = txid.CloneBytes()
	}

	var outTotal uint64
	for _, out := range sdkTx.Outputs {
		outTotal += out.Satoshis
	}

	return &TransferTx{
		RawTx:       sdkTx.Bytes(),
		Hex:         sdkTx.Hex(),
		TxID:        txid.String(),
		Inscription: ins,
		Inputs:      inputs,
		InputTotal:  total,
		RequiredFee: fee,
		Fee:         total - outTotal,
		Change:      change,
	}, nil
}
