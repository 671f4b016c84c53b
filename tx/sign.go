package tx

import (
	"fmt"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction"
	sighash "github.com/bsv-blockchain/go-sdk/transaction/sighash"
	"github.com/bsv-blockchain/go-sdk/transaction/template/p2pkh"
)

// SigHashFlag is the signature hash type used for every treasury input.
var SigHashFlag = sighash.AllForkID

// AddressFromKey returns the mainnet P2PKH address of key.
func AddressFromKey(key *ec.PrivateKey) (*script.Address, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: private key", ErrNilParam)
	}
	addr, err := script.NewAddressFromPublicKey(key.PubKey(), true)
	if err != nil {
		return nil, fmt.Errorf("%w: address from pubkey: %w", ErrScriptBuild, err)
	}
	return addr, nil
}

// P2PKHScript creates a P2PKH locking script paying address.
func P2PKHScript(address string) (*script.Script, error) {
	addr, err := script.NewAddressFromString(address)
	if err != nil {
		return nil, fmt.Errorf("%w: parse address %q: %w", ErrScriptBuild, address, err)
	}
	lock, err := p2pkh.Lock(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: P2PKH lock: %w", ErrScriptBuild, err)
	}
	return lock, nil
}

// addSignedInputs appends one input per UTXO and attaches the source output
// and a P2PKH unlocker so Sign can compute each sighash. UTXOs without a
// ScriptPubKey are assumed to be locked to senderLock.
func addSignedInputs(sdkTx *transaction.Transaction, utxos []*UTXO, key *ec.PrivateKey, senderLock *script.Script) error {
	flag := SigHashFlag
	for i, u := range utxos {
		if u == nil {
			return fmt.Errorf("%w: utxo[%d] is nil", ErrNilParam, i)
		}
		if len(u.TxID) != TxIDLen {
			return fmt.Errorf("%w: utxo[%d] has %d bytes", ErrInvalidTxID, i, len(u.TxID))
		}
		hash, err := chainhash.NewHash(u.TxID)
		if err != nil {
			return fmt.Errorf("%w: utxo[%d]: %w", ErrInvalidTxID, i, err)
		}

		unlocker, err := p2pkh.Unlock(key, &flag)
		if err != nil {
			return fmt.Errorf("%w: unlocker for input %d: %w", ErrSigningFailed, i, err)
		}

		lockingScript := senderLock
		if len(u.ScriptPubKey) > 0 {
			lockingScript = script.NewFromBytes(u.ScriptPubKey)
		}

		input := &transaction.TransactionInput{
			SourceTXID:              hash,
			SourceTxOutIndex:        u.Vout,
			SequenceNumber:          transaction.DefaultSequenceNumber,
			UnlockingScriptTemplate: unlocker,
		}
		input.SetSourceTxOutput(&transaction.TransactionOutput{
			Satoshis:      u.Amount,
			LockingScript: lockingScript,
		})
		sdkTx.AddInput(input)
	}
	return nil
}

// signAll signs every input of sdkTx with its attached unlocker.
func signAll(sdkTx *transaction.Transaction) error {
	if len(sdkTx.Inputs) == 0 {
		return fmt.Errorf("%w: transaction has no inputs", ErrSigningFailed)
	}
	if err := sdkTx.Sign(); err != nil {
		return fmt.Errorf("%w: %w", ErrSigningFailed, err)
	}
	return nil
}
