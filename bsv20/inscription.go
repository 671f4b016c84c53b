// Package bsv20 encodes and decodes BSV-20 token operations and the
// ordinals envelope that carries them inside a locking script.
//
// A transfer inscription is the JSON object
//
//	{"p":"bsv-20","op":"transfer","tick":"<symbol>","amt":"<integer>"}
//
// with keys in exactly that order. Indexers match the bytes, so the
// encoding here never reorders keys, adds whitespace or escapes HTML.
package bsv20

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

const (
	// Protocol is the value of the "p" field.
	Protocol = "bsv-20"

	// OpTransfer is the value of the "op" field for transfers.
	OpTransfer = "transfer"

	// ContentType is the MIME type written into the ord envelope.
	ContentType = "application/bsv-20"
)

// Transfer is the decoded body of a BSV-20 transfer inscription.
type Transfer struct {
	P    string `json:"p"`
	Op   string `json:"op"`
	Tick string `json:"tick"`
	Amt  string `json:"amt"`
}

// Amount parses the amt field.
func (t Transfer) Amount() (uint64, error) {
	n, err := strconv.ParseUint(t.Amt, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, t.Amt)
	}
	return n, nil
}

// Inscription pairs the decoded transfer with its exact wire bytes.
type Inscription struct {
	Data    Transfer
	Payload []byte
}

// Len returns the payload length in bytes. The transfer fee depends on it.
func (i *Inscription) Len() int {
	return len(i.Payload)
}

// CreateTransferInscription builds the transfer payload for amount units of tick.
func CreateTransferInscription(tick string, amount uint64) (*Inscription, error) {
	if tick == "" {
		return nil, ErrEmptyTick
	}
	data := Transfer{
		P:    Protocol,
		Op:   OpTransfer,
		Tick: tick,
		Amt:  strconv.FormatUint(amount, 10),
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	return &Inscription{
		Data:    data,
		Payload: bytes.TrimSuffix(buf.Bytes(), []byte("\n")),
	}, nil
}

// ParseTransfer decodes and validates a transfer payload.
func ParseTransfer(payload []byte) (*Transfer, error) {
	var t Transfer
	if err := json.Unmarshal(payload, &t); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if t.P != Protocol {
		return nil, fmt.Errorf("%w: protocol %q", ErrInvalidPayload, t.P)
	}
	if t.Op != OpTransfer {
		return nil, fmt.Errorf("%w: op %q", ErrInvalidPayload, t.Op)
	}
	if t.Tick == "" {
		return nil, ErrEmptyTick
	}
	if _, err := t.Amount(); err != nil {
		return nil, err
	}
	return &t, nil
}
