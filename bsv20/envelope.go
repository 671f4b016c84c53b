package bsv20

import (
	"bytes"
	"fmt"

	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction/template/p2pkh"
)

// p2pkhLen is the size of a standard pay-to-public-key-hash locking script.
const p2pkhLen = 25

var envelopeTag = []byte("ord")

// Envelope is the decoded content of an ord envelope.
type Envelope struct {
	ContentType string
	Body        []byte
	// OwnerPKH is the 20-byte hash of the P2PKH script in front of the
	// envelope, nil when the script does not start with one.
	OwnerPKH []byte
}

// EnvelopeScript builds
//
//	OP_FALSE OP_IF "ord" OP_1 <content-type> OP_0 <body> OP_ENDIF
func EnvelopeScript(contentType string, body []byte) (*script.Script, error) {
	s := &script.Script{}
	*s = append(*s, script.OpFALSE, script.OpIF)
	if err := s.AppendPushData(envelopeTag); err != nil {
		return nil, fmt.Errorf("%w: envelope tag: %w", ErrScriptBuild, err)
	}
	*s = append(*s, script.Op1)
	if err := s.AppendPushData([]byte(contentType)); err != nil {
		return nil, fmt.Errorf("%w: content type: %w", ErrScriptBuild, err)
	}
	*s = append(*s, script.Op0)
	if err := s.AppendPushData(body); err != nil {
		return nil, fmt.Errorf("%w: body: %w", ErrScriptBuild, err)
	}
	*s = append(*s, script.OpENDIF)
	return s, nil
}

// InscriptionScript returns the P2PKH script for address followed by an
// envelope carrying the BSV-20 payload.
func InscriptionScript(address string, payload []byte) (*script.Script, error) {
	addr, err := script.NewAddressFromString(address)
	if err != nil {
		return nil, fmt.Errorf("%w: recipient address: %w", ErrScriptBuild, err)
	}
	lock, err := p2pkh.Lock(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: P2PKH lock: %w", ErrScriptBuild, err)
	}
	env, err := EnvelopeScript(ContentType, payload)
	if err != nil {
		return nil, err
	}

	combined := make(script.Script, 0, len(*lock)+len(*env))
	combined = append(combined, *lock...)
	combined = append(combined, *env...)
	return &combined, nil
}

// ParseEnvelope extracts the first ord envelope from s.
func ParseEnvelope(s *script.Script) (*Envelope, error) {
	if s == nil || len(*s) == 0 {
		return nil, ErrNoEnvelope
	}
	chunks, err := s.Chunks()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}

	start := -1
	for i := 0; i+2 < len(chunks); i++ {
		if chunks[i].Op == script.OpFALSE && chunks[i+1].Op == script.OpIF &&
			bytes.Equal(chunks[i+2].Data, envelopeTag) {
			start = i + 3
			break
		}
	}
	if start < 0 {
		return nil, ErrNoEnvelope
	}

	env := &Envelope{}
	if len(*s) > p2pkhLen {
		prefix := script.NewFromBytes((*s)[:p2pkhLen])
		if prefix.IsP2PKH() {
			if pkh, err := prefix.PublicKeyHash(); err == nil {
				env.OwnerPKH = pkh
			}
		}
	}

	for i := start; i < len(chunks); i += 2 {
		if chunks[i].Op == script.OpENDIF {
			return env, nil
		}
		if i+1 >= len(chunks) {
			break
		}
		value := chunks[i+1].Data
		switch {
		case chunks[i].Op == script.Op0:
			env.Body = value
		case chunks[i].Op == script.Op1, bytes.Equal(chunks[i].Data, []byte{0x01}):
			env.ContentType = string(value)
		}
	}
	return nil, fmt.Errorf("%w: missing OP_ENDIF", ErrMalformedEnvelope)
}

// ParseTransferScript decodes a BSV-20 transfer from an inscribed locking script.
func ParseTransferScript(s *script.Script) (*Transfer, *Envelope, error) {
	env, err := ParseEnvelope(s)
	if err != nil {
		return nil, nil, err
	}
	if env.ContentType != ContentType {
		return nil, env, fmt.Errorf("%w: content type %q", ErrInvalidPayload, env.ContentType)
	}
	t, err := ParseTransfer(env.Body)
	if err != nil {
		return nil, env, err
	}
	return t, env, nil
}
