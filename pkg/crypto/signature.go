package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Signature is a secp256k1 ECDSA signature split into the three fields the
// exchange transmits. V is always kept in the 27/28 convention.
type Signature struct {
	R [32]byte
	S [32]byte
	V uint8
}

// PrefixStyle selects how r and s are rendered on the wire.
type PrefixStyle uint8

const (
	Prefixed PrefixStyle = iota // "0x" + 64 hex chars
	Bare                        // 64 hex chars
)

var (
	ErrSignatureLength   = errors.New("signature must be 65 bytes")
	ErrSignatureRecovery = errors.New("signature recovery id must be 0, 1, 27 or 28")
)

// WireSignature is the {r, s, v} object sent to the exchange.
type WireSignature struct {
	R string `json:"r"`
	S string `json:"s"`
	V uint8  `json:"v"`
}

func normalizeV(v uint8) (uint8, error) {
	switch v {
	case 0, 1:
		return v + 27, nil
	case 27, 28:
		return v, nil
	default:
		return 0, fmt.Errorf("%w: got %d", ErrSignatureRecovery, v)
	}
}

// SignatureFromBytes splits a 65-byte [R || S || V] signature. V may use
// either the {0,1} or the {27,28} convention.
func SignatureFromBytes(raw []byte) (Signature, error) {
	var sig Signature
	if len(raw) != 65 {
		return sig, fmt.Errorf("%w, got %d", ErrSignatureLength, len(raw))
	}
	v, err := normalizeV(raw[64])
	if err != nil {
		return sig, err
	}
	copy(sig.R[:], raw[:32])
	copy(sig.S[:], raw[32:64])
	sig.V = v
	return sig, nil
}

// Decompose parses a hex signature as returned by a wallet, with or without
// the 0x prefix.
func Decompose(rawHex string) (Signature, error) {
	raw, err := hex.DecodeString(trimHexPrefix(rawHex))
	if err != nil {
		return Signature{}, fmt.Errorf("decode signature hex: %w", err)
	}
	return SignatureFromBytes(raw)
}

// Recompose renders the combined 0x-prefixed 65-byte signature.
func Recompose(sig Signature) string {
	return "0x" + hex.EncodeToString(sig.Bytes())
}

// Bytes returns [R || S || V] with V in 27/28.
func (s Signature) Bytes() []byte {
	out := make([]byte, 65)
	copy(out[:32], s.R[:])
	copy(out[32:64], s.S[:])
	out[64] = s.V
	return out
}

// RecoveryBytes returns [R || S || V-27], the layout Ecrecover expects.
func (s Signature) RecoveryBytes() []byte {
	out := s.Bytes()
	out[64] -= 27
	return out
}

func (s Signature) Wire(style PrefixStyle) WireSignature {
	prefix := ""
	if style == Prefixed {
		prefix = "0x"
	}
	return WireSignature{
		R: prefix + hex.EncodeToString(s.R[:]),
		S: prefix + hex.EncodeToString(s.S[:]),
		V: s.V,
	}
}

func (s Signature) String() string { return Recompose(s) }

// ParseWire accepts r and s with or without the 0x prefix, and v in either convention.
func ParseWire(w WireSignature) (Signature, error) {
	var sig Signature
	r, err := decodeWord(w.R)
	if err != nil {
		return sig, fmt.Errorf("signature r: %w", err)
	}
	s, err := decodeWord(w.S)
	if err != nil {
		return sig, fmt.Errorf("signature s: %w", err)
	}
	v, err := normalizeV(w.V)
	if err != nil {
		return sig, err
	}
	sig.R, sig.S, sig.V = r, s, v
	return sig, nil
}

// Style reports which prefix convention a wire signature was rendered with.
func (w WireSignature) Style() PrefixStyle {
	if strings.HasPrefix(w.R, "0x") || strings.HasPrefix(w.R, "0X") {
		return Prefixed
	}
	return Bare
}

// decodeWord left-pads short values: some wallets drop leading zero bytes of r or s.
func decodeWord(h string) ([32]byte, error) {
	var out [32]byte
	h = trimHexPrefix(h)
	if len(h)%2 == 1 {
		h = "0" + h
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return out, err
	}
	if len(b) > 32 {
		return out, fmt.Errorf("value is %d bytes, want at most 32", len(b))
	}
	copy(out[32-len(b):], b)
	return out, nil
}

func trimHexPrefix(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:]
	}
	return s
}
