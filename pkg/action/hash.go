package action

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vmihailenco/msgpack/v5"
)

// Pack encodes an action with msgpack. Structs keep their declaration order
// and integers use the smallest encoding, matching the exchange's encoder.
func Pack(a Action) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	if err := enc.Encode(a); err != nil {
		return nil, fmt.Errorf("msgpack %s action: %w", a.Kind(), err)
	}
	return buf.Bytes(), nil
}

// Hash computes the connection id of an L1 action:
//
//	keccak256(msgpack(action) || be64(nonce) || vaultFlag [|| vault] [|| 0x00 || be64(expiresAfter)])
func Hash(a Action, nonce uint64, vault string, expiresAfter *uint64) ([]byte, error) {
	encoded, err := Pack(a)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(encoded)
	buf.Write(be64(nonce))
	if vault == "" {
		buf.WriteByte(0x00)
	} else {
		if !common.IsHexAddress(vault) {
			return nil, fmt.Errorf("vault address %q is not a hex address", vault)
		}
		raw, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(vault), "0x"))
		if err != nil {
			return nil, fmt.Errorf("vault address: %w", err)
		}
		buf.WriteByte(0x01)
		buf.Write(raw)
	}
	if expiresAfter != nil {
		buf.WriteByte(0x00)
		buf.Write(be64(*expiresAfter))
	}
	return crypto.Keccak256(buf.Bytes()), nil
}

func be64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
