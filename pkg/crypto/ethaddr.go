package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// NormalizeAddress validates a 20-byte hex address and returns it in the
// lowercase 0x form used as a storage key.
func NormalizeAddress(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) || !strings.HasPrefix(strings.ToLower(s), "0x") {
		return "", fmt.Errorf("invalid address %q", s)
	}
	return strings.ToLower(s), nil
}

// ChecksumAddress renders a validated address in EIP-55 form.
func ChecksumAddress(s string) (string, error) {
	lower, err := NormalizeAddress(s)
	if err != nil {
		return "", err
	}
	raw, _ := hex.DecodeString(lower[2:])
	return EIP55(raw), nil
}

// EIP55 computes the checksummed hex address string from 20-byte raw address.
func EIP55(addr20 []byte) string {
	hexaddr := hex.EncodeToString(addr20)
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(hexaddr))
	hash := h.Sum(nil)

	out := make([]byte, 2+len(hexaddr))
	copy(out, "0x")
	for i, c := range []byte(hexaddr) {
		if c >= '0' && c <= '9' {
			out[2+i] = c
			continue
		}
		// i>>1 picks the hash byte; even index reads the high nibble
		nibble := hash[i>>1] & 0x0f
		if i%2 == 0 {
			nibble = hash[i>>1] >> 4
		}
		if nibble >= 8 {
			c -= 'a' - 'A'
		}
		out[2+i] = c
	}
	return string(out)
}
