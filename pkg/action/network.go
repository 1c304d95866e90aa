package action

import (
	"fmt"
	"strings"
)

// Network selects which exchange deployment a signature is valid for.
type Network string

const (
	Mainnet Network = "Mainnet"
	Testnet Network = "Testnet"
)

func ParseNetwork(s string) (Network, error) {
	switch strings.ToLower(s) {
	case "mainnet":
		return Mainnet, nil
	case "testnet":
		return Testnet, nil
	}
	return "", fmt.Errorf("unknown network %q", s)
}

// Source is the phantom agent source tag.
func (n Network) Source() string {
	if n == Mainnet {
		return "a"
	}
	return "b"
}
