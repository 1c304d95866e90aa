package storage

import "errors"

var ErrNotFound = errors.New("storage: not found")

// Key schema for Pebble storage:
//
//	apiw:<lowercase owner address> -> JSON api wallet record
const prefixAPIWallet = "apiw:"

func apiWalletKey(owner string) []byte {
	return []byte(prefixAPIWallet + owner)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
