package state

import (
	"encoding/binary"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	accountPrefix = []byte("account/")
	escrowPrefix  = []byte("escrow/job/")
	genesisKey    = ethcrypto.Keccak256([]byte("meta/genesis"))
)

// accountKey hashes the address so key length does not depend on the caller's
// encoding.
func accountKey(addr []byte) []byte {
	hashed := ethcrypto.Keccak256(addr)
	buf := make([]byte, len(accountPrefix)+len(hashed))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], hashed)
	return buf
}

// escrowKey uses a big-endian job id so keys iterate in job order.
func escrowKey(jobID uint64) []byte {
	buf := make([]byte, len(escrowPrefix)+8)
	copy(buf, escrowPrefix)
	binary.BigEndian.PutUint64(buf[len(escrowPrefix):], jobID)
	return buf
}

func jobIDFromKey(key []byte) (uint64, bool) {
	if len(key) != len(escrowPrefix)+8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(key[len(escrowPrefix):]), true
}
