package chainclient

import "github.com/ethereum/go-ethereum/crypto"

// roleID hashes a role name into the bytes32 identifier the Chain
// access-control contracts use, mirroring OpenZeppelin's
// keccak256("ROLE_NAME") convention.
func roleID(name string) [32]byte {
	return crypto.Keccak256Hash([]byte(name))
}
