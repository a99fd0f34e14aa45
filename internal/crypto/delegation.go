// Package crypto provides the auction delegation keys used to authorize
// custody and issuance requests on an auction's own behalf, plus encrypted
// storage for the master seed they are derived from.
package crypto

import (
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// delegationTag domain-separates delegation key derivation from any other use
// of the master seed.
const delegationTag = "superpull/delegation/v1"

// Delegation is the signing capability an auction holds for its own custody
// and issuance operations. It is derived deterministically from the service
// master seed and the (authority, collection) pair, so the same auction always
// resolves to the same key without storing key material per auction.
//
// A Delegation is owned by the engine and handed only to the platform clients
// that perform the call; it is never exposed to external callers.
type Delegation struct {
	priv       *ecdsa.PrivateKey
	authority  string
	collection string
}

// Derive computes the delegation key for the auction created by authority for
// collection. The derivation hashes the seed with a domain tag and the pair;
// in the negligible case the digest is not a valid scalar, it is rehashed with
// a counter until one is.
func Derive(masterSeed []byte, authority, collection string) (*Delegation, error) {
	if len(masterSeed) < 16 {
		return nil, fmt.Errorf("crypto: master seed too short (%d bytes)", len(masterSeed))
	}

	for counter := uint32(0); counter < 16; counter++ {
		var ctr [4]byte
		binary.BigEndian.PutUint32(ctr[:], counter)

		digest := ethcrypto.Keccak256(
			[]byte(delegationTag),
			masterSeed,
			[]byte(authority),
			[]byte{0x00},
			[]byte(collection),
			ctr[:],
		)

		priv, err := ethcrypto.ToECDSA(digest)
		if err != nil {
			continue
		}
		return &Delegation{priv: priv, authority: authority, collection: collection}, nil
	}

	return nil, fmt.Errorf("crypto: could not derive delegation key for %s/%s", authority, collection)
}

// Address returns the delegation's on-ledger address.
func (d *Delegation) Address() common.Address {
	return ethcrypto.PubkeyToAddress(d.priv.PublicKey)
}

// SignRequest signs an HTTP request for the ledger/issuer APIs. The digest
// commits to the timestamp, method, path, and body so a captured signature
// cannot be replayed against another endpoint.
//
// Returned header keys:
//   - X-SP-Delegate:  hex address of the delegation key
//   - X-SP-Timestamp: unix seconds used in the digest
//   - X-SP-Signature: hex-encoded 65-byte recoverable signature
func (d *Delegation) SignRequest(method, path string, body []byte, unixTS int64) (map[string]string, error) {
	ts := strconv.FormatInt(unixTS, 10)

	digest := ethcrypto.Keccak256(
		[]byte(ts),
		[]byte(method),
		[]byte(path),
		body,
	)

	sig, err := ethcrypto.Sign(digest, d.priv)
	if err != nil {
		return nil, fmt.Errorf("crypto: sign request: %w", err)
	}

	return map[string]string{
		"X-SP-Delegate":  d.Address().Hex(),
		"X-SP-Timestamp": ts,
		"X-SP-Signature": hex.EncodeToString(sig),
	}, nil
}

// VerifyRequest checks a signature produced by SignRequest against the given
// delegate address. Used in tests and by collaborator stubs.
func VerifyRequest(delegate common.Address, method, path string, body []byte, unixTS int64, sigHex string) (bool, error) {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("crypto: decode signature: %w", err)
	}
	if len(sig) != 65 {
		return false, fmt.Errorf("crypto: expected 65-byte signature, got %d", len(sig))
	}

	digest := ethcrypto.Keccak256(
		[]byte(strconv.FormatInt(unixTS, 10)),
		[]byte(method),
		[]byte(path),
		body,
	)

	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return false, fmt.Errorf("crypto: recover pubkey: %w", err)
	}

	return ethcrypto.PubkeyToAddress(*pub) == delegate, nil
}

// String returns a redacted representation suitable for logging.
func (d *Delegation) String() string {
	return fmt.Sprintf("Delegation{addr=%s, authority=%s}", d.Address().Hex(), d.authority)
}
