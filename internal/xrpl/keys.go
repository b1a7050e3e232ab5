package xrpl

import (
	"crypto/ed25519"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
)

// Algorithm selects the key family used to derive an account from seed entropy.
type Algorithm string

const (
	Ed25519   Algorithm = "ed25519"
	Secp256k1 Algorithm = "secp256k1"

	// DefaultAlgorithm is used when a job carries no or an unknown selector.
	DefaultAlgorithm = Ed25519
)

// ed25519KeyPrefix marks ed25519 public and private keys in XRPL encodings.
const ed25519KeyPrefix byte = 0xED

var errScalarSearchExhausted = errors.New("xrpl: no valid secp256k1 scalar found")

// ParseAlgorithm maps a selector string to an Algorithm. Unknown or empty selectors
// fall back to DefaultAlgorithm.
func ParseAlgorithm(s string) Algorithm {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "secp256k1", "ecdsa-secp256k1":
		return Secp256k1
	case "ed25519":
		return Ed25519
	default:
		return DefaultAlgorithm
	}
}

// Keypair is one generated account.
type Keypair struct {
	Algorithm  Algorithm
	Seed       string
	PublicKey  []byte // 33 bytes; 0xED-prefixed for ed25519, compressed point for secp256k1
	PrivateKey []byte // 33 bytes; 0xED- or 0x00-prefixed
	Address    string
}

// GenerateKeypair draws fresh seed entropy from r and derives the account.
func GenerateKeypair(algo Algorithm, r io.Reader) (*Keypair, error) {
	entropy := make([]byte, EntropyLength)
	if _, err := io.ReadFull(r, entropy); err != nil {
		return nil, fmt.Errorf("read seed entropy: %w", err)
	}
	return DeriveKeypair(entropy, algo)
}

// KeypairFromSeed re-derives the account behind a family seed.
func KeypairFromSeed(seed string) (*Keypair, error) {
	entropy, algo, err := DecodeSeed(seed)
	if err != nil {
		return nil, err
	}
	return DeriveKeypair(entropy, algo)
}

// DeriveKeypair derives the account for seed entropy under the given key family.
func DeriveKeypair(entropy []byte, algo Algorithm) (*Keypair, error) {
	seed, err := EncodeSeed(entropy, algo)
	if err != nil {
		return nil, err
	}

	var pub, priv []byte
	switch algo {
	case Secp256k1:
		pub, priv, err = deriveSecp256k1(entropy)
		if err != nil {
			return nil, err
		}
	default:
		algo = Ed25519
		pub, priv = deriveEd25519(entropy)
	}

	return &Keypair{
		Algorithm:  algo,
		Seed:       seed,
		PublicKey:  pub,
		PrivateKey: priv,
		Address:    EncodeAccountID(AccountID(pub)),
	}, nil
}

func sha512Half(data []byte) []byte {
	sum := sha512.Sum512(data)
	return sum[:32]
}

func deriveEd25519(entropy []byte) (pub, priv []byte) {
	raw := sha512Half(entropy)
	key := ed25519.NewKeyFromSeed(raw)

	pub = append([]byte{ed25519KeyPrefix}, key.Public().(ed25519.PublicKey)...)
	priv = append([]byte{ed25519KeyPrefix}, raw...)
	return pub, priv
}

// deriveSecp256k1 follows the XRPL key family scheme: a root scalar from the seed, then
// an account scalar tweaked by the root public key and account index 0.
func deriveSecp256k1(entropy []byte) (pub, priv []byte, err error) {
	order := btcec.S256().Params().N

	root, err := deriveScalar(order, entropy, nil)
	if err != nil {
		return nil, nil, err
	}
	_, rootPub := btcec.PrivKeyFromBytes(root.FillBytes(make([]byte, 32)))

	accountIndex := uint32(0)
	tweak, err := deriveScalar(order, rootPub.SerializeCompressed(), &accountIndex)
	if err != nil {
		return nil, nil, err
	}

	scalar := new(big.Int).Add(root, tweak)
	scalar.Mod(scalar, order)
	raw := scalar.FillBytes(make([]byte, 32))
	_, accountPub := btcec.PrivKeyFromBytes(raw)

	priv = append([]byte{0x00}, raw...)
	return accountPub.SerializeCompressed(), priv, nil
}

func deriveScalar(order *big.Int, data []byte, discriminator *uint32) (*big.Int, error) {
	buf := make([]byte, 0, len(data)+8)
	for i := uint64(0); i <= 0xFFFFFFFF; i++ {
		buf = append(buf[:0], data...)
		if discriminator != nil {
			buf = binary.BigEndian.AppendUint32(buf, *discriminator)
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(i))

		k := new(big.Int).SetBytes(sha512Half(buf))
		if k.Sign() > 0 && k.Cmp(order) < 0 {
			return k, nil
		}
	}
	return nil, errScalarSearchExhausted
}
