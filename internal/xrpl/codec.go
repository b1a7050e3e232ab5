// Package xrpl implements the parts of the XRP Ledger address format needed to
// generate classic addresses and family seeds: the ripple base58 alphabet, base58check
// with XRPL version prefixes, and account id hashing.
package xrpl

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // XRPL account ids are RIPEMD160(SHA256(pubkey))
)

const (
	// Alphabet is the XRPL base58 dictionary. It is a permutation of the bitcoin alphabet,
	// so encoding is done with btcutil's base58 followed by a per-character translation.
	Alphabet = "rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz"

	bitcoinAlphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

	// AddressPrefix is the leading character of every classic address.
	AddressPrefix = 'r'

	accountIDVersion     byte = 0x00
	secp256k1SeedVersion byte = 0x21

	// AccountIDLength is the size of an account id in bytes.
	AccountIDLength = 20
	// EntropyLength is the size of family seed entropy in bytes.
	EntropyLength = 16
)

// ed25519SeedPrefix is the three byte version of ed25519 family seeds ("sEd...").
var ed25519SeedPrefix = []byte{0x01, 0xE1, 0x4B}

var (
	ErrInvalidEncoding = errors.New("xrpl: invalid base58 encoding")
	ErrInvalidSeed     = errors.New("xrpl: invalid family seed")
)

var (
	toRipple  [256]byte
	toBitcoin [256]byte
)

func init() {
	for i := 0; i < len(Alphabet); i++ {
		toRipple[bitcoinAlphabet[i]] = Alphabet[i]
		toBitcoin[Alphabet[i]] = bitcoinAlphabet[i]
	}
}

// IsAlphabet reports whether every character of s belongs to the XRPL alphabet.
func IsAlphabet(s string) bool {
	for i := 0; i < len(s); i++ {
		if toBitcoin[s[i]] == 0 {
			return false
		}
	}
	return true
}

func translate(s string, table *[256]byte) (string, error) {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := table[s[i]]
		if c == 0 {
			return "", fmt.Errorf("%w: unexpected character %q", ErrInvalidEncoding, s[i])
		}
		out[i] = c
	}
	return string(out), nil
}

func checkEncode(version byte, payload []byte) string {
	// translation cannot fail: btcutil only emits bitcoin alphabet characters
	s, _ := translate(base58.CheckEncode(payload, version), &toRipple)
	return s
}

func checkDecode(s string) ([]byte, byte, error) {
	b, err := translate(s, &toBitcoin)
	if err != nil {
		return nil, 0, err
	}
	payload, version, err := base58.CheckDecode(b)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	return payload, version, nil
}

// AccountID hashes a 33-byte public key into its 20-byte account id.
func AccountID(publicKey []byte) []byte {
	sha := sha256.Sum256(publicKey)
	h := ripemd160.New()
	h.Write(sha[:])
	return h.Sum(nil)
}

// EncodeAccountID renders an account id as a classic address.
func EncodeAccountID(accountID []byte) string {
	return checkEncode(accountIDVersion, accountID)
}

// DecodeAddress parses a classic address back into its account id.
func DecodeAddress(address string) ([]byte, error) {
	payload, version, err := checkDecode(address)
	if err != nil {
		return nil, err
	}
	if version != accountIDVersion || len(payload) != AccountIDLength {
		return nil, fmt.Errorf("%w: not a classic address", ErrInvalidEncoding)
	}
	return payload, nil
}

// EncodeSeed renders seed entropy as a family seed for the given algorithm.
func EncodeSeed(entropy []byte, algo Algorithm) (string, error) {
	if len(entropy) != EntropyLength {
		return "", fmt.Errorf("%w: entropy must be %d bytes", ErrInvalidSeed, EntropyLength)
	}
	if algo == Secp256k1 {
		return checkEncode(secp256k1SeedVersion, entropy), nil
	}
	payload := make([]byte, 0, len(ed25519SeedPrefix)-1+len(entropy))
	payload = append(payload, ed25519SeedPrefix[1:]...)
	payload = append(payload, entropy...)
	return checkEncode(ed25519SeedPrefix[0], payload), nil
}

// DecodeSeed parses a family seed into its entropy and key algorithm.
func DecodeSeed(seed string) ([]byte, Algorithm, error) {
	payload, version, err := checkDecode(seed)
	if err != nil {
		return nil, "", err
	}
	switch {
	case version == secp256k1SeedVersion && len(payload) == EntropyLength:
		return payload, Secp256k1, nil
	case version == ed25519SeedPrefix[0] &&
		len(payload) == EntropyLength+2 &&
		bytes.Equal(payload[:2], ed25519SeedPrefix[1:]):
		return payload[2:], Ed25519, nil
	}
	return nil, "", ErrInvalidSeed
}
