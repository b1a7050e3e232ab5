package xrpl

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeAccountID_WellKnownAccounts(t *testing.T) {
	tests := []struct {
		name      string
		accountID []byte
		expected  string
	}{
		{
			name:      "account zero",
			accountID: make([]byte, AccountIDLength),
			expected:  "rrrrrrrrrrrrrrrrrrrrrhoLvTp",
		},
		{
			name:      "account one",
			accountID: append(make([]byte, AccountIDLength-1), 0x01),
			expected:  "rrrrrrrrrrrrrrrrrrrrBZbvji",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			address := EncodeAccountID(tt.accountID)
			assert.Equal(t, tt.expected, address)

			decoded, err := DecodeAddress(address)
			require.NoError(t, err)
			assert.Equal(t, tt.accountID, decoded)
		})
	}
}

func TestKeypairFromSeed_GenesisAccount(t *testing.T) {
	kp, err := KeypairFromSeed("snoPBrXtMeMyMHUVTgbuqAfg1SUTb")
	require.NoError(t, err)

	assert.Equal(t, Secp256k1, kp.Algorithm)
	assert.Equal(t, "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh", kp.Address)
	assert.Equal(t, "snoPBrXtMeMyMHUVTgbuqAfg1SUTb", kp.Seed)
	assert.Len(t, kp.PublicKey, 33)
	assert.Len(t, kp.PrivateKey, 33)
}

func TestKeypairFromSeed_Ed25519(t *testing.T) {
	kp, err := KeypairFromSeed("sEdSKaCy2JT7JaM7v95H9SxkhP9wS2r")
	require.NoError(t, err)

	assert.Equal(t, Ed25519, kp.Algorithm)
	assert.Equal(t, "rLUEXYuLiQptky37CqLcm9USQpPiz5rkpD", kp.Address)
	assert.Equal(t, "ED01FA53FA5A7E77798F882ECE20B1ABC00BB358A9E55A202D0D0676BD0CE37A63",
		strings.ToUpper(hex.EncodeToString(kp.PublicKey)))
	assert.Equal(t, "EDB4C4E046826BD26190D09715FC31F4E6A728204EADD112905B08B14B7F15C4F3",
		strings.ToUpper(hex.EncodeToString(kp.PrivateKey)))
}

func TestGenerateKeypair(t *testing.T) {
	tests := []struct {
		name       string
		algo       Algorithm
		seedPrefix string
		keyPrefix  []byte
	}{
		{name: "ed25519", algo: Ed25519, seedPrefix: "sEd", keyPrefix: []byte{0xED}},
		{name: "secp256k1", algo: Secp256k1, seedPrefix: "s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kp, err := GenerateKeypair(tt.algo, rand.Reader)
			require.NoError(t, err)

			assert.Equal(t, tt.algo, kp.Algorithm)
			assert.True(t, strings.HasPrefix(kp.Seed, tt.seedPrefix), "seed %s", kp.Seed)
			assert.Equal(t, byte(AddressPrefix), kp.Address[0])
			assert.Len(t, kp.PublicKey, 33)
			if tt.keyPrefix != nil {
				assert.True(t, bytes.HasPrefix(kp.PublicKey, tt.keyPrefix))
			}

			again, err := KeypairFromSeed(kp.Seed)
			require.NoError(t, err)
			assert.Equal(t, kp.Address, again.Address)
			assert.Equal(t, kp.PublicKey, again.PublicKey)
		})
	}
}

func TestGenerateKeypair_ShortReader(t *testing.T) {
	_, err := GenerateKeypair(Ed25519, bytes.NewReader([]byte{1, 2, 3}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read seed entropy")
}

func TestDecodeSeed_Invalid(t *testing.T) {
	tests := []struct {
		name string
		seed string
	}{
		{name: "character outside alphabet", seed: "s0PBrXtMeMyMHUVTgbuqAfg1SUTb"},
		{name: "bad checksum", seed: "snoPBrXtMeMyMHUVTgbuqAfg1SUTc"},
		{name: "address instead of seed", seed: "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeSeed(tt.seed)
			require.Error(t, err)
		})
	}
}

func TestParseAlgorithm(t *testing.T) {
	assert.Equal(t, Secp256k1, ParseAlgorithm("secp256k1"))
	assert.Equal(t, Secp256k1, ParseAlgorithm("ecdsa-secp256k1"))
	assert.Equal(t, Ed25519, ParseAlgorithm("ED25519"))
	assert.Equal(t, DefaultAlgorithm, ParseAlgorithm(""))
	assert.Equal(t, DefaultAlgorithm, ParseAlgorithm("rsa"))
}

func TestIsAlphabet(t *testing.T) {
	assert.True(t, IsAlphabet("rpsh"))
	assert.True(t, IsAlphabet(""))
	assert.False(t, IsAlphabet("0"))
	assert.False(t, IsAlphabet("Il"))
}
