package matcher

import (
	"math"
	"math/rand"
	"testing"

	"github.com/cuongbtq/vanity-farm/internal/xrpl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// referenceMatch restates the matching rule character by character.
func referenceMatch(address string, c Constraint) bool {
	if address == "" || address[0] != 'r' {
		return false
	}
	body := address[1:]

	prefixOK := func(p string) bool {
		if len(p) > len(body) {
			return false
		}
		for i := 0; i < len(p); i++ {
			if body[i] != p[i] {
				return false
			}
		}
		return true
	}
	suffixOK := func(s string) bool {
		if len(s) > len(address) {
			return false
		}
		off := len(address) - len(s)
		for i := 0; i < len(s); i++ {
			if address[off+i] != s[i] {
				return false
			}
		}
		return true
	}

	switch c.Mode {
	case ModePrefix:
		return prefixOK(c.Prefix)
	case ModeSuffix:
		return suffixOK(c.Suffix)
	case ModeCombo:
		p, s := c.Prefix, c.Suffix
		if len(p) > 3 {
			p = p[:3]
		}
		if len(s) > 3 {
			s = s[:3]
		}
		return prefixOK(p) && suffixOK(s)
	}
	return false
}

func randomString(rng *rand.Rand, alphabet string, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rng.Intn(len(alphabet))]
	}
	return string(b)
}

func TestMatches_AgreesWithReference(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	// A tiny alphabet makes hits frequent enough to exercise both outcomes.
	small := "rpsh"
	modes := []Mode{ModePrefix, ModeSuffix, ModeCombo, Mode("bogus")}

	hits := 0
	for i := 0; i < 20000; i++ {
		address := randomString(rng, small, 1+rng.Intn(8))
		c := Constraint{
			Mode:   modes[rng.Intn(len(modes))],
			Prefix: randomString(rng, small, rng.Intn(5)),
			Suffix: randomString(rng, small, rng.Intn(5)),
		}
		c.Length = max(len(c.Prefix), len(c.Suffix))

		want := referenceMatch(address, c)
		if want {
			hits++
		}
		require.Equal(t, want, Matches(address, c), "address=%q constraint=%+v", address, c)
	}
	assert.Greater(t, hits, 0)
}

func TestMatches(t *testing.T) {
	tests := []struct {
		name       string
		address    string
		constraint Constraint
		want       bool
	}{
		{name: "prefix after network char", address: "rABcdef", constraint: Constraint{Mode: ModePrefix, Prefix: "AB"}, want: true},
		{name: "prefix must not include network char", address: "rABcdef", constraint: Constraint{Mode: ModePrefix, Prefix: "rA"}, want: false},
		{name: "empty prefix always matches", address: "rxyz", constraint: Constraint{Mode: ModePrefix}, want: true},
		{name: "wrong network char", address: "xABcdef", constraint: Constraint{Mode: ModePrefix, Prefix: "AB"}, want: false},
		{name: "empty address", address: "", constraint: Constraint{Mode: ModePrefix}, want: false},
		{name: "suffix", address: "rabcXYZ", constraint: Constraint{Mode: ModeSuffix, Suffix: "XYZ"}, want: true},
		{name: "suffix miss", address: "rabcXYZ", constraint: Constraint{Mode: ModeSuffix, Suffix: "XY"}, want: false},
		{name: "combo both", address: "rABCmidXYZ", constraint: Constraint{Mode: ModeCombo, Prefix: "ABC", Suffix: "XYZ"}, want: true},
		{name: "combo truncates to three", address: "rABCmidXYZ", constraint: Constraint{Mode: ModeCombo, Prefix: "ABCD", Suffix: "WXYZ"}, want: false},
		{name: "combo prefix only", address: "rABCmid", constraint: Constraint{Mode: ModeCombo, Prefix: "ABC"}, want: true},
		{name: "combo suffix miss", address: "rABCmidXYZ", constraint: Constraint{Mode: ModeCombo, Prefix: "ABC", Suffix: "XYQ"}, want: false},
		{name: "unknown mode", address: "rABC", constraint: Constraint{Mode: "regex", Prefix: "A"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.address, tt.constraint))
		})
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		input   string
		want    Mode
		wantErr bool
	}{
		{input: "prefix", want: ModePrefix},
		{input: "SUFFIX", want: ModeSuffix},
		{input: "combo", want: ModeCombo},
		{input: "combo3x3", want: ModeCombo},
		{input: "regex", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseMode(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidMode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConstraint_Validate(t *testing.T) {
	tests := []struct {
		name       string
		constraint Constraint
		wantErr    error
	}{
		{name: "valid prefix", constraint: Constraint{Mode: ModePrefix, Prefix: "AB", Length: 2}},
		{name: "valid suffix", constraint: Constraint{Mode: ModeSuffix, Suffix: "xyz", Length: 3}},
		{name: "valid combo", constraint: Constraint{Mode: ModeCombo, Prefix: "ABC", Suffix: "xyz"}},
		{name: "length zero", constraint: Constraint{Mode: ModePrefix, Prefix: "AB", Length: 0}, wantErr: ErrInvalidConstraint},
		{name: "length seven", constraint: Constraint{Mode: ModeSuffix, Suffix: "AB", Length: 7}, wantErr: ErrInvalidConstraint},
		{name: "prefix outside alphabet", constraint: Constraint{Mode: ModePrefix, Prefix: "0O", Length: 2}, wantErr: ErrInvalidConstraint},
		{name: "combo too short", constraint: Constraint{Mode: ModeCombo, Prefix: "AB", Suffix: "xyz"}, wantErr: ErrInvalidConstraint},
		{name: "unknown mode", constraint: Constraint{Mode: "regex"}, wantErr: ErrInvalidMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.constraint.Validate()
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestGenerate(t *testing.T) {
	for _, algo := range []xrpl.Algorithm{xrpl.Ed25519, xrpl.Secp256k1, xrpl.Algorithm("unknown")} {
		t.Run(string(algo), func(t *testing.T) {
			c, err := Generate(algo)
			require.NoError(t, err)
			assert.True(t, Matches(c.Address, Constraint{Mode: ModePrefix}))
			assert.NotEmpty(t, c.Seed)
			assert.Len(t, c.PublicKey, 66)
			assert.Equal(t, xrpl.ParseAlgorithm(string(algo)), c.Algorithm)
		})
	}
}

func TestETA(t *testing.T) {
	assert.Equal(t, 1.0, ExpectedAttempts(0))
	assert.Equal(t, 58.0*58.0, ExpectedAttempts(2))

	assert.True(t, math.IsInf(MedianETASeconds(2, 0), 1))
	assert.InDelta(t, math.Ln2*3364/100, MedianETASeconds(2, 100), 1e-9)
	assert.InDelta(t, MedianETASeconds(3, 1000), QuantileETASeconds(3, 1000, 0.5), 1e-3)
	assert.True(t, math.IsInf(QuantileETASeconds(3, 1000, 1), 1))

	assert.Equal(t, 0.0, SuccessProbability(0, 2))
	assert.Equal(t, 1.0, SuccessProbability(5, 0))
	assert.InDelta(t, 0.632, SuccessProbability(3364, 2), 0.01)
}

func TestConstraint_Difficulty(t *testing.T) {
	assert.Equal(t, 2, Constraint{Mode: ModePrefix, Prefix: "AB"}.Difficulty())
	assert.Equal(t, 3, Constraint{Mode: ModeSuffix, Suffix: "xyz"}.Difficulty())
	assert.Equal(t, 6, Constraint{Mode: ModeCombo, Prefix: "ABCD", Suffix: "xyz"}.Difficulty())
	assert.Equal(t, 0, Constraint{Mode: "x"}.Difficulty())
}
