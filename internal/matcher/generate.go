package matcher

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/cuongbtq/vanity-farm/internal/xrpl"
)

// Candidate is one generated account: the public address plus the secret material
// needed to control it.
type Candidate struct {
	Address   string         `json:"address"`
	Seed      string         `json:"seed"`
	PublicKey string         `json:"public_key"`
	Algorithm xrpl.Algorithm `json:"algorithm"`
}

// Generate produces one candidate from crypto/rand.
func Generate(algo xrpl.Algorithm) (*Candidate, error) {
	return GenerateFrom(algo, rand.Reader)
}

// GenerateFrom produces one candidate drawing seed entropy from r.
func GenerateFrom(algo xrpl.Algorithm, r io.Reader) (*Candidate, error) {
	kp, err := xrpl.GenerateKeypair(xrpl.ParseAlgorithm(string(algo)), r)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Candidate{
		Address:   kp.Address,
		Seed:      kp.Seed,
		PublicKey: strings.ToUpper(hex.EncodeToString(kp.PublicKey)),
		Algorithm: kp.Algorithm,
	}, nil
}
