// Package delivery seals a job's result for its payer. The key is derived from the
// job's single-use delivery secret and the job id, so whoever holds the token can open
// the envelope and nobody else can.
package delivery

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultIterations is the PBKDF2 work factor.
	DefaultIterations = 200_000
	KeyLength         = 32
	NonceLength       = 12
	TagLength         = 16
)

var (
	// ErrForbidden is returned for any envelope that fails to authenticate or decode.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidKey is returned when a key is not KeyLength bytes.
	ErrInvalidKey = errors.New("invalid delivery key")
)

// Envelope is the AES-GCM output, base64 encoded.
type Envelope struct {
	IV  string `json:"iv"`
	Tag string `json:"tag"`
	CT  string `json:"ct"`
}

// Payload is the plaintext result handed to the payer.
type Payload struct {
	Address   string `json:"address"`
	Seed      string `json:"seed"`
	Algorithm string `json:"algorithm"`
	ReceiptTx string `json:"receiptTx"`
}

// Codec derives keys and seals payloads.
type Codec struct {
	iterations int
	rand       io.Reader
}

// NewCodec returns a Codec using the given PBKDF2 iteration count, or
// DefaultIterations when iterations is not positive.
func NewCodec(iterations int) *Codec {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return &Codec{iterations: iterations, rand: rand.Reader}
}

// Iterations returns the configured work factor.
func (c *Codec) Iterations() int {
	return c.iterations
}

// DeriveKey stretches secret with the job id as salt.
func (c *Codec) DeriveKey(secret, jobID string) []byte {
	return pbkdf2.Key([]byte(secret), []byte(jobID), c.iterations, KeyLength, sha256.New)
}

// Encrypt seals plaintext under key with a fresh random nonce.
func (c *Codec) Encrypt(plaintext, key []byte) (*Envelope, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceLength)
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return nil, fmt.Errorf("failed to read nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, nil)
	split := len(sealed) - TagLength

	return &Envelope{
		IV:  base64.StdEncoding.EncodeToString(nonce),
		Tag: base64.StdEncoding.EncodeToString(sealed[split:]),
		CT:  base64.StdEncoding.EncodeToString(sealed[:split]),
	}, nil
}

// Decrypt opens env. Every decoding or authentication failure is ErrForbidden and
// yields no plaintext.
func (c *Codec) Decrypt(env *Envelope, key []byte) ([]byte, error) {
	if env == nil {
		return nil, ErrForbidden
	}

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce, err1 := base64.StdEncoding.DecodeString(env.IV)
	tag, err2 := base64.StdEncoding.DecodeString(env.Tag)
	ct, err3 := base64.StdEncoding.DecodeString(env.CT)
	if err := errors.Join(err1, err2, err3); err != nil {
		return nil, ErrForbidden
	}
	if len(nonce) != NonceLength || len(tag) != TagLength {
		return nil, ErrForbidden
	}

	plaintext, err := aead.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return nil, ErrForbidden
	}
	return plaintext, nil
}

// Seal derives the job key and encrypts payload.
func (c *Codec) Seal(payload *Payload, secret, jobID string) (*Envelope, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return c.Encrypt(plaintext, c.DeriveKey(secret, jobID))
}

// Open derives the job key from the presented token and decrypts env.
func (c *Codec) Open(env *Envelope, token, jobID string) (*Payload, error) {
	plaintext, err := c.Decrypt(env, c.DeriveKey(token, jobID))
	if err != nil {
		return nil, err
	}

	var payload Payload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return &payload, nil
}

// Marshal encodes env for storage.
func (env *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(env)
}

// UnmarshalEnvelope decodes a stored envelope.
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return &env, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidKey, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
