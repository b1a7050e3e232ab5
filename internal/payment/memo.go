package payment

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cuongbtq/vanity-farm/internal/matcher"
	"github.com/cuongbtq/vanity-farm/internal/xrpl"
)

// Intent is the only memo intent the gate accepts.
const Intent = "vanity"

// Order is the request a payer embeds in the first memo of the payment.
type Order struct {
	Intent string `json:"intent"`
	Mode   string `json:"mode"`
	Prefix string `json:"prefix,omitempty"`
	Suffix string `json:"suffix,omitempty"`
	Length int    `json:"len"`
	Algo   string `json:"algo,omitempty"`
}

// EncodeMemo is the hex MemoData a client attaches for order.
func EncodeMemo(order Order) (string, error) {
	data, err := json.Marshal(order)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(data)), nil
}

// DecodeMemo parses the order carried by the first memo of tx and turns it into a
// validated constraint and algorithm.
func DecodeMemo(tx *Tx) (matcher.Constraint, xrpl.Algorithm, error) {
	if len(tx.Memos) == 0 || tx.Memos[0].Memo.MemoData == "" {
		return matcher.Constraint{}, "", ErrMissingMemo
	}

	raw, err := hex.DecodeString(tx.Memos[0].Memo.MemoData)
	if err != nil {
		return matcher.Constraint{}, "", fmt.Errorf("%w: %v", ErrBadMemo, err)
	}

	var order Order
	if err := json.Unmarshal(raw, &order); err != nil {
		return matcher.Constraint{}, "", fmt.Errorf("%w: %v", ErrBadMemo, err)
	}
	if order.Intent != Intent {
		return matcher.Constraint{}, "", ErrBadIntent
	}

	mode, err := matcher.ParseMode(order.Mode)
	if err != nil {
		return matcher.Constraint{}, "", fmt.Errorf("%w: %v", ErrBadOrder, err)
	}

	c := matcher.Constraint{
		Mode:   mode,
		Prefix: order.Prefix,
		Suffix: order.Suffix,
		Length: order.Length,
	}
	if err := c.Validate(); err != nil {
		return matcher.Constraint{}, "", fmt.Errorf("%w: %v", ErrBadOrder, err)
	}
	if c.Difficulty() == 0 {
		return matcher.Constraint{}, "", fmt.Errorf("%w: empty pattern", ErrBadOrder)
	}

	algo := xrpl.DefaultAlgorithm
	if order.Algo != "" {
		algo = xrpl.Algorithm(strings.ToLower(order.Algo))
		if algo != xrpl.Ed25519 && algo != xrpl.Secp256k1 {
			return matcher.Constraint{}, "", fmt.Errorf("%w: unknown algorithm %q", ErrBadOrder, order.Algo)
		}
	}
	return c, algo, nil
}
