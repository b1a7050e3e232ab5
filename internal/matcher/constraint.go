// Package matcher decides whether a candidate address satisfies a job's vanity
// constraint and generates candidates for the search loop.
package matcher

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cuongbtq/vanity-farm/internal/xrpl"
)

// Mode is the kind of pattern a job searches for.
type Mode string

const (
	ModePrefix Mode = "prefix"
	ModeSuffix Mode = "suffix"
	ModeCombo  Mode = "combo"

	// comboLegacyMode is the selector older clients embed in payment memos.
	comboLegacyMode = "combo3x3"
)

const (
	// ComboPartLength is the number of characters tested on each side in combo mode.
	ComboPartLength = 3
	// MinLength and MaxLength bound prefix and suffix constraint lengths.
	MinLength = 1
	MaxLength = 6
)

var (
	ErrInvalidMode       = errors.New("invalid constraint mode")
	ErrInvalidConstraint = errors.New("invalid constraint")
)

// Constraint is a job's requested address pattern.
type Constraint struct {
	Mode   Mode   `json:"mode"`
	Prefix string `json:"prefix"`
	Suffix string `json:"suffix"`
	Length int    `json:"len"`
}

// ParseMode normalises a mode selector.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(ModePrefix):
		return ModePrefix, nil
	case string(ModeSuffix):
		return ModeSuffix, nil
	case string(ModeCombo), comboLegacyMode:
		return ModeCombo, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// Validate enforces the rules applied to paid constraints before a job is created.
func (c Constraint) Validate() error {
	switch c.Mode {
	case ModePrefix:
		if c.Length < MinLength || c.Length > MaxLength {
			return fmt.Errorf("%w: length %d out of range", ErrInvalidConstraint, c.Length)
		}
		if !xrpl.IsAlphabet(c.Prefix) {
			return fmt.Errorf("%w: bad prefix", ErrInvalidConstraint)
		}
	case ModeSuffix:
		if c.Length < MinLength || c.Length > MaxLength {
			return fmt.Errorf("%w: length %d out of range", ErrInvalidConstraint, c.Length)
		}
		if !xrpl.IsAlphabet(c.Suffix) {
			return fmt.Errorf("%w: bad suffix", ErrInvalidConstraint)
		}
	case ModeCombo:
		if len(c.Prefix) != ComboPartLength || len(c.Suffix) != ComboPartLength {
			return fmt.Errorf("%w: combo needs %d+%d characters", ErrInvalidConstraint, ComboPartLength, ComboPartLength)
		}
		if !xrpl.IsAlphabet(c.Prefix + c.Suffix) {
			return fmt.Errorf("%w: bad combo", ErrInvalidConstraint)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, c.Mode)
	}
	return nil
}

// Difficulty is the number of pattern characters an address must hit.
func (c Constraint) Difficulty() int {
	switch c.Mode {
	case ModePrefix:
		return len(c.Prefix)
	case ModeSuffix:
		return len(c.Suffix)
	case ModeCombo:
		return min(len(c.Prefix), ComboPartLength) + min(len(c.Suffix), ComboPartLength)
	}
	return 0
}

// Matches reports whether address satisfies c. Every address must carry the network's
// leading character; the prefix is tested against the remainder after it.
func Matches(address string, c Constraint) bool {
	if len(address) == 0 || address[0] != xrpl.AddressPrefix {
		return false
	}
	rest := address[1:]

	switch c.Mode {
	case ModePrefix:
		return strings.HasPrefix(rest, c.Prefix)
	case ModeSuffix:
		return strings.HasSuffix(address, c.Suffix)
	case ModeCombo:
		pre := truncate(c.Prefix, ComboPartLength)
		suf := truncate(c.Suffix, ComboPartLength)
		if pre != "" && !strings.HasPrefix(rest, pre) {
			return false
		}
		if suf != "" && !strings.HasSuffix(address, suf) {
			return false
		}
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
