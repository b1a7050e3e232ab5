package ledger

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// redeemState is what a backend reads, under its per-job lock or transaction,
// before deciding a redemption.
type redeemState struct {
	found  bool
	status Status
	// secret is cleared on first successful redemption and replaced by its digest,
	// so a later attempt with the right token can be told Gone without the secret
	// being kept.
	secret string
	digest string
	// live is true while the sealed result exists and has not expired.
	live bool
}

type redeemAction int

const (
	redeemReject redeemAction = iota
	// redeemDeliver hands out the result, deletes it and scrubs the secret.
	redeemDeliver
	// redeemScrub reports Gone and scrubs the secret of an expired result.
	redeemScrub
)

// decideRedeem applies the redemption rules in order: an unauthenticated caller
// only ever learns Forbidden; an authenticated one learns NotReady or Gone.
func decideRedeem(st redeemState, token string) (redeemAction, error) {
	if !st.found || token == "" {
		return redeemReject, ErrForbidden
	}

	switch {
	case st.secret != "":
		if !tokenEqual(st.secret, token) {
			return redeemReject, ErrForbidden
		}
	case st.digest != "":
		if !tokenEqual(st.digest, tokenDigest(token)) {
			return redeemReject, ErrForbidden
		}
		return redeemReject, ErrGone
	default:
		return redeemReject, ErrForbidden
	}

	if st.status != StatusComplete {
		return redeemReject, ErrNotReady
	}

	if !st.live {
		return redeemScrub, ErrGone
	}

	return redeemDeliver, nil
}

func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func tokenEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
