package matcher

import (
	"math"
)

const alphabetSize = 58

// ExpectedAttempts is the mean number of attempts to hit a pattern of n characters.
func ExpectedAttempts(n int) float64 {
	if n <= 0 {
		return 1
	}
	return math.Pow(alphabetSize, float64(n))
}

// MedianETASeconds is the time by which half of all searches for an n-character
// pattern finish at the given rate. It returns +Inf for a non-positive rate.
func MedianETASeconds(n int, rate float64) float64 {
	if rate <= 0 {
		return math.Inf(1)
	}
	return math.Ln2 * ExpectedAttempts(n) / rate
}

// QuantileETASeconds is the time by which a q-fraction of searches finish.
func QuantileETASeconds(n int, rate, q float64) float64 {
	if !(q > 0 && q < 1) || rate <= 0 {
		return math.Inf(1)
	}
	p := 1 / ExpectedAttempts(n)
	return math.Log(1/(1-q)) / (p * rate)
}

// SuccessProbability is the chance that at least one of attempts hits an n-character pattern.
func SuccessProbability(attempts uint64, n int) float64 {
	if attempts == 0 {
		return 0
	}
	p := 1 / ExpectedAttempts(n)
	if p >= 1 {
		return 1
	}
	return -math.Expm1(float64(attempts) * math.Log1p(-p))
}
