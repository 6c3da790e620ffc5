// Package rank scores content by the lower bound of the Wilson score
// interval on its (positive, negative) vote tally.
//
// Ranking by raw average pushes items with a single upvote above items with
// hundreds of votes. The Wilson lower bound instead answers "given the votes
// seen so far, what is the worst true positive rate we can claim with the
// configured confidence" — low-sample items are pulled toward the bottom
// until the data supports them.
package rank

import "math"

// LowerBound returns the lower bound of the Wilson score interval for the
// given confidence level, number of trials and number of successes.
//
// trials == 0 returns 0: new content ranks at the bottom, not tied with
// content that has an equal positive/negative split.
func LowerBound(confidence float64, trials, successes int64) float64 {
	if trials <= 0 {
		return 0
	}

	n := float64(trials)
	phat := float64(successes) / n
	z := zScore(confidence)
	z2 := z * z

	num := phat + z2/(2*n) - z*math.Sqrt((phat*(1-phat)+z2/(4*n))/n)
	return num / (1 + z2/n)
}

// Score ranks by a (positive, negative) tally. It is a pure function of the
// tally and the confidence level; callers recompute it on every vote change
// rather than storing it as independently-mutable truth.
func Score(confidence float64, positive, negative int64) float64 {
	return LowerBound(confidence, positive+negative, positive)
}

// ApplyDelta returns the score after applying a vote delta to a tally. The
// result is identical to recomputing Score from the updated tally; the
// search index uses this form to apply ranking deltas in place.
func ApplyDelta(confidence float64, positive, negative, dPositive, dNegative int64) float64 {
	return Score(confidence, positive+dPositive, negative+dNegative)
}

// zScore converts a two-sided confidence level in (0,1) to the standard
// normal quantile at (1+confidence)/2.
func zScore(confidence float64) float64 {
	if confidence <= 0 {
		return 0
	}
	if confidence >= 1 {
		confidence = 1 - 1e-12
	}
	p := (1 + confidence) / 2
	return math.Sqrt2 * math.Erfinv(2*p-1)
}
