package grading

import "math"

// Ratio computes a normalized similarity score between a and b in 0..100.
// It is the indel-weighted edit ratio: substitutions cost 2 (a deletion plus
// an insertion), so two equal strings score 100 and two strings with nothing
// in common score 0. Rounded to the nearest integer.
func Ratio(a, b string) int {
	ar := []rune(a)
	br := []rune(b)
	sum := len(ar) + len(br)
	if sum == 0 {
		return 100
	}
	d := indelDistance(ar, br)
	return int(math.Round(100 * float64(sum-d) / float64(sum)))
}

// indelDistance is edit distance with insertion and deletion cost 1 and
// substitution cost 2, computed over a single rolling row.
func indelDistance(ar, br []rune) int {
	n, m := len(ar), len(br)
	if n == 0 {
		return m
	}
	if m == 0 {
		return n
	}
	dp := make([]int, m+1)
	for j := 0; j <= m; j++ {
		dp[j] = j
	}
	for i := 1; i <= n; i++ {
		prev := dp[0]
		dp[0] = i
		for j := 1; j <= m; j++ {
			tmp := dp[j]
			cost := 0
			if ar[i-1] != br[j-1] {
				cost = 2
			}
			ins := dp[j] + 1
			del := dp[j-1] + 1
			sub := prev + cost
			dp[j] = min3(ins, del, sub)
			prev = tmp
		}
	}
	return dp[m]
}

func min3(a, b, c int) int {
	if a < b {
		if a < c {
			return a
		}
		return c
	}
	if b < c {
		return b
	}
	return c
}
