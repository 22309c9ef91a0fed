package matching

import (
	"strings"
)

// ratio is a sequence-matcher similarity in [0,1]: twice the total length of
// recursively matched common blocks divided by the combined length
// (Ratcliff/Obershelp).
func ratio(a, b string) float64 {
	if a == "" && b == "" {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	if a == b {
		return 1.0
	}
	matched := commonBlocks(a, b)
	return 2.0 * float64(matched) / float64(len(a)+len(b))
}

// commonBlocks returns the total length of matching blocks: find the longest
// common substring, then recurse on the pieces to its left and right.
func commonBlocks(a, b string) int {
	ai, bi, size := longestCommonSubstring(a, b)
	if size == 0 {
		return 0
	}
	total := size
	total += commonBlocks(a[:ai], b[:bi])
	total += commonBlocks(a[ai+size:], b[bi+size:])
	return total
}

func longestCommonSubstring(a, b string) (ai, bi, size int) {
	// Dynamic programming over byte positions; strings here are normalized
	// ASCII names so byte indexing is safe.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
				if curr[j] > size {
					size = curr[j]
					ai = i - size
					bi = j - size
				}
			} else {
				curr[j] = 0
			}
		}
		prev, curr = curr, prev
	}
	return ai, bi, size
}

// wordJaccard is the word-overlap Jaccard index of two normalized names.
func wordJaccard(a, b string) float64 {
	wordsA := strings.Fields(a)
	wordsB := strings.Fields(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0.0
	}
	setA := make(map[string]struct{}, len(wordsA))
	for _, w := range wordsA {
		setA[w] = struct{}{}
	}
	inter := 0
	setB := make(map[string]struct{}, len(wordsB))
	for _, w := range wordsB {
		if _, dup := setB[w]; dup {
			continue
		}
		setB[w] = struct{}{}
		if _, ok := setA[w]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

// nameSimilarity is the max pairwise ratio across the two name sets, boosted
// by word-overlap Jaccard (half weight), capped at 1.
func nameSimilarity(namesA, namesB []string) float64 {
	best := 0.0
	for _, a := range namesA {
		for _, b := range namesB {
			score := ratio(a, b)
			if j := wordJaccard(a, b); j > 0 {
				score += 0.5 * j * (1 - score)
			}
			if score > best {
				best = score
			}
		}
	}
	if best > 1.0 {
		best = 1.0
	}
	return best
}

// phoneSimilarity: exact normalized match scores 1.0; matching last ten
// digits scores 0.95 (same subscriber, different formatting).
func phoneSimilarity(phonesA, phonesB []string) float64 {
	best := 0.0
	for _, a := range phonesA {
		for _, b := range phonesB {
			switch {
			case a == b && a != "":
				return 1.0
			case lastN(a, 10) != "" && lastN(a, 10) == lastN(b, 10):
				if best < 0.95 {
					best = 0.95
				}
			}
		}
	}
	return best
}

// emailSimilarity: equal scores 1.0; same domain scores 0.8 of the username
// ratio.
func emailSimilarity(emailsA, emailsB []string) float64 {
	best := 0.0
	for _, a := range emailsA {
		for _, b := range emailsB {
			if a == b && a != "" {
				return 1.0
			}
			userA, domainA, okA := strings.Cut(a, "@")
			userB, domainB, okB := strings.Cut(b, "@")
			if okA && okB && domainA == domainB {
				if s := 0.8 * ratio(userA, userB); s > best {
					best = s
				}
			}
		}
	}
	return best
}

// businessIDSimilarity: exact normalized match on any shared identifier kind
// scores 1.0.
func businessIDSimilarity(idsA, idsB map[string]string) float64 {
	for kind, a := range idsA {
		if b, ok := idsB[kind]; ok && a != "" && a == b {
			return 1.0
		}
	}
	return 0.0
}

func lastN(s string, n int) string {
	digits := keepDigits(s)
	if len(digits) < n {
		return ""
	}
	return digits[len(digits)-n:]
}
