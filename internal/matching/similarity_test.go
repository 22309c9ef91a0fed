package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRatio(t *testing.T) {
	assert.Equal(t, 1.0, ratio("abc", "abc"))
	assert.Equal(t, 0.0, ratio("abc", ""))
	assert.Equal(t, 1.0, ratio("", ""))
	assert.InDelta(t, 0.8, ratio("abcd", "abcde"), 0.09)
	assert.Greater(t, ratio("abc manufacturing", "abc manufacturing co"), 0.9)
}

func TestWordJaccard(t *testing.T) {
	assert.Equal(t, 1.0, wordJaccard("abc manufacturing", "abc manufacturing"))
	assert.InDelta(t, 0.5, wordJaccard("abc manufacturing", "abc trading"), 0.01)
	assert.Equal(t, 0.0, wordJaccard("abc", "xyz"))
	assert.Equal(t, 0.0, wordJaccard("", "abc"))
}

func TestNameSimilarityBoost(t *testing.T) {
	base := ratio("abc manufacturing", "abc manufacturers")
	boosted := nameSimilarity([]string{"abc manufacturing"}, []string{"abc manufacturers"})
	assert.Greater(t, boosted, base)
	assert.LessOrEqual(t, boosted, 1.0)
}

func TestPhoneSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, phoneSimilarity([]string{"+2348031234567"}, []string{"+2348031234567"}))
	// Same subscriber digits under a different country-code framing.
	assert.Equal(t, 0.95, phoneSimilarity([]string{"+2348031234567"}, []string{"+18031234567"}))
	assert.Equal(t, 0.0, phoneSimilarity([]string{"+2348031234567"}, []string{"+2347099887766"}))
	assert.Equal(t, 0.0, phoneSimilarity(nil, []string{"+2348031234567"}))
}

func TestEmailSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, emailSimilarity([]string{"a@b.com"}, []string{"a@b.com"}))
	sameDomain := emailSimilarity([]string{"accounts@abc.ng"}, []string{"account@abc.ng"})
	assert.Greater(t, sameDomain, 0.6)
	assert.Less(t, sameDomain, 0.81)
	assert.Equal(t, 0.0, emailSimilarity([]string{"a@b.com"}, []string{"a@c.com"}))
}

func TestBusinessIDSimilarity(t *testing.T) {
	a := map[string]string{"TIN": "1234567890-1234"}
	b := map[string]string{"TIN": "1234567890-1234", "CAC": "RC99"}
	assert.Equal(t, 1.0, businessIDSimilarity(a, b))
	assert.Equal(t, 0.0, businessIDSimilarity(a, map[string]string{"TIN": "0000000000-0000"}))
	assert.Equal(t, 0.0, businessIDSimilarity(a, map[string]string{"CAC": "RC99"}))
}
