// Package matching resolves customer identities across connectors using
// fuzzy name, phone, email, and business-identifier similarity over four
// in-memory inverted indexes.
package matching

import (
	"strings"
	"unicode"
)

// businessSuffixes are stripped from normalized names. Longest first so
// "limited" wins over "ltd".
var businessSuffixes = []string{
	"limited", "ltd", "plc", "inc", "incorporated", "llc", "gte",
	"enterprises", "enterprise", "ventures", "nigeria", "nig",
	"company", "coy", "co",
}

// addressSuffixes canonicalizes common street-type words.
var addressSuffixes = map[string]string{
	"street":    "st",
	"avenue":    "ave",
	"road":      "rd",
	"close":     "cl",
	"crescent":  "cres",
	"boulevard": "blvd",
	"drive":     "dr",
	"estate":    "est",
}

// NormalizeName lowercases, strips punctuation, collapses whitespace, and
// removes trailing business suffixes. Idempotent.
func NormalizeName(name string) string {
	lowered := strings.ToLower(name)
	var b strings.Builder
	for _, r := range lowered {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}

	words := strings.Fields(b.String())
	// Strip suffix words from the tail only; "ltd consulting" keeps "ltd" in
	// the middle of a name.
	for len(words) > 1 {
		last := words[len(words)-1]
		stripped := false
		for _, suffix := range businessSuffixes {
			if last == suffix {
				words = words[:len(words)-1]
				stripped = true
				break
			}
		}
		if !stripped {
			break
		}
	}
	return strings.Join(words, " ")
}

// NormalizePhone converts a Nigerian number to E.164. Parse rules:
// already-international numbers keep their digits behind a +; a 10-digit
// local number gets +234 prefixed; an 11-digit number starting with 0 has
// the 0 replaced by +234. Anything else keeps its digits verbatim behind a +.
// Idempotent.
func NormalizePhone(phone string) string {
	digits := keepDigits(phone)
	if digits == "" {
		return ""
	}
	switch {
	case strings.HasPrefix(digits, "234") && len(digits) == 13:
		return "+" + digits
	case len(digits) == 11 && strings.HasPrefix(digits, "0"):
		return "+234" + digits[1:]
	case len(digits) == 10:
		return "+234" + digits
	default:
		return "+" + digits
	}
}

// NormalizeEmail lowercases and trims. Idempotent.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeAddress lowercases, collapses whitespace, and canonicalizes
// street-type suffixes. Idempotent.
func NormalizeAddress(addr string) string {
	words := strings.Fields(strings.ToLower(addr))
	for i, w := range words {
		w = strings.Trim(w, ".,")
		if short, ok := addressSuffixes[w]; ok {
			w = short
		}
		words[i] = w
	}
	return strings.Join(words, " ")
}

// NormalizeTIN keeps digits and formats 14-digit TINs as
// XXXXXXXXXX-XXXX; 10-digit TINs stay bare. Idempotent.
func NormalizeTIN(tin string) string {
	digits := keepDigits(tin)
	if len(digits) == 14 {
		return digits[:10] + "-" + digits[10:]
	}
	return digits
}

// NormalizeCAC uppercases and ensures the RC prefix. Idempotent.
func NormalizeCAC(cac string) string {
	upper := strings.ToUpper(strings.TrimSpace(cac))
	upper = strings.ReplaceAll(upper, " ", "")
	if upper == "" {
		return ""
	}
	if !strings.HasPrefix(upper, "RC") && !strings.HasPrefix(upper, "BN") {
		upper = "RC" + upper
	}
	return upper
}

// NormalizeBusinessID dispatches on the identifier kind.
func NormalizeBusinessID(kind, value string) string {
	switch strings.ToUpper(kind) {
	case "TIN":
		return NormalizeTIN(value)
	case "CAC", "RC":
		return NormalizeCAC(value)
	default:
		return strings.ToUpper(strings.TrimSpace(value))
	}
}

func keepDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
