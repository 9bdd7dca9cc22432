// Package phone normalizes contact numbers. No business logic lives here.
package phone

import (
	"strconv"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is used when a number carries no country code.
const DefaultRegion = "IN"

// NormalizeE164 formats input to E.164 using region for national numbers.
// Numbers libphonenumber cannot validate fall back to a digits heuristic so the
// result is still "+<cc><national>" shaped whenever that is recoverable.
func NormalizeE164(input, region string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}
	if region == "" {
		region = DefaultRegion
	}

	if num, err := phonenumbers.Parse(trimmed, region); err == nil && phonenumbers.IsValidNumber(num) {
		return phonenumbers.Format(num, phonenumbers.E164)
	}
	return fallbackE164(trimmed, region)
}

func fallbackE164(s, region string) string {
	digits := digitsOnly(s)
	if digits == "" {
		return s
	}
	if strings.HasPrefix(s, "+") {
		return "+" + digits
	}
	cc := phonenumbers.GetCountryCodeForRegion(region)
	if cc == 0 {
		return "+" + digits
	}
	prefix := strconv.Itoa(cc)
	digits = strings.TrimLeft(digits, "0")
	// 10-digit national numbers get the region code; anything already carrying it keeps it.
	if len(digits) > 10 && strings.HasPrefix(digits, prefix) {
		return "+" + digits
	}
	return "+" + prefix + digits
}

// Variants returns the lookup forms a provider might echo back for one contact:
// the number as given, without a leading "+", and the normalized E.164 form.
// Order is stable and duplicates are removed.
func Variants(input, region string) []string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil
	}
	candidates := []string{
		trimmed,
		strings.TrimPrefix(trimmed, "+"),
		NormalizeE164(trimmed, region),
	}
	out := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// WithoutPlus strips the leading "+" for APIs that expect bare digits.
func WithoutPlus(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "+")
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
