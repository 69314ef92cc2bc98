package service

import (
	"fmt"
	"strings"
	"unicode"
)

const patternEdgeChars = "._-"

// IsValidPattern reports whether a mailbox pattern is non-empty and neither
// starts nor ends with '.', '_' or '-'.
func IsValidPattern(p string) bool {
	return patternError(p) == ""
}

func patternError(p string) string {
	if p == "" {
		return "Pattern is required"
	}
	if strings.ContainsRune(patternEdgeChars, rune(p[0])) || strings.ContainsRune(patternEdgeChars, rune(p[len(p)-1])) {
		return "Pattern cannot start or end with '.', '_' or '-'"
	}
	return ""
}

// NormalizeBrand lowercases the brand and keeps only ASCII letters and digits.
func NormalizeBrand(brand string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(brand) {
		if r > unicode.MaxASCII {
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MailboxPreview derives {pattern}@{domain} for each domain and each distinct
// pattern, domain by domain. The result is deterministic and duplicate free.
func MailboxPreview(domains []string, p1, p2 string) []string {
	patterns := make([]string, 0, 2)
	for _, p := range []string{p1, p2} {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if len(patterns) == 1 && patterns[0] == p {
			continue
		}
		patterns = append(patterns, p)
	}

	seen := make(map[string]struct{}, len(domains)*len(patterns))
	out := make([]string, 0, len(domains)*len(patterns))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		for _, p := range patterns {
			email := p + "@" + d
			if _, ok := seen[email]; ok {
				continue
			}
			seen[email] = struct{}{}
			out = append(out, email)
		}
	}
	return out
}

func domainCountMessage(want, got int) string {
	if got < want {
		return fmt.Sprintf("Select %d more domain(s); this tier includes exactly %d", want-got, want)
	}
	return fmt.Sprintf("Deselect %d domain(s); this tier includes exactly %d", got-want, want)
}
