package identity

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	multiDashRegex = regexp.MustCompile(`-+`)
	nonSlugRegex   = regexp.MustCompile(`[^a-z0-9]+`)

	wordReplacements = map[string]string{
		"&": " and ",
		"@": " at ",
		"+": " plus ",
	}
)

const maxSlugLen = 80

// Slugify turns a display name ("Dr. María O'Neil & Co.") into a URL slug
// ("dr-maria-oneil-and-co").
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(stripAccents(s)))
	s = strings.ReplaceAll(s, "'", "")
	for from, to := range wordReplacements {
		s = strings.ReplaceAll(s, from, to)
	}
	s = nonSlugRegex.ReplaceAllString(s, "-")
	s = multiDashRegex.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > maxSlugLen {
		s = strings.TrimRight(s[:maxSlugLen], "-")
	}
	return s
}

func stripAccents(s string) string {
	// transform.Chain holds state, so build one per call
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// ContentHash fingerprints a vendor record. Insignificant whitespace is
// removed first so reformatted payloads hash the same.
func ContentHash(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err == nil {
		raw = buf.Bytes()
	}
	hash := sha256.Sum256(raw)
	return hex.EncodeToString(hash[:])
}
