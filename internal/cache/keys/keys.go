package keys

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// Result is the key of one cached query result. The canonical query text
// is hashed; a sanitized prefix keeps keys readable in redis-cli.
func Result(dataset, query string) string {
	ds := sanitizeName(strings.TrimSpace(dataset))
	text := normalizeQuery(query)
	safe := sanitizeForKey(text)

	const maxQueryTextLen = 160
	if len(safe) > maxQueryTextLen {
		safe = safe[:maxQueryTextLen]
	}

	sum := xxhash.Sum64String(text)

	return fmt.Sprintf("res:%s:q=%s:f=%016x", ds, safe, sum)
}

// Cell is the set of result keys whose footprint covers an H3 cell.
func Cell(dataset string, res int, cell string) string {
	return fmt.Sprintf("idx:%s:%d:%s", sanitizeName(strings.TrimSpace(dataset)), res, cell)
}

// Dataset is the set of every result key of a dataset.
func Dataset(dataset string) string {
	return "idx:" + sanitizeName(strings.TrimSpace(dataset)) + ":all"
}

// Wide is the set of result keys whose footprint was too large to index
// by cell. Every area invalidation of the dataset drops them.
func Wide(dataset string) string {
	return "idx:" + sanitizeName(strings.TrimSpace(dataset)) + ":wide"
}

// spaces around these punctuation tokens are dropped
var punct = regexp.MustCompile(`\s*([=<>!\.,|;\(\)])\s*`)

func normalizeQuery(s string) string {
	if s == "" {
		return ""
	}
	s = collapseASCIIWhitespace(strings.TrimSpace(s))
	return punct.ReplaceAllString(s, "$1")
}

func sanitizeForKey(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-' || r == '=':
			out = r
		default:
			// Any other rune (including non-ASCII) becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func sanitizeName(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

// converts any run of ASCII whitespace to a single space.
func collapseASCIIWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	wasWS := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f' {
			if !wasWS {
				b.WriteByte(' ')
				wasWS = true
			}
			continue
		}
		b.WriteRune(r)
		wasWS = false
	}
	return strings.TrimSpace(b.String())
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
