package markers

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"relato/internal/services"
)

const (
	tokenPrefix = "[[PH_"
	tokenSuffix = "]]"
)

// TokenMap binds placement-ordered photos to opaque positional tokens. The
// same map instance drives tokenization, validation, and rehydration so the
// expected token set cannot drift between passes.
type TokenMap struct {
	ids []string
}

// NewTokenMap builds the token mapping from photos in placement order.
func NewTokenMap(photos []Photo) *TokenMap {
	ids := make([]string, len(photos))
	for i, photo := range photos {
		ids[i] = photo.ID
	}
	return &TokenMap{ids: ids}
}

// Len returns the number of mapped photos.
func (m *TokenMap) Len() int {
	return len(m.ids)
}

// Token renders the opaque token for a placement index.
func Token(index int) string {
	return tokenPrefix + strconv.Itoa(index) + tokenSuffix
}

// Tokenize replaces every photo marker with its positional token.
func (m *TokenMap) Tokenize(text string) string {
	for i, id := range m.ids {
		text = strings.ReplaceAll(text, Marker(id), Token(i))
	}
	return text
}

// Rehydrate replaces every positional token with its photo marker. The text
// is NFC-normalized first so it matches what validation scanned.
func (m *TokenMap) Rehydrate(text string) string {
	text = norm.NFC.String(text)
	for i, id := range m.ids {
		text = strings.ReplaceAll(text, Token(i), Marker(id))
	}
	return text
}

// ValidationError reports the exact token set mismatch after generation.
type ValidationError struct {
	Missing []string
	Unknown []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("photo tokens inconsistent: missing=%v unknown=%v", e.Missing, e.Unknown)
}

func (e *ValidationError) Unwrap() error {
	return services.ErrInvalidMarkers
}

// Validate scans generated text for positional tokens and compares the found
// set against the expected one. Any missing or unknown token is a hard
// failure; no repair is attempted. The input is NFC-normalized before
// scanning so decomposed code points cannot split a token.
func (m *TokenMap) Validate(text string) error {
	found := scanTokens(norm.NFC.String(text))

	expected := make(map[string]struct{}, len(m.ids))
	for i := range m.ids {
		expected[Token(i)] = struct{}{}
	}

	var missing, unknown []string
	for token := range expected {
		if _, ok := found[token]; !ok {
			missing = append(missing, token)
		}
	}
	for token := range found {
		if _, ok := expected[token]; !ok {
			unknown = append(unknown, token)
		}
	}

	if len(missing) == 0 && len(unknown) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(unknown)
	return &ValidationError{Missing: missing, Unknown: unknown}
}

// scanTokens walks the text once and collects every well-formed positional
// token. An explicit scan keeps the reserved syntax exact: only the literal
// prefix, one or more digits, and the closing brackets count as a token.
func scanTokens(text string) map[string]struct{} {
	found := make(map[string]struct{})
	for i := 0; i+len(tokenPrefix) <= len(text); {
		if text[i:i+len(tokenPrefix)] != tokenPrefix {
			i++
			continue
		}
		j := i + len(tokenPrefix)
		start := j
		for j < len(text) && text[j] >= '0' && text[j] <= '9' {
			j++
		}
		if j == start || j+len(tokenSuffix) > len(text) || text[j:j+len(tokenSuffix)] != tokenSuffix {
			i++
			continue
		}
		found[text[i:j+len(tokenSuffix)]] = struct{}{}
		i = j + len(tokenSuffix)
	}
	return found
}
