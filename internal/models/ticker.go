package models

import (
	"strings"
)

// Ticker is an uppercase stock symbol, optionally with an exchange suffix
// (e.g. "AAPL", "BHP.AU", "VOD.LON"). Equality is symbol-exact.
type Ticker string

const maxSymbolLen = 12

// ParseTicker validates and normalizes a ticker string.
// The symbol part must be 1-12 uppercase letters/digits; an optional
// exchange suffix follows a single dot.
func ParseTicker(s string) (Ticker, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return "", NewError(KindInvalidArgument, "ticker is required")
	}

	symbol := s
	suffix := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		symbol = s[:i]
		suffix = s[i+1:]
	}

	if len(symbol) < 1 || len(symbol) > maxSymbolLen {
		return "", Errorf(KindInvalidArgument, "ticker symbol must be 1-%d characters, got %q", maxSymbolLen, s)
	}
	if !isAlphaNum(symbol) {
		return "", Errorf(KindInvalidArgument, "ticker symbol contains invalid characters: %q", s)
	}
	if suffix != "" && !isAlphaNum(suffix) {
		return "", Errorf(KindInvalidArgument, "ticker exchange suffix contains invalid characters: %q", s)
	}
	if strings.Count(s, ".") > 1 {
		return "", Errorf(KindInvalidArgument, "ticker may have at most one exchange suffix: %q", s)
	}

	return Ticker(s), nil
}

// Symbol returns the symbol without the exchange suffix.
func (t Ticker) Symbol() string {
	s := string(t)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[:i]
	}
	return s
}

// Exchange returns the exchange suffix, or "" if none.
func (t Ticker) Exchange() string {
	s := string(t)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[i+1:]
	}
	return ""
}

func (t Ticker) String() string { return string(t) }

func isAlphaNum(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
