package irc

import (
	"strings"

	"golang.org/x/text/secure/precis"
)

// Casemapping is the server's rule for comparing nicknames and channel names.
type Casemapping int

const (
	CasemapRFC1459 Casemapping = iota
	CasemapStrictRFC1459
	CasemapASCII
	CasemapRFC8265
)

var casemapNames = map[string]Casemapping{
	"rfc1459":        CasemapRFC1459,
	"strict-rfc1459": CasemapStrictRFC1459,
	"rfc1459-strict": CasemapStrictRFC1459,
	"ascii":          CasemapASCII,
	"rfc8265":        CasemapRFC8265,
	"precis":         CasemapRFC8265,
}

// ParseCasemapping maps a CASEMAPPING token to a Casemapping.
func ParseCasemapping(name string) (Casemapping, bool) {
	cm, ok := casemapNames[strings.ToLower(name)]
	return cm, ok
}

func (c Casemapping) String() string {
	switch c {
	case CasemapStrictRFC1459:
		return "strict-rfc1459"
	case CasemapASCII:
		return "ascii"
	case CasemapRFC8265:
		return "rfc8265"
	}
	return "rfc1459"
}

// Fold normalizes s for use as a map key. Every nickname and channel lookup
// goes through here.
func (c Casemapping) Fold(s string) string {
	switch c {
	case CasemapASCII:
		return foldASCII(s, false, false)
	case CasemapStrictRFC1459:
		return foldASCII(s, true, false)
	case CasemapRFC8265:
		if folded, err := foldPrecis(s); err == nil {
			return folded
		}
		return foldASCII(s, false, false)
	}
	return foldASCII(s, true, true)
}

func foldASCII(s string, brackets, tilde bool) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case 'A' <= ch && ch <= 'Z':
			ch += 'a' - 'A'
		case brackets && ch == '[':
			ch = '{'
		case brackets && ch == ']':
			ch = '}'
		case brackets && ch == '\\':
			ch = '|'
		case tilde && ch == '~':
			ch = '^'
		}
		b.WriteByte(ch)
	}
	return b.String()
}

// PRECIS casefolding is not idempotent in a single pass; repeat until stable.
func foldPrecis(s string) (string, error) {
	prev := s
	for i := 0; i < 4; i++ {
		next, err := precis.UsernameCaseMapped.CompareKey(prev)
		if err != nil {
			return "", err
		}
		if next == prev {
			return next, nil
		}
		prev = next
	}
	return prev, nil
}
