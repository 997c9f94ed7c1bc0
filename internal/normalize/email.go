// Package normalize canonicalizes the identity signals carried by observations.
package normalize

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidEmail = errors.New("invalid email address")
	ErrInvalidPhone = errors.New("invalid phone number")
)

// Email returns the canonical form of an address: trimmed and lowercased.
// "Name <addr>" display forms and mailto: prefixes are accepted.
// An empty input returns "" and no error.
func Email(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", nil
	}
	if i := strings.LastIndex(s, "<"); i >= 0 && strings.HasSuffix(s, ">") {
		s = s[i+1 : len(s)-1]
	}
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimPrefix(s, "mailto:")

	if strings.Count(s, "@") != 1 || strings.ContainsAny(s, " \t\r\n,;<>()[]\"") {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, raw)
	}
	local, domain, _ := strings.Cut(s, "@")
	if local == "" || domain == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, raw)
	}
	if !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") || strings.Contains(domain, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, raw)
	}
	return s, nil
}

// Domain returns the part of a canonical address after the '@'.
func Domain(email string) string {
	_, domain, ok := strings.Cut(email, "@")
	if !ok {
		return ""
	}
	return domain
}

var freemailDomains = map[string]bool{
	"gmail.com":      true,
	"googlemail.com": true,
	"yahoo.com":      true,
	"ymail.com":      true,
	"hotmail.com":    true,
	"outlook.com":    true,
	"live.com":       true,
	"msn.com":        true,
	"icloud.com":     true,
	"me.com":         true,
	"mac.com":        true,
	"aol.com":        true,
	"proton.me":      true,
	"protonmail.com": true,
	"gmx.com":        true,
	"gmx.de":         true,
	"web.de":         true,
	"fastmail.com":   true,
	"hey.com":        true,
	"yandex.com":     true,
	"mail.com":       true,
}

// IsFreemail reports whether domain belongs to a consumer mail provider.
func IsFreemail(domain string) bool {
	return freemailDomains[strings.ToLower(domain)]
}

// secondLevel holds labels that sit between an organisation and a country code, as in acme.co.uk.
var secondLevel = map[string]bool{"co": true, "com": true, "org": true, "net": true, "ac": true, "gov": true, "edu": true}

// Company derives an organisation label from the domain of a canonical
// address. Consumer mail domains yield "".
func Company(email string) string {
	domain := Domain(email)
	if domain == "" || IsFreemail(domain) {
		return ""
	}
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return ""
	}
	org := labels[len(labels)-2]
	if len(labels) >= 3 && len(labels[len(labels)-1]) == 2 && secondLevel[org] {
		org = labels[len(labels)-3]
	}
	return TitleCase(org)
}

// NameFromEmail turns the local part of an address into a display name:
// "mary.k.palmer" becomes "Mary K Palmer". Plus-tags and digits are dropped.
func NameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	local, _, _ = strings.Cut(local, "+")
	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || (r >= '0' && r <= '9')
	})
	return TitleCase(strings.Join(parts, " "))
}
