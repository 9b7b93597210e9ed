// Package security keeps session tokens and credentials out of logs and
// validates what the user types at the login prompt.
package security

import (
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
)

// sensitivePatterns match credentials embedded in free text such as error
// messages and response bodies.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer)\s+([A-Za-z0-9\-_.~+/]+=*)`),
	regexp.MustCompile(`(?i)("?(?:access_token|auth_token|authToken|password)"?\s*[:=]\s*"?)([^\s",}]+)`),
	regexp.MustCompile(`\beyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+`), // JWT
}

// MaskCredential masks a credential, keeping at most four characters on
// either end.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// MaskSensitive masks tokens and passwords found anywhere in s.
func MaskSensitive(s string) string {
	for _, pattern := range sensitivePatterns {
		s = pattern.ReplaceAllStringFunc(s, func(match string) string {
			sub := pattern.FindStringSubmatch(match)
			if len(sub) == 3 {
				sep := ""
				if strings.EqualFold(sub[1], "bearer") {
					sep = " "
				}
				return sub[1] + sep + MaskCredential(sub[2])
			}
			return MaskCredential(match)
		})
	}
	return s
}

// ContainsSensitiveData reports whether s carries something MaskSensitive
// would rewrite.
func ContainsSensitiveData(s string) bool {
	for _, pattern := range sensitivePatterns {
		if pattern.MatchString(s) {
			return true
		}
	}
	return false
}

// RedactURL hides the password of a connection URL such as a Redis DSN.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}

// ValidateCredentials checks login input before it is sent to the backend.
func ValidateCredentials(email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("invalid email address: %q", email)
	}
	if password == "" {
		return fmt.Errorf("password is required")
	}
	return nil
}
