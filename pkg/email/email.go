// Package email normalizes and redacts referral email addresses.
package email

import (
	"errors"
	"net/mail"
	"strings"
)

var ErrInvalid = errors.New("invalid email address")

// Normalize trims and validates an address, lowercasing the domain part.
// Referral uniqueness compares normalized addresses.
func Normalize(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", ErrInvalid
	}

	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Address != addr {
		return "", ErrInvalid
	}

	at := strings.LastIndexByte(addr, '@')
	if at <= 0 || at == len(addr)-1 {
		return "", ErrInvalid
	}
	return addr[:at+1] + strings.ToLower(addr[at+1:]), nil
}

// Redact masks the local part for log output, keeping the first rune.
func Redact(addr string) string {
	at := strings.LastIndexByte(addr, '@')
	if at <= 0 {
		return "***"
	}
	local := []rune(addr[:at])
	return string(local[0]) + "***" + addr[at:]
}
