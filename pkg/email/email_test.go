package email

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"friend@example.com", "friend@example.com"},
		{"  friend@example.com  ", "friend@example.com"},
		{"Friend@EXAMPLE.com", "Friend@example.com"},
		{"first.last+tag@example.co.uk", "first.last+tag@example.co.uk"},
	}
	for _, c := range cases {
		got, err := Normalize(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got)
	}

	for _, invalid := range []string{"", "   ", "no-at-sign", "@example.com", "two@@example.com", "spaced name@example.com"} {
		_, err := Normalize(invalid)
		assert.ErrorIs(t, err, ErrInvalid, invalid)
	}
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "f***@example.com", Redact("friend@example.com"))
	assert.Equal(t, "***", Redact("not-an-email"))
}
