package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateEmail(t *testing.T) {
	assert.NoError(t, ValidateEmail("ada@example.com"))
	assert.ErrorIs(t, ValidateEmail(""), ErrEmailRequired)
	assert.ErrorIs(t, ValidateEmail("not-an-email"), ErrEmailInvalid)
	assert.ErrorIs(t, ValidateEmail("Ada <ada@example.com>"), ErrEmailInvalid)
	assert.ErrorIs(t, ValidateEmail(strings.Repeat("a", 250)+"@x.io"), ErrEmailTooLong)
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		password string
		want     error
	}{
		{"short", ErrPasswordShort},
		{"mypassword-is-long", ErrPasswordCommon},
		{"Sunshine-every-day", ErrPasswordCommon},
		{strings.Repeat("x", MaxPasswordBytes+1), ErrPasswordLong},
		{"correct horse battery", nil},
		// twelve runes, more than twelve bytes
		{"ünïcödé-ünïc", nil},
	}
	for _, tt := range tests {
		t.Run(tt.password, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("  Backend  "))
	assert.ErrorIs(t, ValidateName("   "), ErrNameRequired)
	assert.ErrorIs(t, ValidateName(strings.Repeat("n", MaxNameLength+1)), ErrNameTooLong)
	assert.NoError(t, ValidateName(strings.Repeat("é", MaxNameLength)))
}
