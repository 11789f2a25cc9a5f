package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateName(t *testing.T) {
	t.Setenv(HomeEnv, "/tmp/c")

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "main", false},
		{"user id", "u_ada-01", false},
		{"single char", "a", false},
		{"max length", strings.Repeat("a", 64), false},
		{"empty", "", true},
		{"leading dash", "-main", true},
		{"leading underscore", "_main", true},
		{"uppercase", "Main", true},
		{"dot", "my.session", true},
		{"slash", "my/session", true},
		{"too long", strings.Repeat("a", 65), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			assert.Equal(t, tt.wantErr, err != nil, "ValidateName(%q) = %v", tt.input, err)
		})
	}
}

func TestValidateNameSocketTooLong(t *testing.T) {
	t.Setenv(HomeEnv, "/tmp/"+strings.Repeat("d", 60))

	err := ValidateName(strings.Repeat("s", 40))
	assert.ErrorContains(t, err, HomeEnv)
	assert.NoError(t, ValidateName("main"))
}
