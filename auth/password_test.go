package auth

import (
	"strings"
	"testing"

	"chat-relay/errors"

	"github.com/stretchr/testify/require"
)

func Test_Password_Hash_And_Compare(t *testing.T) {
	req := require.New(t)

	hash, err := HashPassword("Sup3r-Secret-Pass!")
	req.NoError(err)
	req.True(strings.HasPrefix(hash, "$argon2id$"))

	ok, err := ComparePassword("Sup3r-Secret-Pass!", hash)
	req.NoError(err)
	req.True(ok)

	ok, err = ComparePassword("wrong-password", hash)
	req.NoError(err)
	req.False(ok)
}

func Test_Password_Hashes_Are_Salted(t *testing.T) {
	req := require.New(t)

	first, err := HashPassword("Sup3r-Secret-Pass!")
	req.NoError(err)
	second, err := HashPassword("Sup3r-Secret-Pass!")
	req.NoError(err)
	req.NotEqual(first, second)
}

func Test_Compare_Rejects_Malformed_Hash(t *testing.T) {
	req := require.New(t)

	_, err := ComparePassword("whatever", "not-an-encoded-hash")
	req.Error(err)
}

func Test_Validate_Provision(t *testing.T) {
	req := require.New(t)

	tests := []struct {
		name     string
		username string
		password string
		valid    bool
	}{
		{name: "valid", username: "alice", password: "Sup3rSecretPass!", valid: true},
		{name: "username too short", username: "al", password: "Sup3rSecretPass!", valid: false},
		{name: "username not alphanumeric", username: "alice!", password: "Sup3rSecretPass!", valid: false},
		{name: "password too short", username: "alice", password: "Sh0rt!", valid: false},
		{name: "password without digit", username: "alice", password: "SuperSecretPass!", valid: false},
		{name: "password without special", username: "alice", password: "Sup3rSecretPass1", valid: false},
		{name: "password without upper", username: "alice", password: "sup3rsecretpass!", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProvision(ProvisionRequest{Username: tt.username, Password: tt.password})
			if tt.valid {
				req.NoError(err)
			} else {
				req.Error(err)
			}
		})
	}
}

func Test_Validate_Provision_Complexity_Error(t *testing.T) {
	req := require.New(t)

	err := ValidateProvision(ProvisionRequest{Username: "alice", Password: "alllowercase1234"})
	req.ErrorIs(err, errors.ErrInvalidPassword)
}
