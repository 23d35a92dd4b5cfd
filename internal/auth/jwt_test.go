package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Hour, "gatherly")

	token, err := manager.Generate("3f1c9a6e-0000-4000-8000-000000000001", "alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := manager.Validate(token)
	require.NoError(t, err)
	require.Equal(t, "3f1c9a6e-0000-4000-8000-000000000001", claims.Subject)
	require.Equal(t, "alice", claims.Username)
	require.Equal(t, "gatherly", claims.Issuer)
}

func TestGenerateRejectsEmptySubject(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Hour, "gatherly")

	_, err := manager.Generate("", "alice")
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = manager.Generate("user-id", "")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	manager := NewJWTManager("test-secret", -time.Minute, "gatherly")

	token, err := manager.Generate("user-id", "alice")
	require.NoError(t, err)

	_, err = manager.Validate(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Hour, "gatherly")
	other := NewJWTManager("other-secret", time.Hour, "gatherly")

	token, err := manager.Generate("user-id", "alice")
	require.NoError(t, err)

	_, err = other.Validate(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateMissingToken(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Hour, "gatherly")

	_, err := manager.Validate("   ")
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestTokenFromHeader(t *testing.T) {
	token, err := TokenFromHeader("Bearer abc.def.ghi")
	require.NoError(t, err)
	require.Equal(t, "abc.def.ghi", token)

	token, err = TokenFromHeader("bearer abc.def.ghi")
	require.NoError(t, err)
	require.Equal(t, "abc.def.ghi", token)

	_, err = TokenFromHeader("")
	require.ErrorIs(t, err, ErrMissingToken)

	_, err = TokenFromHeader("Basic abc")
	require.ErrorIs(t, err, ErrMissingToken)
}
