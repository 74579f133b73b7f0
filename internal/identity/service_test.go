// Identity resolver tests in Carewire.

package identity

import (
	"Carewire/internal/errors"
	"Carewire/pkg/log"
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
)

var logger log.Logger = log.New("test")

var ctx context.Context = context.Background()

const signingKey = "MockSigningSecret"

// Helper to mint a signed HS256 token with the given claims.
func mintToken(t *testing.T, key string, claims jwt.MapClaims) string {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		t.Fatal(err)
	}
	return token
}

// Helper to pull the taxonomy code out of a resolver failure.
func errCode(t *testing.T, err error) string {
	gwerr, ok := err.(errors.ErrorResponse)
	if !ok {
		t.Fatalf("expected an ErrorResponse, got %T", err)
	}
	return gwerr.Code
}

func TestResolveMissingSubject(t *testing.T) {
	service := NewService(signingKey, logger)

	for _, subject := range []string{"", "   ", "\t\n"} {
		_, err := service.Resolve(ctx, subject)
		assert.Error(t, err)
		assert.Equal(t, errors.CodeAuthMissingToken, errCode(t, err))
	}
}

func TestResolveBareSubject(t *testing.T) {
	service := NewService(signingKey, logger)

	ident, err := service.Resolve(ctx, "patient-service-42")
	assert.NoError(t, err)
	assert.Equal(t, "patient-service-42", ident.ID)
	assert.Equal(t, DefaultRole, ident.Role)
}

func TestResolveBareSubjectIllegalCharacters(t *testing.T) {
	service := NewService(signingKey, logger)

	_, err := service.Resolve(ctx, "subject with spaces")
	assert.Error(t, err)
	assert.Equal(t, errors.CodeAuthInvalidToken, errCode(t, err))
}

func TestResolveValidToken(t *testing.T) {
	service := NewService(signingKey, logger)
	token := mintToken(t, signingKey, jwt.MapClaims{
		"sub":  "clinician-7",
		"role": "clinician",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	ident, err := service.Resolve(ctx, token)
	assert.NoError(t, err)
	assert.Equal(t, "clinician-7", ident.ID)
	assert.Equal(t, "clinician", ident.Role)
}

func TestResolveTokenDefaultsRole(t *testing.T) {
	service := NewService(signingKey, logger)
	token := mintToken(t, signingKey, jwt.MapClaims{
		"sub": "patient-11",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	ident, err := service.Resolve(ctx, token)
	assert.NoError(t, err)
	assert.Equal(t, DefaultRole, ident.Role)
}

func TestResolveExpiredToken(t *testing.T) {
	service := NewService(signingKey, logger)
	token := mintToken(t, signingKey, jwt.MapClaims{
		"sub": "patient-11",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, err := service.Resolve(ctx, token)
	assert.Error(t, err)
	assert.Equal(t, errors.CodeAuthExpired, errCode(t, err))
}

func TestResolveForgedToken(t *testing.T) {
	service := NewService(signingKey, logger)
	token := mintToken(t, "SomeOtherSecret", jwt.MapClaims{
		"sub": "patient-11",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := service.Resolve(ctx, token)
	assert.Error(t, err)
	assert.Equal(t, errors.CodeAuthInvalidToken, errCode(t, err))
}

func TestResolveTokenWithoutSubjectClaim(t *testing.T) {
	service := NewService(signingKey, logger)
	token := mintToken(t, signingKey, jwt.MapClaims{
		"role": "clinician",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	_, err := service.Resolve(ctx, token)
	assert.Error(t, err)
	assert.Equal(t, errors.CodeAuthInvalidToken, errCode(t, err))
}
