// Service layer of the internal package identity.
// Resolves the connection handshake into an authenticated identity.

package identity

import (
	"Carewire/internal/entity"
	"Carewire/internal/errors"
	"Carewire/pkg/log"
	"context"
	goerrors "errors"
	"fmt"
	"strings"

	"github.com/asaskevich/govalidator"
	"github.com/golang-jwt/jwt/v4"
)

// Role assigned when the handshake carries no richer claim.
const DefaultRole = "user"

// Service layer of internal package identity which encapsulates the
// authentication gate of the Carewire gateway. It is a pure validation gate:
// no network calls happen here, richer credential verification belongs to an
// external collaborator issuing the tokens this resolver parses.
type Service interface {
	// Resolves a handshake subject into an identity, fails before any room
	// interaction is possible.
	Resolve(ctx context.Context, subject string) (entity.Identity, error)
}

// Object of this will be passed around from main to routers to API.
// Helps to access the service layer interface and call methods.
type service struct {
	signingKey string
	logger     log.Logger
}

// Helps to access the service layer interface and call methods. Service object is passed from main.
func NewService(signingKey string, logger log.Logger) Service {
	return service{signingKey, logger}
}

func (s service) Resolve(ctx context.Context, subject string) (entity.Identity, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		// Reject the connection before any room interaction is possible
		return entity.Identity{}, errors.MissingToken("")
	}
	if strings.Count(subject, ".") == 2 {
		// Subject looks like a JWT, verify signature and expiry
		return s.resolveToken(ctx, subject)
	}
	// Bare subject identifier, accepted as-is with the default role
	if !govalidator.IsPrintableASCII(subject) || govalidator.HasWhitespace(subject) {
		return entity.Identity{}, errors.InvalidToken("Subject identifier contains illegal characters.")
	}
	return entity.Identity{ID: subject, Role: DefaultRole}, nil
}

// Helper to parse and validate a JWT handshake subject.
func (s service) resolveToken(ctx context.Context, token string) (entity.Identity, error) {
	parsed, valerr := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		// Check the signing method
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New(fmt.Sprintf("Unexpected signing method found: %s", t.Header["alg"]))
		}
		return []byte(s.signingKey), nil
	})
	if valerr != nil {
		if goerrors.Is(valerr, jwt.ErrTokenExpired) {
			return entity.Identity{}, errors.ExpiredToken("")
		}
		s.logger.WithCtx(ctx).Warn().Err(valerr).Msg("Handshake token failed verification.")
		return entity.Identity{}, errors.InvalidToken("")
	}
	if !parsed.Valid {
		return entity.Identity{}, errors.InvalidToken("")
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		// Type assertion error
		s.logger.WithCtx(ctx).Error().Msg("Type assertion error in identity.resolveToken")
		return entity.Identity{}, errors.InvalidToken("")
	}
	sub, ok := claims["sub"].(string)
	if !ok || strings.TrimSpace(sub) == "" {
		return entity.Identity{}, errors.InvalidToken("Token is missing its subject claim.")
	}
	role, ok := claims["role"].(string)
	if !ok || role == "" {
		role = DefaultRole
	}
	return entity.Identity{ID: sub, Role: role}, nil
}
