package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"bloodledger/pkg/domain"
	dErrors "bloodledger/pkg/domain-errors"
)

// Claims carries the actor assertion issued by the identity provider: the
// caller's role and, for hospital users, the hospital they belong to.
type Claims struct {
	Role       string `json:"role"`
	UserID     string `json:"user_id"`
	HospitalID string `json:"hospital_id,omitempty"`
	jwt.RegisteredClaims
}

// Service validates (and for development, mints) actor tokens.
type Service struct {
	signingKey []byte
	issuer     string
}

func NewService(signingKey string, issuer string) *Service {
	return &Service{
		signingKey: []byte(signingKey),
		issuer:     issuer,
	}
}

// GenerateActorToken mints a signed token for the given actor. Used by
// development seeding and handler tests; production tokens come from the
// identity provider.
func (s *Service) GenerateActorToken(actor domain.Actor, expiresIn time.Duration) (string, error) {
	claims := Claims{
		Role:   actor.Role.String(),
		UserID: actor.ID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
		},
	}
	if !actor.HospitalID.IsZero() {
		claims.HospitalID = actor.HospitalID.String()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
}

// ValidateToken verifies the signature and expiry and returns the asserted
// actor. A hospital role without a hospital affiliation is rejected.
func (s *Service) ValidateToken(tokenString string) (domain.Actor, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return domain.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	if !parsed.Valid {
		return domain.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return domain.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}

	role, err := domain.ParseRole(claims.Role)
	if err != nil {
		return domain.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "unknown role in token")
	}

	actor := domain.Actor{Role: role}
	if claims.UserID != "" {
		if uid, err := uuid.Parse(claims.UserID); err == nil {
			actor.ID = uid
		}
	}
	if role == domain.RoleHospital {
		hid, err := domain.ParseHospitalID(claims.HospitalID)
		if err != nil {
			return domain.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "hospital token without hospital affiliation")
		}
		actor.HospitalID = hid
	}
	return actor, nil
}
