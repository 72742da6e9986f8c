package jwttoken

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"bloodledger/pkg/domain"
	dErrors "bloodledger/pkg/domain-errors"
)

type JWTSuite struct {
	suite.Suite
	svc *Service
}

func TestJWTSuite(t *testing.T) {
	suite.Run(t, new(JWTSuite))
}

func (s *JWTSuite) SetupTest() {
	s.svc = NewService("test-signing-key", "bloodledger")
}

func (s *JWTSuite) TestRoundTrip() {
	s.Run("hospital actor", func() {
		actor := domain.Actor{
			Role:       domain.RoleHospital,
			ID:         uuid.New(),
			HospitalID: domain.HospitalID(uuid.New()),
		}
		token, err := s.svc.GenerateActorToken(actor, time.Hour)
		s.Require().NoError(err)

		got, err := s.svc.ValidateToken(token)
		s.Require().NoError(err)
		s.Equal(actor, got)
	})

	s.Run("admin actor carries no hospital", func() {
		actor := domain.Actor{Role: domain.RoleAdmin, ID: uuid.New()}
		token, err := s.svc.GenerateActorToken(actor, time.Hour)
		s.Require().NoError(err)

		got, err := s.svc.ValidateToken(token)
		s.Require().NoError(err)
		s.Equal(actor, got)
		s.True(got.HospitalID.IsZero())
	})
}

func (s *JWTSuite) TestExpiredToken() {
	actor := domain.Actor{Role: domain.RoleAdmin, ID: uuid.New()}
	token, err := s.svc.GenerateActorToken(actor, -time.Minute)
	s.Require().NoError(err)

	_, err = s.svc.ValidateToken(token)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	s.Contains(err.Error(), "expired")
}

func (s *JWTSuite) TestWrongKey() {
	actor := domain.Actor{Role: domain.RoleAdmin, ID: uuid.New()}
	token, err := NewService("another-key", "bloodledger").GenerateActorToken(actor, time.Hour)
	s.Require().NoError(err)

	_, err = s.svc.ValidateToken(token)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *JWTSuite) TestGarbageToken() {
	_, err := s.svc.ValidateToken("not-a-token")
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *JWTSuite) TestHospitalWithoutAffiliation() {
	// A hospital role must name its hospital; mint the claim by hand.
	actor := domain.Actor{Role: domain.RoleHospital, ID: uuid.New()}
	token, err := s.svc.GenerateActorToken(actor, time.Hour)
	s.Require().NoError(err)

	_, err = s.svc.ValidateToken(token)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	s.Contains(err.Error(), "affiliation")
}
