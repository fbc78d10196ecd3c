// Package challenge implements security challenge questions: per-user
// answers to entries of a system-wide catalog, and authentication of a user
// by answer as a second route beside the password.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/santedb/santedb-server-sub007/internal/auth"
	"github.com/santedb/santedb-server-sub007/internal/db/models"
	"github.com/santedb/santedb-server-sub007/internal/logging"
	"github.com/santedb/santedb-server-sub007/internal/repository"
	"github.com/santedb/santedb-server-sub007/internal/services/identity"
)

// Challenge is a catalog entry.
type Challenge struct {
	ID   string
	Text string
}

// Configured is a challenge a user has answered. ConfiguredAt is only
// populated when the user asks about themselves.
type Configured struct {
	ChallengeID  string
	Text         string
	ConfiguredAt *time.Time
}

// Dependencies for Service construction.
type Dependencies struct {
	Challenges repository.ChallengeRepository
	Identities repository.IdentityRepository
	PDP        identity.Demander
	Clock      clockwork.Clock
	Logger     *zap.Logger
}

// Service manages challenge answers.
type Service struct {
	challenges repository.ChallengeRepository
	identities repository.IdentityRepository
	pdp        identity.Demander
	clock      clockwork.Clock
	logger     *zap.Logger
	cost       int
}

// NewService creates a Service hashing answers with bcrypt at cost.
func NewService(deps Dependencies, cost int) *Service {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		challenges: deps.Challenges,
		identities: deps.Identities,
		pdp:        deps.PDP,
		clock:      clock,
		logger:     logging.OrNop(deps.Logger).Named("challenge"),
		cost:       cost,
	}
}

// NormalizeAnswer canonicalizes an answer before hashing or comparison:
// NFKC normalization, Unicode case folding and collapsed whitespace.
func NormalizeAnswer(answer string) string {
	folded := cases.Fold().String(norm.NFKC.String(answer))
	return strings.Join(strings.Fields(folded), " ")
}

// authorize allows acting on user's answers when acting is the user itself,
// or holds AlterIdentity.
func (s *Service) authorize(ctx context.Context, userName string, acting *auth.Principal) error {
	if !acting.IsAuthenticated() {
		return auth.NewPolicyViolation(acting, auth.PolicyAlterIdentity)
	}
	if acting.ActsAs(auth.KindUser, userName) {
		return nil
	}
	return s.pdp.Demand(ctx, acting, auth.PolicyAlterIdentity)
}

// Catalog returns the active challenges.
func (s *Service) Catalog(ctx context.Context) ([]Challenge, error) {
	rows, err := s.challenges.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Challenge, 0, len(rows))
	for _, r := range rows {
		out = append(out, Challenge{ID: r.ID, Text: r.Text})
	}
	return out, nil
}

// Set stores the answer of user to a catalog challenge, replacing any
// previous answer.
func (s *Service) Set(ctx context.Context, userName, challengeID, answer string, acting *auth.Principal) error {
	if err := s.authorize(ctx, userName, acting); err != nil {
		return err
	}

	user, err := s.identities.GetByName(ctx, string(auth.KindUser), userName)
	if err != nil {
		return err
	}
	if _, err := s.challenges.GetByID(ctx, challengeID); err != nil {
		return err
	}

	normalized := NormalizeAnswer(answer)
	if normalized == "" {
		return fmt.Errorf("challenge answer: %w", auth.ErrEmptySecret)
	}
	hash, err := auth.HashSecret(normalized, s.cost)
	if err != nil {
		return err
	}

	if err := s.challenges.UpsertResponse(ctx, &models.ChallengeResponse{
		IdentitySID: user.SID,
		ChallengeID: challengeID,
		AnswerHash:  hash,
		UpdatedAt:   s.clock.Now().UTC(),
	}); err != nil {
		return err
	}
	s.logger.Info("challenge answer set", zap.String("user", user.Name), zap.String("challenge", challengeID), zap.String("by", acting.Name()))
	return nil
}

// Get lists the challenges user has answered. Answers are never returned.
// Any requester, including an anonymous one, learns which challenges exist
// so a step-up prompt can be shown; only the user sees when they were set.
func (s *Service) Get(ctx context.Context, userName string, requesting *auth.Principal) ([]Configured, error) {
	user, err := s.identities.GetByName(ctx, string(auth.KindUser), userName)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	rows, err := s.challenges.ListResponses(ctx, user.SID)
	if err != nil {
		return nil, err
	}

	self := requesting.ActsAs(auth.KindUser, user.Name)
	out := make([]Configured, 0, len(rows))
	for _, r := range rows {
		c := Configured{ChallengeID: r.ChallengeID}
		if r.Challenge != nil {
			c.Text = r.Challenge.Text
		}
		if self {
			at := r.UpdatedAt
			c.ConfiguredAt = &at
		}
		out = append(out, c)
	}
	return out, nil
}

// Remove deletes the answer of user to a challenge.
func (s *Service) Remove(ctx context.Context, userName, challengeID string, acting *auth.Principal) error {
	if err := s.authorize(ctx, userName, acting); err != nil {
		return err
	}
	user, err := s.identities.GetByName(ctx, string(auth.KindUser), userName)
	if err != nil {
		return err
	}
	n, err := s.challenges.DeleteResponse(ctx, user.SID, challengeID)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("challenge response %s for %s: %w", challengeID, user.Name, repository.ErrNotFound)
	}
	s.logger.Info("challenge answer removed", zap.String("user", user.Name), zap.String("challenge", challengeID), zap.String("by", acting.Name()))
	return nil
}
