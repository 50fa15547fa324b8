// Package consent enforces user authorization for sensitive actions.
package consent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/advisorlabs/clerk/internal/storage"
	"github.com/advisorlabs/clerk/pkg/models"
)

// Gate answers "may this user perform this action right now?". Every allowed
// answer consumes one use: the final check-and-increment happens in a single
// atomic storage operation, so a grant revoked between two calls denies the
// second one even within the same conversation turn.
type Gate struct {
	store  storage.ConsentStore
	logger *slog.Logger
	now    func() time.Time
}

// NewGate creates a Gate over the given consent store.
func NewGate(store storage.ConsentStore, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		store:  store,
		logger: logger.With("component", "consent"),
		now:    time.Now,
	}
}

// Check verifies and consumes one use of the user's grant for actionType.
// The denial reason is user-presentable. Storage failures deny (fail closed).
func (g *Gate) Check(ctx context.Context, userID, actionType string) (bool, string) {
	now := g.now().UTC()

	c, err := g.store.GetConsent(ctx, userID, actionType)
	if errors.Is(err, storage.ErrNotFound) {
		return false, "no consent granted for this action"
	}
	if err != nil {
		g.logger.Error("consent lookup failed", "action_type", actionType, "error", err)
		return false, "consent could not be verified"
	}

	if ok, reason := c.ValidAt(now); !ok {
		return false, reason
	}
	if ok, reason := c.CheckConditions(now); !ok {
		return false, reason
	}

	used, err := g.store.UseConsent(ctx, userID, actionType, now)
	if err != nil {
		g.logger.Error("consent use failed", "action_type", actionType, "error", err)
		return false, "consent could not be verified"
	}
	if !used {
		// The grant changed between lookup and use, or the per-day cap
		// is exhausted.
		if c.Conditions != nil && c.Conditions.MaxPerDay > 0 {
			return false, fmt.Sprintf("daily limit of %d uses reached", c.Conditions.MaxPerDay)
		}
		return false, "consent is no longer valid"
	}
	return true, ""
}

// Grant creates or reactivates the user's consent for actionType.
func (g *Gate) Grant(ctx context.Context, userID, actionType, scope string, conditions *models.ConsentConditions, expiresAt *time.Time) error {
	consent := &models.Consent{
		UserID:     userID,
		ActionType: actionType,
		Scope:      scope,
		Conditions: conditions,
		ExpiresAt:  expiresAt,
	}
	if err := g.store.GrantConsent(ctx, consent); err != nil {
		return fmt.Errorf("grant consent: %w", err)
	}
	g.logger.Info("consent granted", "user_id", userID, "action_type", actionType)
	return nil
}

// Revoke withdraws the user's consent for actionType, effective immediately.
func (g *Gate) Revoke(ctx context.Context, userID, actionType string) (bool, error) {
	revoked, err := g.store.RevokeConsent(ctx, userID, actionType, g.now().UTC())
	if err != nil {
		return false, fmt.Errorf("revoke consent: %w", err)
	}
	if revoked {
		g.logger.Info("consent revoked", "user_id", userID, "action_type", actionType)
	}
	return revoked, nil
}

// List returns all of the user's consent records.
func (g *Gate) List(ctx context.Context, userID string) ([]*models.Consent, error) {
	return g.store.ListConsents(ctx, userID)
}
