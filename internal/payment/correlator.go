package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/libraryid/server/internal/identity"
	"github.com/libraryid/server/internal/model"
	"github.com/libraryid/server/internal/repo"
)

// Outcome describes what a paid event did.
type Outcome string

const (
	OutcomeIssued      Outcome = "issued"
	OutcomeAlreadyDone Outcome = "already_done"
	OutcomeUnmatched   Outcome = "unmatched"
	OutcomeIgnored     Outcome = "ignored"
)

// completeTimeout bounds one issuance: render, store, deliver and commit.
const completeTimeout = 30 * time.Second

var errNotPending = errors.New("session is not awaiting payment")

// Issuer renders and stores a credential for a paid session.
type Issuer interface {
	Issue(ctx context.Context, s model.Session) (model.Credential, error)
}

// Messenger delivers the credential to the member.
type Messenger interface {
	Send(ctx context.Context, to, body, mediaURL string) error
}

// Correlator completes the session that a paid event belongs to.
type Correlator struct {
	sessions  repo.SessionRepo
	issuer    Issuer
	messenger Messenger
	identity  identity.Normalizer
	org       string
	logger    *slog.Logger
	now       func() time.Time

	inflight singleflight.Group
}

// NewCorrelator creates a payment correlator
func NewCorrelator(sessions repo.SessionRepo, issuer Issuer, messenger Messenger, n identity.Normalizer, org string, logger *slog.Logger) *Correlator {
	return &Correlator{
		sessions:  sessions,
		issuer:    issuer,
		messenger: messenger,
		identity:  n,
		org:       org,
		logger:    logger,
		now:       time.Now,
	}
}

// Caption is the text sent together with the card image.
func Caption(org string) string {
	return fmt.Sprintf("✅ Payment received! Here is your %s ID Card:", org)
}

// Handle correlates a paid event. Unknown contacts are not errors. An error
// means the session is still awaiting payment and a redelivery may retry.
func (c *Correlator) Handle(ctx context.Context, ev Event) (Outcome, error) {
	if !ev.Paid() {
		return OutcomeIgnored, nil
	}
	id, err := c.identity.Normalize(ev.Contact)
	if err != nil {
		c.logger.Warn("payment contact is not a valid identity", "payment_link_id", ev.PaymentLinkID)
		return OutcomeUnmatched, nil
	}

	// Concurrent deliveries for one member share a single completion. It runs
	// detached from the first caller so a dropped request does not fail the
	// duplicates waiting on it.
	v, err, shared := c.inflight.Do(id, func() (interface{}, error) {
		workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), completeTimeout)
		defer cancel()
		return c.complete(workCtx, id, ev)
	})
	if shared {
		c.logger.Debug("duplicate payment delivery collapsed", "phone", identity.Mask(id))
	}
	outcome, _ := v.(Outcome)
	return outcome, err
}

func (c *Correlator) complete(ctx context.Context, id string, ev Event) (Outcome, error) {
	sess, err := c.sessions.Get(ctx, id)
	if errors.Is(err, repo.ErrSessionNotFound) {
		c.logger.Info("payment for unknown session", "phone", identity.Mask(id), "payment_link_id", ev.PaymentLinkID)
		return OutcomeUnmatched, nil
	}
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}

	if sess.Done() {
		return OutcomeAlreadyDone, nil
	}
	if sess.Stage != model.StageAwaitingPayment {
		c.logger.Warn("payment for session not awaiting payment", "phone", identity.Mask(id), "stage", sess.Stage)
		return OutcomeIgnored, nil
	}
	if sess.PaymentLinkID != "" && ev.PaymentLinkID != "" && sess.PaymentLinkID != ev.PaymentLinkID {
		c.logger.Warn("payment link does not match session",
			"phone", identity.Mask(id),
			"expected", sess.PaymentLinkID,
			"got", ev.PaymentLinkID,
		)
		return OutcomeIgnored, nil
	}

	cred, err := c.issuer.Issue(ctx, sess)
	if err != nil {
		return "", fmt.Errorf("issue credential: %w", err)
	}
	if err := c.messenger.Send(ctx, sess.Identity, Caption(c.org), cred.URL); err != nil {
		return "", fmt.Errorf("deliver credential: %w", err)
	}

	_, err = c.sessions.Update(ctx, id, func(s *model.Session) error {
		if s.Done() {
			return model.ErrSessionDone
		}
		if s.Stage != model.StageAwaitingPayment {
			return errNotPending
		}
		now := c.now()
		s.Stage = model.StageDone
		s.CredentialURL = cred.URL
		s.CompletedAt = &now
		return nil
	})
	switch {
	case errors.Is(err, model.ErrSessionDone):
		return OutcomeAlreadyDone, nil
	case err != nil:
		return "", fmt.Errorf("complete session: %w", err)
	}

	c.logger.Info("credential issued", "phone", identity.Mask(id), "session_id", sess.ID, "payment_id", ev.PaymentID)
	return OutcomeIssued, nil
}
