package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/libraryid/server/internal/identity"
	"github.com/libraryid/server/internal/media"
	"github.com/libraryid/server/internal/model"
	"github.com/libraryid/server/internal/repo"
)

// maxTurnAttempts bounds how often a turn is re-decided when another request
// advanced the same session between read and commit.
const maxTurnAttempts = 3

var (
	ErrInvalidSender = errors.New("invalid sender address")
	errStaleTurn     = errors.New("session changed during turn")
)

// Messenger delivers a chat message to a canonical identity.
type Messenger interface {
	Send(ctx context.Context, to, body, mediaURL string) error
}

// PaymentLinker creates a hosted payment page for the session's amount.
type PaymentLinker interface {
	CreatePaymentLink(ctx context.Context, s model.Session) (model.PaymentLink, error)
}

// PhotoCapturer downloads and stores an inbound attachment, returning its
// storage reference. Errors wrapping media.ErrRejected re-prompt the member.
type PhotoCapturer interface {
	CapturePhoto(ctx context.Context, s model.Session, mediaURL string) (string, error)
}

// Message is an inbound chat message as received from the messaging provider.
type Message struct {
	From     string
	Body     string
	MediaURL string
}

// Dependencies are the collaborators of Service.
type Dependencies struct {
	Sessions  repo.SessionRepo
	Messenger Messenger
	Payments  PaymentLinker
	Photos    PhotoCapturer
	Logger    *slog.Logger
}

// Settings are the static configuration of Service.
type Settings struct {
	Identity identity.Normalizer
	Rules    Rules
	Prompts  Prompter
}

// Service runs chat turns: load the session, decide, perform external work
// without holding the session, then commit only if the session did not move.
type Service struct {
	sessions  repo.SessionRepo
	messenger Messenger
	payments  PaymentLinker
	photos    PhotoCapturer
	logger    *slog.Logger

	identity identity.Normalizer
	rules    Rules
	prompts  Prompter
}

// NewService creates a conversation service
func NewService(deps Dependencies, settings Settings) *Service {
	return &Service{
		sessions:  deps.Sessions,
		messenger: deps.Messenger,
		payments:  deps.Payments,
		photos:    deps.Photos,
		logger:    deps.Logger,
		identity:  settings.Identity,
		rules:     settings.Rules,
		prompts:   settings.Prompts,
	}
}

// HandleMessage processes one inbound chat message. A returned error means the
// session was left at its pre-turn stage or the reply could not be delivered.
func (s *Service) HandleMessage(ctx context.Context, msg Message) error {
	id, err := s.identity.Normalize(msg.From)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSender, err)
	}
	in := Input{Text: msg.Body, MediaURL: strings.TrimSpace(msg.MediaURL)}

	for attempt := 1; ; attempt++ {
		err := s.turn(ctx, id, in)
		if !errors.Is(err, errStaleTurn) || attempt == maxTurnAttempts {
			return err
		}
		s.logger.Debug("session moved during turn, retrying", "phone", identity.Mask(id), "attempt", attempt)
	}
}

func (s *Service) turn(ctx context.Context, id string, in Input) error {
	current, err := s.sessions.Get(ctx, id)
	if errors.Is(err, repo.ErrSessionNotFound) {
		created, cerr := s.sessions.Create(ctx, id)
		switch {
		case cerr == nil:
			s.logger.Info("session created", "phone", identity.Mask(id), "session_id", created.ID)
			return s.reply(ctx, created, PromptWelcome)
		case errors.Is(cerr, repo.ErrSessionExists):
			current, err = s.sessions.Get(ctx, id)
		default:
			return fmt.Errorf("create session: %w", cerr)
		}
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	d := Decide(current, in, s.rules)
	if !d.Changes(current) {
		return s.reply(ctx, current, d.Prompt)
	}

	pending := current
	d.Apply(&pending)

	if d.Has(EffectCapturePhoto) {
		ref, err := s.photos.CapturePhoto(ctx, pending, in.MediaURL)
		if errors.Is(err, media.ErrRejected) {
			s.logger.Info("photo rejected", "phone", identity.Mask(id), "error", err)
			return s.reply(ctx, current, PromptPhotoRejected)
		}
		if err != nil {
			return fmt.Errorf("capture photo: %w", err)
		}
		pending.PhotoRef = ref
	}
	if d.Has(EffectRequestPayment) && pending.PaymentLinkID == "" {
		link, err := s.payments.CreatePaymentLink(ctx, pending)
		if err != nil {
			return fmt.Errorf("create payment link: %w", err)
		}
		pending.PaymentLinkID = link.ID
		pending.PaymentLinkURL = link.URL
	}

	committed, err := s.sessions.Update(ctx, id, func(sess *model.Session) error {
		if sess.Stage != current.Stage {
			return errStaleTurn
		}
		d.Apply(sess)
		if pending.PhotoRef != "" {
			sess.PhotoRef = pending.PhotoRef
		}
		if sess.PaymentLinkID == "" && pending.PaymentLinkID != "" {
			sess.PaymentLinkID = pending.PaymentLinkID
			sess.PaymentLinkURL = pending.PaymentLinkURL
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errStaleTurn) {
			return err
		}
		return fmt.Errorf("commit turn: %w", err)
	}

	s.logger.Info("session advanced",
		"phone", identity.Mask(id),
		"from", current.Stage,
		"to", committed.Stage,
	)
	return s.reply(ctx, committed, d.Prompt)
}

func (s *Service) reply(ctx context.Context, sess model.Session, p Prompt) error {
	if p == PromptNone {
		return nil
	}
	if err := s.messenger.Send(ctx, sess.Identity, s.prompts.Text(p, sess), ""); err != nil {
		return fmt.Errorf("send prompt: %w", err)
	}
	return nil
}
