package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Stage is a step of the registration conversation
type Stage string

const (
	StageAwaitingName       Stage = "awaiting_name"
	StageAwaitingFatherName Stage = "awaiting_father_name"
	StageAwaitingAge        Stage = "awaiting_age"
	StageAwaitingShift      Stage = "awaiting_shift"
	StageAwaitingPhoto      Stage = "awaiting_photo"
	StageAwaitingPayment    Stage = "awaiting_payment"
	StageDone               Stage = "done"
)

var stageOrder = map[Stage]int{
	StageAwaitingName:       1,
	StageAwaitingFatherName: 2,
	StageAwaitingAge:        3,
	StageAwaitingShift:      4,
	StageAwaitingPhoto:      5,
	StageAwaitingPayment:    6,
	StageDone:               7,
}

// Valid reports whether s is a known stage
func (s Stage) Valid() bool {
	_, ok := stageOrder[s]
	return ok
}

// Before reports whether s comes strictly before other in the flow
func (s Stage) Before(other Stage) bool {
	return stageOrder[s] < stageOrder[other]
}

var (
	ErrStageRegression           = errors.New("session stage cannot move backwards")
	ErrUnknownStage              = errors.New("unknown session stage")
	ErrAmountImmutable           = errors.New("session amount is already set")
	ErrPaymentReferenceImmutable = errors.New("session payment reference is already set")
	ErrSessionDone               = errors.New("session is complete")
)

// Session is the conversation state of one user, keyed by canonical identity
type Session struct {
	ID             uuid.UUID
	Identity       string
	Stage          Stage
	Name           string
	FatherName     string
	Age            string
	Shift          string
	Amount         int
	PhotoRef       string
	PaymentLinkID  string
	PaymentLinkURL string
	CredentialURL  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// NewSession returns a fresh session in the name-collection stage
func NewSession(identity string, now time.Time) Session {
	return Session{
		ID:        uuid.New(),
		Identity:  identity,
		Stage:     StageAwaitingName,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Done reports whether the credential has been issued
func (s Session) Done() bool {
	return s.Stage == StageDone
}

// ValidateTransition checks the session invariants that every store enforces on update.
func ValidateTransition(before, after Session) error {
	if before.Done() {
		return ErrSessionDone
	}
	if !after.Stage.Valid() {
		return ErrUnknownStage
	}
	if after.Stage.Before(before.Stage) {
		return ErrStageRegression
	}
	if before.Amount != 0 && after.Amount != before.Amount {
		return ErrAmountImmutable
	}
	if before.PaymentLinkID != "" && after.PaymentLinkID != before.PaymentLinkID {
		return ErrPaymentReferenceImmutable
	}
	return nil
}

// PaymentLink is a hosted payment page created for a session
type PaymentLink struct {
	ID  string
	URL string
}

// Credential is an issued membership card
type Credential struct {
	Key string
	URL string
}
