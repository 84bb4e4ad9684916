package conversation

import (
	"fmt"
	"strings"

	"github.com/libraryid/server/internal/model"
	"github.com/libraryid/server/internal/plan"
)

// Prompt identifies an outbound chat message.
type Prompt int

const (
	PromptNone Prompt = iota
	PromptWelcome
	PromptName
	PromptFatherName
	PromptAge
	PromptShift
	PromptInvalidShift
	PromptPhoto
	PromptPhotoRequired
	PromptPhotoRejected
	PromptPayment
	PromptAwaitingPayment
	PromptAlreadyIssued
)

// Prompter renders prompts into message text.
type Prompter struct {
	Org      string
	Currency string
	Plans    *plan.Table
	Photo    PhotoPolicy
}

// Text returns the message for p, filled from s where needed.
func (p Prompter) Text(prompt Prompt, s model.Session) string {
	switch prompt {
	case PromptWelcome:
		return fmt.Sprintf("Welcome to the %s. Please enter your full name:", p.Org)
	case PromptName:
		return "Please enter your full name:"
	case PromptFatherName:
		return "Enter your father's name:"
	case PromptAge:
		return "Enter your age:"
	case PromptShift:
		return fmt.Sprintf("Select shift (%s hours):", strings.Join(p.Plans.Keys(), "/"))
	case PromptInvalidShift:
		return fmt.Sprintf("Please enter a valid shift: %s.", joinOr(p.Plans.Keys()))
	case PromptPhoto:
		if p.Photo == PhotoOptional {
			return "Please upload your photo, or reply SKIP to continue without one."
		}
		return "Please upload your photo."
	case PromptPhotoRequired:
		if p.Photo == PhotoOptional {
			return "Please send a photo or reply SKIP to continue."
		}
		return "Please send a photo to continue."
	case PromptPhotoRejected:
		if p.Photo == PhotoOptional {
			return "We couldn't use that attachment. Please send a JPEG or PNG photo under 5 MB, or reply SKIP to continue."
		}
		return "We couldn't use that attachment. Please send a JPEG or PNG photo under 5 MB."
	case PromptPayment:
		return fmt.Sprintf("Please pay %s using this link: %s", p.Money(s.Amount), s.PaymentLinkURL)
	case PromptAwaitingPayment:
		if s.PaymentLinkURL == "" {
			return "Waiting for payment confirmation..."
		}
		return "Waiting for payment confirmation... If you haven't paid yet, use this link: " + s.PaymentLinkURL
	case PromptAlreadyIssued:
		if s.CredentialURL == "" {
			return fmt.Sprintf("Your %s ID card has already been issued.", p.Org)
		}
		return fmt.Sprintf("Your %s ID card has already been issued: %s", p.Org, s.CredentialURL)
	}
	return ""
}

// Money formats an amount in major units.
func (p Prompter) Money(amount int) string {
	if p.Currency == "" || p.Currency == "INR" {
		return fmt.Sprintf("Rs. %d", amount)
	}
	return fmt.Sprintf("%d %s", amount, p.Currency)
}

func joinOr(keys []string) string {
	switch len(keys) {
	case 0:
		return ""
	case 1:
		return keys[0]
	case 2:
		return keys[0] + " or " + keys[1]
	}
	return strings.Join(keys[:len(keys)-1], ", ") + ", or " + keys[len(keys)-1]
}
