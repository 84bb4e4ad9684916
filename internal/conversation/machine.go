// Package conversation implements the registration chat flow: a pure decision
// function over the session stage and a service that applies its decisions.
package conversation

import (
	"strings"

	"github.com/libraryid/server/internal/model"
	"github.com/libraryid/server/internal/plan"
)

// PhotoPolicy controls whether the flow collects a photo before payment.
type PhotoPolicy string

const (
	PhotoRequired PhotoPolicy = "required"
	PhotoOptional PhotoPolicy = "optional"
	PhotoDisabled PhotoPolicy = "disabled"
)

// skipWord lets the user continue without a photo under PhotoOptional.
const skipWord = "skip"

// Rules are the static inputs to Decide.
type Rules struct {
	Plans *plan.Table
	Photo PhotoPolicy
}

// Input is one inbound chat message.
type Input struct {
	Text     string
	MediaURL string
}

// Effect is external work a decision needs before it can be committed.
type Effect uint8

const (
	EffectCapturePhoto Effect = 1 << iota
	EffectRequestPayment
)

// Field names the collected attribute a decision stores.
type Field int

const (
	FieldNone Field = iota
	FieldName
	FieldFatherName
	FieldAge
	FieldShift
)

// Decision is the outcome of one chat turn.
type Decision struct {
	Next    model.Stage
	Field   Field
	Value   string
	Amount  int
	Effects Effect
	Prompt  Prompt
}

// Has reports whether e is among the decision's effects.
func (d Decision) Has(e Effect) bool {
	return d.Effects&e != 0
}

// Changes reports whether applying d modifies the session.
func (d Decision) Changes(s model.Session) bool {
	return d.Next != s.Stage || d.Field != FieldNone || d.Effects != 0
}

// Apply writes the decision's stage and field into s. The amount is only set
// when the session has none.
func (d Decision) Apply(s *model.Session) {
	s.Stage = d.Next
	switch d.Field {
	case FieldName:
		s.Name = d.Value
	case FieldFatherName:
		s.FatherName = d.Value
	case FieldAge:
		s.Age = d.Value
	case FieldShift:
		s.Shift = d.Value
		if s.Amount == 0 {
			s.Amount = d.Amount
		}
	}
}

func stay(s model.Session, p Prompt) Decision {
	return Decision{Next: s.Stage, Prompt: p}
}

// Decide computes the next stage, stored field and reply for a message
// received while the session is in s.Stage. It performs no I/O.
func Decide(s model.Session, in Input, rules Rules) Decision {
	text := strings.TrimSpace(in.Text)

	switch s.Stage {
	case model.StageAwaitingName:
		if text == "" {
			return stay(s, PromptName)
		}
		return Decision{Next: model.StageAwaitingFatherName, Field: FieldName, Value: text, Prompt: PromptFatherName}

	case model.StageAwaitingFatherName:
		if text == "" {
			return stay(s, PromptFatherName)
		}
		return Decision{Next: model.StageAwaitingAge, Field: FieldFatherName, Value: text, Prompt: PromptAge}

	case model.StageAwaitingAge:
		if text == "" {
			return stay(s, PromptAge)
		}
		return Decision{Next: model.StageAwaitingShift, Field: FieldAge, Value: text, Prompt: PromptShift}

	case model.StageAwaitingShift:
		price, ok := rules.Plans.Price(text)
		if !ok {
			return stay(s, PromptInvalidShift)
		}
		d := Decision{Field: FieldShift, Value: text, Amount: price}
		if rules.Photo == PhotoDisabled {
			d.Next = model.StageAwaitingPayment
			d.Effects = EffectRequestPayment
			d.Prompt = PromptPayment
			return d
		}
		d.Next = model.StageAwaitingPhoto
		d.Prompt = PromptPhoto
		return d

	case model.StageAwaitingPhoto:
		if strings.TrimSpace(in.MediaURL) != "" {
			return Decision{
				Next:    model.StageAwaitingPayment,
				Effects: EffectCapturePhoto | EffectRequestPayment,
				Prompt:  PromptPayment,
			}
		}
		if rules.Photo != PhotoRequired && strings.EqualFold(text, skipWord) {
			return Decision{Next: model.StageAwaitingPayment, Effects: EffectRequestPayment, Prompt: PromptPayment}
		}
		return stay(s, PromptPhotoRequired)

	case model.StageAwaitingPayment:
		return stay(s, PromptAwaitingPayment)

	case model.StageDone:
		return stay(s, PromptAlreadyIssued)
	}

	return stay(s, PromptNone)
}
