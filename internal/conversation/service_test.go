package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libraryid/server/internal/identity"
	"github.com/libraryid/server/internal/logging"
	"github.com/libraryid/server/internal/media"
	"github.com/libraryid/server/internal/model"
	"github.com/libraryid/server/internal/repo"
)

type sentMessage struct {
	To, Body, MediaURL string
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeMessenger) Send(_ context.Context, to, body, mediaURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{To: to, Body: body, MediaURL: mediaURL})
	return nil
}

func (f *fakeMessenger) last() sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sentMessage{}
	}
	return f.sent[len(f.sent)-1]
}

type fakePayments struct {
	mu      sync.Mutex
	calls   int
	amounts []int
	err     error
}

func (f *fakePayments) CreatePaymentLink(_ context.Context, s model.Session) (model.PaymentLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return model.PaymentLink{}, f.err
	}
	f.amounts = append(f.amounts, s.Amount)
	return model.PaymentLink{ID: "plink_1", URL: "https://rzp.io/l/abc"}, nil
}

type fakePhotos struct {
	err error
}

func (f *fakePhotos) CapturePhoto(_ context.Context, s model.Session, mediaURL string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "photos/" + s.ID.String(), nil
}

type harness struct {
	svc      *Service
	sessions repo.SessionRepo
	msgs     *fakeMessenger
	payments *fakePayments
	photos   *fakePhotos
}

func newHarness(t *testing.T, policy PhotoPolicy) *harness {
	t.Helper()
	rules := testRules(t, policy)
	h := &harness{
		sessions: repo.NewMemorySessionRepo(),
		msgs:     &fakeMessenger{},
		payments: &fakePayments{},
		photos:   &fakePhotos{},
	}
	h.svc = NewService(Dependencies{
		Sessions:  h.sessions,
		Messenger: h.msgs,
		Payments:  h.payments,
		Photos:    h.photos,
		Logger:    logging.Discard(),
	}, Settings{
		Identity: identity.NewNormalizer("91"),
		Rules:    rules,
		Prompts:  Prompter{Org: "Library", Currency: "INR", Plans: rules.Plans, Photo: policy},
	})
	return h
}

func (h *harness) send(t *testing.T, from, body, mediaURL string) {
	t.Helper()
	require.NoError(t, h.svc.HandleMessage(context.Background(), Message{From: from, Body: body, MediaURL: mediaURL}))
}

func (h *harness) session(t *testing.T, id string) model.Session {
	t.Helper()
	s, err := h.sessions.Get(context.Background(), id)
	require.NoError(t, err)
	return s
}

func TestHandleMessage_firstMessageCreatesSession(t *testing.T) {
	h := newHarness(t, PhotoRequired)

	h.send(t, "whatsapp:+15551230000", "Jane Doe", "")
	s := h.session(t, "+15551230000")
	assert.Equal(t, model.StageAwaitingName, s.Stage)
	assert.Empty(t, s.Name, "first message content is not stored")
	assert.Equal(t, "Welcome to the Library. Please enter your full name:", h.msgs.last().Body)
	assert.Equal(t, "+15551230000", h.msgs.last().To)

	h.send(t, "whatsapp:+15551230000", "Jane Doe", "")
	s = h.session(t, "+15551230000")
	assert.Equal(t, model.StageAwaitingFatherName, s.Stage)
	assert.Equal(t, "Jane Doe", s.Name)
	assert.Equal(t, "Enter your father's name:", h.msgs.last().Body)
}

func TestHandleMessage_fullFlowReachesPayment(t *testing.T) {
	h := newHarness(t, PhotoRequired)
	from := "whatsapp:+919876543210"

	h.send(t, from, "hi", "")
	h.send(t, from, "Jane Doe", "")
	h.send(t, from, "John Doe", "")
	h.send(t, from, "21", "")
	h.send(t, from, "6", "")
	assert.Equal(t, model.StageAwaitingPhoto, h.session(t, "+919876543210").Stage)
	assert.Zero(t, h.payments.calls, "payment link waits for the photo")

	h.send(t, from, "", "https://api.twilio.com/media/ME1")
	s := h.session(t, "+919876543210")
	assert.Equal(t, model.StageAwaitingPayment, s.Stage)
	assert.Equal(t, 400, s.Amount)
	assert.Equal(t, "6", s.Shift)
	assert.Equal(t, "21", s.Age)
	assert.Equal(t, "John Doe", s.FatherName)
	assert.Equal(t, "photos/"+s.ID.String(), s.PhotoRef)
	assert.Equal(t, "plink_1", s.PaymentLinkID)
	assert.Equal(t, []int{400}, h.payments.amounts)
	assert.Equal(t, "Please pay Rs. 400 using this link: https://rzp.io/l/abc", h.msgs.last().Body)

	h.send(t, from, "done", "")
	assert.Equal(t, model.StageAwaitingPayment, h.session(t, "+919876543210").Stage)
	assert.Contains(t, h.msgs.last().Body, "Waiting for payment confirmation")
	assert.Equal(t, 1, h.payments.calls)
}

func TestHandleMessage_invalidShiftKeepsStage(t *testing.T) {
	h := newHarness(t, PhotoRequired)
	from := "+919876543210"
	for _, body := range []string{"hi", "Jane", "John", "30"} {
		h.send(t, from, body, "")
	}

	h.send(t, from, "9", "")
	s := h.session(t, from)
	assert.Equal(t, model.StageAwaitingShift, s.Stage)
	assert.Zero(t, s.Amount)
	assert.Equal(t, "Please enter a valid shift: 6, 12, or 24.", h.msgs.last().Body)

	h.send(t, from, "24", "")
	s = h.session(t, from)
	assert.Equal(t, model.StageAwaitingPhoto, s.Stage)
	assert.Equal(t, 600, s.Amount)
}

func TestHandleMessage_externalFailureLeavesStage(t *testing.T) {
	h := newHarness(t, PhotoRequired)
	from := "+919876543210"
	for _, body := range []string{"hi", "Jane", "John", "30", "12"} {
		h.send(t, from, body, "")
	}

	h.payments.err = errors.New("gateway down")
	err := h.svc.HandleMessage(context.Background(), Message{From: from, MediaURL: "https://media/1"})
	require.Error(t, err)
	s := h.session(t, from)
	assert.Equal(t, model.StageAwaitingPhoto, s.Stage)
	assert.Empty(t, s.PaymentLinkID)
	assert.Empty(t, s.PhotoRef)

	h.payments.err = nil
	h.photos.err = errors.New("media expired")
	err = h.svc.HandleMessage(context.Background(), Message{From: from, MediaURL: "https://media/1"})
	require.Error(t, err)
	assert.Equal(t, model.StageAwaitingPhoto, h.session(t, from).Stage)

	h.photos.err = nil
	h.send(t, from, "", "https://media/1")
	assert.Equal(t, model.StageAwaitingPayment, h.session(t, from).Stage)
}

func TestHandleMessage_unusableAttachmentRepromptsForPhoto(t *testing.T) {
	h := newHarness(t, PhotoRequired)
	from := "+919876543210"
	for _, body := range []string{"hi", "Jane", "John", "30", "6"} {
		h.send(t, from, body, "")
	}

	for _, rejected := range []error{
		fmt.Errorf("%w: pdf", media.ErrNotImage),
		fmt.Errorf("fetch media: %w", media.ErrTooLarge),
	} {
		h.photos.err = rejected
		before := len(h.msgs.sent)

		h.send(t, from, "", "https://media/doc.pdf")

		s := h.session(t, from)
		assert.Equal(t, model.StageAwaitingPhoto, s.Stage)
		assert.Empty(t, s.PhotoRef)
		assert.Zero(t, h.payments.calls)
		require.Len(t, h.msgs.sent, before+1, "the member is told why")
		assert.Equal(t, "We couldn't use that attachment. Please send a JPEG or PNG photo under 5 MB.", h.msgs.last().Body)
	}

	h.photos.err = nil
	h.send(t, from, "", "https://media/photo.jpg")
	assert.Equal(t, model.StageAwaitingPayment, h.session(t, from).Stage)
}

func TestHandleMessage_photoDisabled(t *testing.T) {
	h := newHarness(t, PhotoDisabled)
	from := "+919876543210"
	for _, body := range []string{"hi", "Jane", "John", "30", "12"} {
		h.send(t, from, body, "")
	}
	s := h.session(t, from)
	assert.Equal(t, model.StageAwaitingPayment, s.Stage)
	assert.Equal(t, 500, s.Amount)
	assert.Empty(t, s.PhotoRef)
	assert.Equal(t, "plink_1", s.PaymentLinkID)
}

func TestHandleMessage_invalidSender(t *testing.T) {
	h := newHarness(t, PhotoRequired)
	err := h.svc.HandleMessage(context.Background(), Message{From: "whatsapp:", Body: "hi"})
	assert.ErrorIs(t, err, ErrInvalidSender)
}

func TestHandleMessage_sendFailureSurfaces(t *testing.T) {
	h := newHarness(t, PhotoRequired)
	h.msgs.err = errors.New("twilio down")
	err := h.svc.HandleMessage(context.Background(), Message{From: "+919876543210", Body: "hi"})
	assert.Error(t, err)
}

func TestHandleMessage_concurrentMessagesAdvanceOneStageEach(t *testing.T) {
	h := newHarness(t, PhotoRequired)
	from := "+919876543210"
	h.send(t, from, "hi", "")

	// Name, father's name and age all race; every message must land on its own stage.
	var wg sync.WaitGroup
	for _, body := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(body string) {
			defer wg.Done()
			assert.NoError(t, h.svc.HandleMessage(context.Background(), Message{From: from, Body: body}))
		}(body)
	}
	wg.Wait()

	s := h.session(t, from)
	assert.Equal(t, model.StageAwaitingShift, s.Stage)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, []string{s.Name, s.FatherName, s.Age})
}

func TestHandleMessage_concurrentFirstContactCreatesOneSession(t *testing.T) {
	h := newHarness(t, PhotoRequired)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.svc.HandleMessage(context.Background(), Message{From: "+919876543210", Body: "hello"})
		}()
	}
	wg.Wait()

	welcomes := 0
	for _, m := range h.msgs.sent {
		if m.Body == "Welcome to the Library. Please enter your full name:" {
			welcomes++
		}
	}
	assert.Equal(t, 1, welcomes)
}
