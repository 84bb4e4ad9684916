// Package credential renders, stores and links membership cards.
package credential

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/libraryid/server/internal/model"
	"github.com/libraryid/server/internal/storage"
)

// IssuerConfig is the static configuration of an Issuer.
type IssuerConfig struct {
	BaseURL  string
	Org      string
	Currency string
}

// Issuer produces the card for a paid session. Issuing the same session twice
// rewrites the same object, so retries after a failed delivery are safe.
type Issuer struct {
	store  storage.Store
	signer *LinkSigner
	cfg    IssuerConfig
	now    func() time.Time
}

// NewIssuer creates a card issuer
func NewIssuer(store storage.Store, signer *LinkSigner, cfg IssuerConfig) *Issuer {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Issuer{store: store, signer: signer, cfg: cfg, now: time.Now}
}

// CardKey is the storage key of a session's card.
func CardKey(s model.Session) string {
	return "cards/" + s.ID.String() + ".png"
}

// Issue renders and stores the card, returning a signed link to it.
func (i *Issuer) Issue(ctx context.Context, s model.Session) (model.Credential, error) {
	var photo []byte
	if s.PhotoRef != "" {
		var err error
		photo, err = i.store.Get(ctx, s.PhotoRef)
		if err != nil {
			return model.Credential{}, fmt.Errorf("load photo: %w", err)
		}
	}

	png, err := Render(i.card(s), photo)
	if err != nil {
		return model.Credential{}, fmt.Errorf("render card: %w", err)
	}

	key := CardKey(s)
	if err := i.store.Put(ctx, key, png); err != nil {
		return model.Credential{}, fmt.Errorf("store card: %w", err)
	}

	token, err := i.signer.Sign(s.ID, key)
	if err != nil {
		return model.Credential{}, err
	}
	return model.Credential{Key: key, URL: i.cfg.BaseURL + "/cards/" + token}, nil
}

func (i *Issuer) card(s model.Session) Card {
	paid := fmt.Sprintf("Rs. %d", s.Amount)
	if i.cfg.Currency != "" && i.cfg.Currency != "INR" {
		paid = fmt.Sprintf("%d %s", s.Amount, i.cfg.Currency)
	}
	return Card{
		Org:        i.cfg.Org,
		MemberID:   strings.ToUpper(s.ID.String()[:8]),
		Name:       s.Name,
		FatherName: s.FatherName,
		Age:        s.Age,
		Shift:      s.Shift,
		Phone:      s.Identity,
		Paid:       paid,
		IssuedOn:   i.now().Format("2006-01-02"),
	}
}
