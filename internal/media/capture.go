// Package media captures user photos sent as chat attachments.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/webp"

	"github.com/libraryid/server/internal/model"
	"github.com/libraryid/server/internal/storage"
)

// ErrRejected marks attachments the member has to replace. Fetchers report
// oversized downloads by wrapping ErrTooLarge.
var (
	ErrRejected = errors.New("attachment rejected")
	ErrNotImage = fmt.Errorf("%w: not a supported image", ErrRejected)
	ErrTooLarge = fmt.Errorf("%w: too large", ErrRejected)
)

// Fetcher downloads an attachment from the messaging provider.
type Fetcher interface {
	FetchMedia(ctx context.Context, mediaURL string) ([]byte, error)
}

// Capturer stores the photo attached to a chat message under the session's ID.
type Capturer struct {
	fetcher Fetcher
	store   storage.Store
}

// NewCapturer creates a photo capturer
func NewCapturer(fetcher Fetcher, store storage.Store) *Capturer {
	return &Capturer{fetcher: fetcher, store: store}
}

// CapturePhoto downloads mediaURL, decodes it completely and stores it
// re-encoded as PNG, so a stored photo always renders. The key depends only on
// the session, so a retried turn overwrites the same object.
func (c *Capturer) CapturePhoto(ctx context.Context, s model.Session, mediaURL string) (string, error) {
	data, err := c.fetcher.FetchMedia(ctx, mediaURL)
	if err != nil {
		return "", fmt.Errorf("fetch media: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotImage, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode photo: %w", err)
	}

	key := fmt.Sprintf("photos/%s.png", s.ID)
	if err := c.store.Put(ctx, key, buf.Bytes()); err != nil {
		return "", fmt.Errorf("store photo: %w", err)
	}
	return key, nil
}
