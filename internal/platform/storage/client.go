// Package storage signs download URLs for digital items kept in Cloud Storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// MaxSignedURLExpiry is the V4 signing ceiling.
const MaxSignedURLExpiry = 7 * 24 * time.Hour

var (
	errNoSigner       = errors.New("storage: signer is required")
	errInvalidBucket  = errors.New("storage: bucket name is required")
	errInvalidObject  = errors.New("storage: object name is required")
	errExpiryTooLong  = errors.New("storage: expiry exceeds permitted maximum")
	errExpiryNegative = errors.New("storage: expiry must be positive")
)

// Client generates signed GET URLs backed by a Signer.
type Client struct {
	signer Signer
	bucket string
	scheme storage.SigningScheme
	now    func() time.Time
}

// ClientOption customises client behaviour.
type ClientOption func(*Client)

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) ClientOption {
	return func(c *Client) {
		if clock != nil {
			c.now = clock
		}
	}
}

// NewClient constructs a signed URL client for bucket.
func NewClient(signer Signer, bucket string, opts ...ClientOption) (*Client, error) {
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errNoSigner
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	client := &Client{signer: signer, bucket: bucket, scheme: storage.SigningSchemeV4, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// DownloadURL describes a generated signed URL.
type DownloadURL struct {
	URL       string
	ExpiresAt time.Time
}

// SignDownload signs a GET URL for object that lives for ttl. When fileName is set the
// response is served as an attachment under that name.
func (c *Client) SignDownload(ctx context.Context, object, fileName string, ttl time.Duration) (DownloadURL, error) {
	if c == nil || c.signer == nil {
		return DownloadURL{}, errNoSigner
	}
	object = strings.TrimPrefix(strings.TrimSpace(object), "/")
	if object == "" {
		return DownloadURL{}, errInvalidObject
	}
	switch {
	case ttl <= 0:
		return DownloadURL{}, errExpiryNegative
	case ttl > MaxSignedURLExpiry:
		return DownloadURL{}, errExpiryTooLong
	}

	expiresAt := c.now().UTC().Add(ttl)
	opts := storage.SignedURLOptions{
		GoogleAccessID: c.signer.Email(),
		Scheme:         c.scheme,
		Method:         http.MethodGet,
		Expires:        expiresAt,
		SignBytes: func(payload []byte) ([]byte, error) {
			return c.signer.SignBytes(ctx, payload)
		},
	}
	if name := strings.TrimSpace(fileName); name != "" {
		opts.QueryParameters = url.Values{
			"response-content-disposition": {mime.FormatMediaType("attachment", map[string]string{"filename": name})},
		}
	}

	signed, err := storage.SignedURL(c.bucket, object, &opts)
	if err != nil {
		return DownloadURL{}, fmt.Errorf("storage: sign download url: %w", err)
	}
	return DownloadURL{URL: signed, ExpiresAt: expiresAt}, nil
}
