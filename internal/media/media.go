// Package media uploads donation images to the external image host and
// returns the hosted URL recorded as the donation's image reference.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"

	dErrors "replate/pkg/domain-errors"
	"replate/pkg/platform/circuit"
)

// MaxImageBytes bounds uploads accepted from clients.
const MaxImageBytes = 8 << 20

// Host stores image bytes and returns a public URL.
type Host interface {
	Upload(ctx context.Context, data []byte, filename string) (string, error)
}

// Client uploads to an ImgBB-style endpoint: multipart "image" field, API key
// in the query string, JSON {"success", "data": {"url"}} response.
type Client struct {
	uploadURL string
	apiKey    string
	http      *http.Client
	breaker   *circuit.Breaker
	logger    *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(cl *Client) {
		if b != nil {
			cl.breaker = b
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) { cl.logger = logger }
}

func NewClient(uploadURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		uploadURL: uploadURL,
		apiKey:    apiKey,
		http:      &http.Client{Timeout: 30 * time.Second},
		breaker:   circuit.New("media"),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type uploadResponse struct {
	Success bool `json:"success"`
	Data    struct {
		URL string `json:"url"`
	} `json:"data"`
}

func (c *Client) Upload(ctx context.Context, data []byte, filename string) (string, error) {
	if err := checkImage(data); err != nil {
		return "", err
	}
	if !c.breaker.Allow() {
		return "", dErrors.New(dErrors.CodeUnavailable, "image host unavailable")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", path.Base(filename))
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "build upload")
	}
	if _, err := part.Write(data); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "build upload")
	}
	if err := mw.Close(); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "build upload")
	}

	target, err := url.Parse(c.uploadURL)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "invalid upload url")
	}
	q := target.Query()
	q.Set("key", c.apiKey)
	target.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), &buf)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "build upload")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		c.recordFailure(ctx, err)
		return "", dErrors.Wrap(err, dErrors.CodeUnavailable, "image host unavailable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		err := fmt.Errorf("image host returned %d", resp.StatusCode)
		c.recordFailure(ctx, err)
		return "", dErrors.Wrap(err, dErrors.CodeUnavailable, "image host unavailable")
	}
	c.breaker.RecordSuccess()
	if resp.StatusCode >= 400 {
		return "", dErrors.New(dErrors.CodeValidation, fmt.Sprintf("image rejected by host (%d)", resp.StatusCode))
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "decode upload response")
	}
	if !out.Success || out.Data.URL == "" {
		return "", dErrors.New(dErrors.CodeValidation, "image rejected by host")
	}
	return out.Data.URL, nil
}

func (c *Client) recordFailure(ctx context.Context, err error) {
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.logger.WarnContext(ctx, "media circuit opened", "error", err)
	}
}

func checkImage(data []byte) error {
	if len(data) == 0 {
		return dErrors.New(dErrors.CodeValidation, "image is required")
	}
	if len(data) > MaxImageBytes {
		return dErrors.New(dErrors.CodeValidation, "image is too large")
	}
	return nil
}

// Fake keeps uploads in memory and serves them under baseURL. Used when no
// image host is configured.
type Fake struct {
	baseURL string

	mu      sync.Mutex
	objects map[string][]byte
}

func NewFake(baseURL string) *Fake {
	return &Fake{baseURL: baseURL, objects: map[string][]byte{}}
}

func (f *Fake) Upload(_ context.Context, data []byte, filename string) (string, error) {
	if err := checkImage(data); err != nil {
		return "", err
	}
	ref := fmt.Sprintf("%s/%s/%s", f.baseURL, uuid.NewString(), url.PathEscape(path.Base(filename)))
	f.mu.Lock()
	f.objects[ref] = append([]byte(nil), data...)
	f.mu.Unlock()
	return ref, nil
}

// Get returns the bytes stored under ref.
func (f *Fake) Get(ref string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[ref]
	return b, ok
}
