// Package tumblr adapts content units to Tumblr posts and submits them.
package tumblr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// DefaultBaseURL is the Tumblr API root.
const DefaultBaseURL = "https://api.tumblr.com"

// API is the slice of the Tumblr API the bot uses.
type API interface {
	CreateVideoPost(ctx context.Context, blog string, post VideoPost) (*Response, error)
	CreateStructuredPost(ctx context.Context, blog string, post StructuredPost) (*Response, error)
}

// VideoPost is a legacy video upload.
type VideoPost struct {
	Caption string
	Data64  string // base64 of the video file
	Tags    string // comma separated
}

// StructuredPost is an NPF post with its media attachments.
type StructuredPost struct {
	Payload     Payload
	Attachments []Attachment
}

// Payload is the JSON part of an NPF request.
type Payload struct {
	Tags    string  `json:"tags"`
	Content []Block `json:"content"`
}

// Block is one NPF content block.
type Block struct {
	Type    string     `json:"type"`
	Subtype string     `json:"subtype,omitempty"`
	Text    string     `json:"text,omitempty"`
	Media   []MediaRef `json:"media,omitempty"`
}

// MediaRef points an image block at a multipart field.
type MediaRef struct {
	Identifier string `json:"identifier"`
}

// Attachment is a media file sent alongside the payload.
type Attachment struct {
	Identifier string
	Filename   string
	Data       []byte
}

// Response is a decoded Tumblr envelope.
type Response struct {
	Status  int
	Message string
	Body    json.RawMessage
}

// PostID returns the created post's id, or "" if the response has none.
func (r *Response) PostID() string {
	var created struct {
		ID       json.Number `json:"id"`
		IDString string      `json:"id_string"`
	}
	if r == nil || json.Unmarshal(r.Body, &created) != nil {
		return ""
	}
	if created.IDString != "" {
		return created.IDString
	}
	return created.ID.String()
}

// APIError is a non-2xx answer from Tumblr.
type APIError struct {
	Status  int
	Message string
	Body    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("tumblr: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("tumblr: status %d: %s", e.Status, e.Body)
}

// Retryable reports whether the request may succeed if sent again.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// MalformedResponseError is a 2xx answer whose body is not a Tumblr envelope.
type MalformedResponseError struct {
	Body string
	Err  error
}

func (e *MalformedResponseError) Error() string {
	return "tumblr: malformed response: " + e.Body
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultClientConfig returns sensible retry defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:    DefaultBaseURL,
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// Client talks to the Tumblr v2 API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	executor   failsafe.Executor[*Response]
}

var _ API = (*Client)(nil)

// NewClient creates a client. Zero fields in cfg take their defaults.
func NewClient(cfg ClientConfig) *Client {
	def := DefaultClientConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 2 * time.Minute, Transport: NewTransport()}
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	retry := retrypolicy.NewBuilder[*Response]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ *Response, err error) bool {
			return shouldRetry(err)
		}).
		Build()
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: cfg.HTTPClient,
		executor:   failsafe.With[*Response](retry),
	}
}

// CreateVideoPost uploads a base64 encoded video with the legacy post endpoint.
func (c *Client) CreateVideoPost(ctx context.Context, blog string, post VideoPost) (*Response, error) {
	form := url.Values{}
	form.Set("type", "video")
	form.Set("caption", post.Caption)
	form.Set("data64", post.Data64)
	if post.Tags != "" {
		form.Set("tags", post.Tags)
	}
	return c.execute(ctx, func() *requests.Builder {
		return requests.URL(c.endpoint(blog, "post")).BodyForm(form)
	})
}

// CreateStructuredPost creates an NPF post as a multipart request: the JSON
// payload in field "json" and each attachment under its identifier.
func (c *Client) CreateStructuredPost(ctx context.Context, blog string, post StructuredPost) (*Response, error) {
	body, contentType, err := encodeMultipart(post)
	if err != nil {
		return nil, err
	}
	return c.execute(ctx, func() *requests.Builder {
		return requests.URL(c.endpoint(blog, "posts")).BodyBytes(body).ContentType(contentType)
	})
}

func (c *Client) endpoint(blog, resource string) string {
	return c.baseURL + "/v2/blog/" + url.PathEscape(blog) + "/" + resource
}

func (c *Client) execute(ctx context.Context, build func() *requests.Builder) (*Response, error) {
	return c.executor.WithContext(ctx).Get(func() (*Response, error) {
		var status int
		var raw bytes.Buffer
		err := build().
			Client(c.httpClient).
			Method(http.MethodPost).
			AddValidator(func(*http.Response) error { return nil }).
			Handle(func(res *http.Response) error {
				status = res.StatusCode
				_, err := raw.ReadFrom(res.Body)
				return err
			}).
			Fetch(ctx)
		if err != nil {
			return nil, err
		}
		return decodeResponse(status, raw.Bytes())
	})
}

type envelope struct {
	Meta struct {
		Status int    `json:"status"`
		Msg    string `json:"msg"`
	} `json:"meta"`
	Response json.RawMessage `json:"response"`
}

func decodeResponse(status int, raw []byte) (*Response, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if status < 200 || status >= 300 {
			return nil, &APIError{Status: status, Body: string(raw)}
		}
		return nil, &MalformedResponseError{Body: string(raw), Err: err}
	}
	if status < 200 || status >= 300 {
		return nil, &APIError{Status: status, Message: env.Meta.Msg, Body: string(raw)}
	}
	return &Response{Status: env.Meta.Status, Message: env.Meta.Msg, Body: env.Response}, nil
}

// IsPermanent reports whether sending the same post again cannot succeed:
// a media file is missing, Tumblr rejected the request outright, or Tumblr
// answered with a body that may hide an already created post.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, fs.ErrNotExist) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return !apiErr.Retryable()
	}
	var malformed *MalformedResponseError
	return errors.As(err, &malformed)
}

func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var malformed *MalformedResponseError
	return !errors.As(err, &malformed)
}

func encodeMultipart(post StructuredPost) ([]byte, string, error) {
	payload, err := json.Marshal(post.Payload)
	if err != nil {
		return nil, "", fmt.Errorf("encode payload: %w", err)
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="json"`)
	h.Set("Content-Type", "application/json")
	w, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create json part: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return nil, "", fmt.Errorf("write json part: %w", err)
	}

	for _, a := range post.Attachments {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, a.Identifier, a.Filename))
		ct := mime.TypeByExtension(path.Ext(a.Filename))
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		w, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("create part %s: %w", a.Identifier, err)
		}
		if _, err := w.Write(a.Data); err != nil {
			return nil, "", fmt.Errorf("write part %s: %w", a.Identifier, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}
