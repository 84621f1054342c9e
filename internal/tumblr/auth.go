package tumblr

import (
	"context"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"golang.org/x/oauth2"
)

// TokenURL is Tumblr's OAuth2 token endpoint.
const TokenURL = "https://api.tumblr.com/v2/oauth2/token"

// requestTimeout bounds a single API round trip, uploads included.
const requestTimeout = 2 * time.Minute

const userAgent = "roadtrip-bot/1.0 (+https://github.com/bryan-buckman/roadtrip)"

// Credentials holds the OAuth2 material for the posting account.
type Credentials struct {
	ClientID     string
	ClientSecret string
	AccessToken  string
	RefreshToken string
	TokenURL     string
}

type userAgentTransport struct {
	parent http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", userAgent)
	return t.parent.RoundTrip(req)
}

// NewTransport returns a gzip-aware transport that identifies the bot.
func NewTransport() http.RoundTripper {
	return &userAgentTransport{
		parent: gzhttp.Transport(http.DefaultTransport),
	}
}

// NewHTTPClient returns an HTTP client that authorizes requests with creds.
// A refresh token takes precedence and is exchanged on first use; otherwise
// the access token is sent as a static bearer token. With neither, the
// client is unauthenticated. Every variant keeps the request timeout.
func NewHTTPClient(ctx context.Context, creds Credentials) *http.Client {
	client := newOAuthClient(ctx, creds)
	client.Timeout = requestTimeout
	return client
}

func newOAuthClient(ctx context.Context, creds Credentials) *http.Client {
	base := &http.Client{Timeout: requestTimeout, Transport: NewTransport()}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)

	switch {
	case creds.RefreshToken != "":
		tokenURL := creds.TokenURL
		if tokenURL == "" {
			tokenURL = TokenURL
		}
		conf := &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		}
		// No access token, so the first request triggers a refresh.
		return conf.Client(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})
	case creds.AccessToken != "":
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.AccessToken, TokenType: "Bearer"})
		return oauth2.NewClient(ctx, src)
	default:
		return base
	}
}
