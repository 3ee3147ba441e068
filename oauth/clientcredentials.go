package oauth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/onnwee/livetally/platform"
	"github.com/onnwee/livetally/stream"
)

// ClientCredentials performs the OAuth2 client-credentials grant against a
// platform token endpoint, sending client_id/client_secret as form params
// (what both Twitch and Kick expect).
type ClientCredentials struct {
	Platform   stream.Platform
	TokenURL   string
	Scopes     []string
	HTTPClient *http.Client
}

// FetchToken exchanges cred for an app access token.
func (cc ClientCredentials) FetchToken(ctx context.Context, cred Credential) (*oauth2.Token, error) {
	if cred.ClientID == "" || cred.ClientSecret == "" {
		return nil, &platform.AuthError{Platform: cc.Platform, Err: errors.New("missing client id/secret")}
	}
	cfg := clientcredentials.Config{
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		TokenURL:     cc.TokenURL,
		Scopes:       cc.Scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if cc.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, cc.HTTPClient)
	}
	tok, err := cfg.Token(ctx)
	if err != nil {
		return nil, classifyTokenError(cc.Platform, err)
	}
	if tok.AccessToken == "" {
		return nil, &platform.AuthError{Platform: cc.Platform, Err: errors.New("empty access_token in token response")}
	}
	return tok, nil
}

// classifyTokenError maps token endpoint failures onto the platform taxonomy.
// Rejected credentials come back as 400 invalid_client on Twitch, so every
// non-throttling 4xx is an auth failure here.
func classifyTokenError(p stream.Platform, err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) || re.Response == nil {
		return &platform.TransientError{Platform: p, Err: err}
	}
	code := re.Response.StatusCode
	switch {
	case code == http.StatusTooManyRequests:
		return &platform.RateLimitError{Platform: p, RetryAfter: platform.RetryAfterFromHeader(re.Response.Header, time.Now()), Err: err}
	case code >= 500:
		return &platform.TransientError{Platform: p, Err: err}
	default:
		return &platform.AuthError{Platform: p, Err: err}
	}
}

// StaticKey is a TokenFetcher for platforms authenticated with a fixed API
// key (YouTube). The key is the token and never expires.
type StaticKey struct {
	Platform stream.Platform
}

// FetchToken returns the configured key as a non-expiring token.
func (sk StaticKey) FetchToken(_ context.Context, cred Credential) (*oauth2.Token, error) {
	if cred.ClientSecret == "" {
		return nil, &platform.AuthError{Platform: sk.Platform, Err: errors.New("missing api key")}
	}
	return &oauth2.Token{AccessToken: cred.ClientSecret, TokenType: "key"}, nil
}
