package twitchapi

import (
	"net/http"

	"github.com/onnwee/livetally/oauth"
	"github.com/onnwee/livetally/stream"
)

// TokenURL is the Twitch OAuth2 token endpoint for app access tokens.
const TokenURL = "https://id.twitch.tv/oauth2/token"

// TokenFetcher returns the client-credentials exchange for Twitch app access
// tokens. App tokens cannot be used for IRC chat; they only read Helix data.
func TokenFetcher(hc *http.Client) oauth.ClientCredentials {
	return oauth.ClientCredentials{Platform: stream.Twitch, TokenURL: TokenURL, HTTPClient: hc}
}
