package httpclient

import (
	"os"

	"golang.org/x/oauth2"
)

// TokenSourceFromEnv builds a reusable bearer-token source from an
// environment variable, the way the teacher's gdrive downloader reads
// GDRIVE_API_KEY — except gated model hosts take a static bearer token
// rather than an interactive OAuth exchange, so oauth2.StaticTokenSource
// wrapped in ReuseTokenSource is sufficient; there is no refresh flow to
// drive.
func TokenSourceFromEnv(envVar string) oauth2.TokenSource {
	token := os.Getenv(envVar)
	if token == "" {
		return nil
	}
	return oauth2.ReuseTokenSource(nil, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))
}
