package supabase

import (
	"context"

	"golang.org/x/oauth2"
)

func codeChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// newCodeVerifier generates and remembers the verifier of a PKCE flow. Only
// one flow is pending at a time; starting another replaces it.
func (c *Client) newCodeVerifier(ctx context.Context) string {
	verifier := oauth2.GenerateVerifier()

	c.mu.Lock()
	c.verifier = verifier
	c.mu.Unlock()

	if c.config.Storage != nil {
		if err := c.config.Storage.Set(ctx, defaultCodeVerifierKey, []byte(verifier)); err != nil {
			c.logger.Warn("supabase code verifier persist failed", "error", err)
		}
	}
	return verifier
}

// takeCodeVerifier returns the pending verifier and forgets it.
func (c *Client) takeCodeVerifier(ctx context.Context) string {
	c.mu.Lock()
	verifier := c.verifier
	c.verifier = ""
	c.mu.Unlock()

	if c.config.Storage == nil {
		return verifier
	}
	if verifier == "" {
		if raw, err := c.config.Storage.Get(ctx, defaultCodeVerifierKey); err == nil {
			verifier = string(raw)
		}
	}
	if err := c.config.Storage.Delete(ctx, defaultCodeVerifierKey); err != nil {
		c.logger.Warn("supabase code verifier delete failed", "error", err)
	}
	return verifier
}
