package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kazini-app/go-kazini-auth"
)

// sessionGrace refreshes a session on read when it expires this soon.
const sessionGrace = 10 * time.Second

// SignInWithPassword implements auth.AuthAuthority.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error) {
	var out tokenResponse
	err := c.do(ctx, "password_sign_in", http.MethodPost, c.config.authURL("/token"), requestOptions{
		query: url.Values{"grant_type": {"password"}},
		body:  map[string]any{"email": email, "password": password},
	}, &out)
	if err != nil {
		return nil, err
	}
	return c.establish(ctx, "password_sign_in", out)
}

// SignUp implements auth.AuthAuthority. The endpoint answers with a session
// when confirmation is disabled and with the bare user otherwise.
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*auth.Identity, *auth.Session, error) {
	body := map[string]any{"email": email, "password": password}
	if len(metadata) > 0 {
		body["data"] = metadata
	}

	var raw json.RawMessage
	if err := c.do(ctx, "sign_up", http.MethodPost, c.config.authURL("/signup"), requestOptions{body: body}, &raw); err != nil {
		return nil, nil, err
	}

	var tokens tokenResponse
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, nil, invalidResponse("sign_up", err)
	}
	if tokens.AccessToken != "" {
		session, err := c.establish(ctx, "sign_up", tokens)
		if err != nil {
			return nil, nil, err
		}
		return session.Identity, session, nil
	}

	var identity auth.Identity
	if err := json.Unmarshal(raw, &identity); err != nil || identity.ID == "" {
		return nil, nil, invalidResponse("sign_up", err)
	}
	return &identity, nil, nil
}

// SignInWithOTP implements auth.AuthAuthority.
func (c *Client) SignInWithOTP(ctx context.Context, req auth.OTPRequest) error {
	body := map[string]any{"create_user": req.CreateUser}
	switch {
	case req.Email != "":
		body["email"] = req.Email
	case req.Phone != "":
		body["phone"] = req.Phone
	default:
		return auth.ErrValidation
	}

	opts := requestOptions{body: body}
	if req.RedirectTo != "" {
		opts.query = url.Values{"redirect_to": {req.RedirectTo}}
	}
	return c.do(ctx, "otp", http.MethodPost, c.config.authURL("/otp"), opts, nil)
}

// VerifyOTP implements auth.AuthAuthority.
func (c *Client) VerifyOTP(ctx context.Context, req auth.VerifyOTPRequest) (*auth.Session, error) {
	otpType := req.Type
	if otpType == "" {
		otpType = auth.OTPTypeSMS
	}
	var out tokenResponse
	err := c.do(ctx, "verify_otp", http.MethodPost, c.config.authURL("/verify"), requestOptions{
		body: map[string]any{"phone": req.Phone, "token": req.Token, "type": string(otpType)},
	}, &out)
	if err != nil {
		return nil, err
	}
	return c.establish(ctx, "verify_otp", out)
}

// SignInWithOAuth implements auth.AuthAuthority. It starts a PKCE flow and
// returns the authorize URL; ExchangeCodeForSession completes it.
func (c *Client) SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return "", auth.ErrValidation
	}

	verifier := c.newCodeVerifier(ctx)
	params := url.Values{
		"provider":              {provider},
		"code_challenge":        {codeChallenge(verifier)},
		"code_challenge_method": {codeChallengeMethodS256},
	}
	if redirectTo != "" {
		params.Set("redirect_to", redirectTo)
	}
	return c.config.authURL("/authorize") + "?" + params.Encode(), nil
}

// ExchangeCodeForSession implements auth.CodeExchanger.
func (c *Client) ExchangeCodeForSession(ctx context.Context, code string) (*auth.Session, error) {
	verifier := c.takeCodeVerifier(ctx)
	if verifier == "" {
		return nil, auth.ErrInvalidToken
	}

	var out tokenResponse
	err := c.do(ctx, "exchange_code", http.MethodPost, c.config.authURL("/token"), requestOptions{
		query: url.Values{"grant_type": {"pkce"}},
		body:  map[string]any{"auth_code": code, "code_verifier": verifier},
	}, &out)
	if err != nil {
		return nil, err
	}
	return c.establish(ctx, "exchange_code", out)
}

// GetSession implements auth.AuthAuthority. A session about to expire is
// refreshed before it is returned.
func (c *Client) GetSession(ctx context.Context) (*auth.Session, error) {
	session := c.currentSession(ctx)
	if session == nil {
		return nil, nil
	}
	if !c.expiresSoon(session, sessionGrace) {
		return session, nil
	}
	if session.RefreshToken == "" {
		c.dropSession(ctx)
		return nil, nil
	}
	return c.refresh(ctx, session.RefreshToken)
}

// SetSession implements auth.AuthAuthority. An expired access token is
// swapped through the refresh grant, otherwise the user is fetched with it.
func (c *Client) SetSession(ctx context.Context, accessToken, refreshToken string) (*auth.Session, error) {
	if accessToken == "" {
		return nil, auth.ErrInvalidToken
	}

	expiresAt := tokenExpiry(accessToken)
	if !expiresAt.IsZero() && !c.now().Before(expiresAt) {
		if refreshToken == "" {
			return nil, auth.ErrInvalidToken
		}
		c.refreshMu.Lock()
		session, err := c.exchangeRefresh(ctx, refreshToken)
		c.refreshMu.Unlock()
		if err != nil {
			return nil, err
		}
		c.notify(auth.EventSignedIn, session)
		return session, nil
	}

	identity, err := c.fetchUser(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	session := &auth.Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresAt:    expiresAt,
		Identity:     identity,
	}
	c.saveSession(ctx, session)
	c.notify(auth.EventSignedIn, session)
	return copySession(session), nil
}

// SignOut implements auth.AuthAuthority. The local session is dropped even
// when the remote call fails.
func (c *Client) SignOut(ctx context.Context) error {
	session := c.currentSession(ctx)
	var err error
	if session != nil {
		err = c.do(ctx, "sign_out", http.MethodPost, c.config.authURL("/logout"), requestOptions{
			query:  url.Values{"scope": {"global"}},
			bearer: session.AccessToken,
		}, nil)
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusNotFound) {
			err = nil
		}
	}
	c.dropSession(ctx)
	return err
}

// Resend implements auth.AuthAuthority.
func (c *Client) Resend(ctx context.Context, kind auth.ResendType, email string) error {
	return c.do(ctx, "resend", http.MethodPost, c.config.authURL("/resend"), requestOptions{
		body: map[string]any{"type": string(kind), "email": email},
	}, nil)
}

func (c *Client) fetchUser(ctx context.Context, accessToken string) (*auth.Identity, error) {
	var identity auth.Identity
	err := c.do(ctx, "get_user", http.MethodGet, c.config.authURL("/user"), requestOptions{bearer: accessToken}, &identity)
	if err != nil {
		return nil, err
	}
	if identity.ID == "" {
		return nil, invalidResponse("get_user", nil)
	}
	return &identity, nil
}

// refresh swaps a refresh token for a new session. Concurrent callers
// holding the same token share one exchange. A rejected token signs the
// client out.
func (c *Client) refresh(ctx context.Context, refreshToken string) (*auth.Session, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	if current := c.currentSession(ctx); current != nil &&
		current.RefreshToken != refreshToken && !c.expiresSoon(current, sessionGrace) {
		return current, nil
	}
	return c.exchangeRefresh(ctx, refreshToken)
}

func (c *Client) exchangeRefresh(ctx context.Context, refreshToken string) (*auth.Session, error) {
	var out tokenResponse
	err := c.do(ctx, "refresh_token", http.MethodPost, c.config.authURL("/token"), requestOptions{
		query: url.Values{"grant_type": {"refresh_token"}},
		body:  map[string]any{"refresh_token": refreshToken},
	}, &out)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
			c.dropSession(ctx)
		}
		return nil, err
	}

	session := out.session(c.now())
	if session == nil {
		return nil, invalidResponse("refresh_token", nil)
	}
	c.saveSession(ctx, session)
	c.notify(auth.EventTokenRefreshed, session)
	return copySession(session), nil
}

func (c *Client) establish(ctx context.Context, operation string, out tokenResponse) (*auth.Session, error) {
	session := out.session(c.now())
	if session == nil || session.Identity == nil {
		return nil, invalidResponse(operation, nil)
	}
	c.saveSession(ctx, session)
	c.notify(auth.EventSignedIn, session)
	return copySession(session), nil
}

func (c *Client) dropSession(ctx context.Context) {
	had := c.currentSession(ctx) != nil
	c.saveSession(ctx, nil)
	if had {
		c.notify(auth.EventSignedOut, nil)
	}
}
