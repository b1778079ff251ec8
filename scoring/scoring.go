// Package scoring calls the remote truth scoring endpoint on behalf of a
// signed in user. The scoring itself happens remotely.
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/kazini-app/go-kazini-auth"
)

const (
	TextCodeSignInRequired = "SCORING_SIGN_IN_REQUIRED"
	TextCodeScoringFailed  = "SCORING_FAILED"

	maxStatementLength = 4000
)

var (
	// ErrSignInRequired is returned when no user is present.
	ErrSignInRequired = goerrors.New("sign in to use truth scoring", goerrors.CategoryAuth).
		WithTextCode(TextCodeSignInRequired).
		WithCode(goerrors.CodeUnauthorized)

	// ErrScoringFailed wraps non 2xx answers and undecodable bodies.
	ErrScoringFailed = goerrors.New("truth scoring failed", goerrors.CategoryOperation).
		WithTextCode(TextCodeScoringFailed).
		WithCode(http.StatusBadGateway)
)

// Request is what the user submits for scoring.
type Request struct {
	Statement string `json:"statement" form:"statement"`
	Context   string `json:"context,omitempty" form:"context"`
}

func (r Request) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Statement, validation.Required, validation.Length(1, maxStatementLength)),
		validation.Field(&r.Context, validation.Length(0, maxStatementLength)),
	)
}

// Result is the remote verdict, passed through as is.
type Result struct {
	Score       float64        `json:"score"`
	Verdict     string         `json:"verdict"`
	Explanation string         `json:"explanation,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

// Config holds the endpoint settings.
type Config struct {
	URL        string
	APIKey     string
	HTTPClient *http.Client
}

// Client calls the scoring endpoint.
type Client struct {
	config     Config
	httpClient *http.Client
}

func New(cfg Config) *Client {
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{config: cfg, httpClient: client}
}

type scoreRequest struct {
	UserID     string `json:"user_id"`
	Plan       string `json:"plan"`
	AuthMethod string `json:"auth_method"`
	Statement  string `json:"statement"`
	Context    string `json:"context,omitempty"`
}

// Score submits req for user. accessToken is forwarded when the user holds a
// remote session; guests send none.
func (c *Client) Score(ctx context.Context, user *auth.User, accessToken string, req Request) (*Result, error) {
	if user == nil || user.ID == "" {
		return nil, ErrSignInRequired
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	plan := user.Plan
	if plan == "" {
		plan = auth.PlanFree
	}
	payload, err := json.Marshal(scoreRequest{
		UserID:     user.ID,
		Plan:       string(plan),
		AuthMethod: string(user.AuthMethod),
		Statement:  req.Statement,
		Context:    req.Context,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("X-API-Key", c.config.APIKey)
	}
	if accessToken != "" && !user.IsGuest() {
		httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, scoringError(resp.StatusCode, body, nil)
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, scoringError(resp.StatusCode, body, err)
	}
	return &result, nil
}

func scoringError(status int, body []byte, source error) error {
	clone := ErrScoringFailed.Clone()
	if clone == nil {
		return ErrScoringFailed
	}
	if source != nil {
		clone.Source = source
	}
	meta := map[string]any{"status": status}
	if len(body) > 0 {
		var parsed map[string]any
		if json.Unmarshal(body, &parsed) == nil {
			for _, key := range []string{"error", "message", "detail"} {
				if msg, ok := parsed[key].(string); ok && msg != "" {
					meta["remote_message"] = msg
					break
				}
			}
		}
	}
	return clone.WithMetadata(meta)
}
