// Package httpapi exposes a SessionContext over HTTP with gin: the auth
// method endpoints, the OAuth callback, a server sent event stream of
// routing signals and the plan gated truth scoring call.
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/kazini-app/go-kazini-auth"
	"github.com/kazini-app/go-kazini-auth/scoring"
)

// Scorer is the truth scoring collaborator.
type Scorer interface {
	Score(ctx context.Context, user *auth.User, accessToken string, req scoring.Request) (*scoring.Result, error)
}

// PlanCounter reports how many profiles hold each plan.
type PlanCounter interface {
	CountByPlan(ctx context.Context) (map[auth.Plan]int, error)
}

// Server wires gin routes onto one SessionContext.
type Server struct {
	session     *auth.SessionContext
	scorer      Scorer
	plans       PlanCounter
	logger      auth.Logger
	appURL      string
	corsOrigins []string
	engine      *gin.Engine
}

// Option customizes a Server.
type Option func(*Server)

// WithScorer enables POST /truth/score.
func WithScorer(scorer Scorer) Option {
	return func(s *Server) {
		s.scorer = scorer
	}
}

// WithPlanStats enables GET /stats/plans for admins.
func WithPlanStats(counter PlanCounter) Option {
	return func(s *Server) {
		s.plans = counter
	}
}

func WithLogger(logger auth.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAppURL makes browser facing endpoints (OAuth start and callback)
// answer with redirects into the app instead of JSON.
func WithAppURL(appURL string) Option {
	return func(s *Server) {
		s.appURL = strings.TrimRight(appURL, "/")
	}
}

// WithCORSOrigins allows cross origin calls from origins.
func WithCORSOrigins(origins ...string) Option {
	return func(s *Server) {
		s.corsOrigins = append(s.corsOrigins, origins...)
	}
}

// New builds the router. gin's mode is left to the caller.
func New(session *auth.SessionContext, opts ...Option) *Server {
	s := &Server{
		session: session,
		logger:  auth.NoopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.engine = s.routes()
	return s
}

// Handler returns the http.Handler to serve.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))
	if len(s.corsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     s.corsOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Request-Id"},
			ExposeHeaders:    []string{"X-Request-Id"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	r.Use(s.withUser())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	a := r.Group("/auth")
	a.POST("/password/login", s.passwordLogin)
	a.POST("/password/signup", s.signUp)
	a.POST("/magic-link", s.requestMagicLink)
	a.POST("/magic-link/complete", s.completeMagicLink)
	a.POST("/otp/request", s.requestOTP)
	a.POST("/otp/verify", s.verifyOTP)
	a.GET("/oauth/:provider", s.startOAuth)
	a.GET("/callback", s.oauthCallback)
	a.POST("/guest", s.continueAsGuest)
	a.POST("/resend", s.resend)
	a.POST("/logout", s.logout)
	a.GET("/session", s.currentSession)
	a.GET("/events", s.events)

	r.GET("/access", s.requireUser(), s.access)

	r.GET("/stats/plans", s.requireUser(), s.requireRole(adminRole), s.planStats)

	truth := r.Group("/truth", s.requireUser(), s.requireRoute(auth.RouteTruthTest))
	truth.POST("/score", s.score)

	return r
}
