package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kazini-app/go-kazini-auth"
	"github.com/kazini-app/go-kazini-auth/scoring"
)

// bind decodes the request body into payload. Decoding errors are rendered
// as a validation failure and false is returned.
func (s *Server) bind(c *gin.Context, payload any) bool {
	if err := c.ShouldBind(payload); err != nil {
		s.respondResult(c, &auth.Failure{Kind: auth.KindValidation, Message: "Malformed request body.", Err: err})
		return false
	}
	return true
}

func (s *Server) passwordLogin(c *gin.Context) {
	var payload auth.PasswordCredentials
	if !s.bind(c, &payload) {
		return
	}
	s.respondResult(c, s.session.Handlers().SignInWithPassword(c.Request.Context(), payload))
}

func (s *Server) signUp(c *gin.Context) {
	var payload auth.SignupPayload
	if !s.bind(c, &payload) {
		return
	}
	s.respondResult(c, s.session.Handlers().SignUp(c.Request.Context(), payload))
}

func (s *Server) requestMagicLink(c *gin.Context) {
	var payload auth.MagicLinkPayload
	if !s.bind(c, &payload) {
		return
	}
	s.respondResult(c, s.session.Handlers().RequestMagicLink(c.Request.Context(), payload))
}

type magicLinkLanding struct {
	URL string `json:"url" form:"url"`
}

// completeMagicLink runs the magic link processor on a landing URL the
// client read from its address bar. The scrubbed URL comes back so the
// client can replace its history entry.
func (s *Server) completeMagicLink(c *gin.Context) {
	var payload magicLinkLanding
	if !s.bind(c, &payload) {
		return
	}
	loc, err := newPostedLocation(payload.URL)
	if err != nil || payload.URL == "" {
		s.respondResult(c, &auth.Failure{Kind: auth.KindValidation, Message: auth.MsgMagicLinkFailed, Err: err})
		return
	}

	out := s.session.ProcessMagicLink(c.Request.Context(), loc)
	status := http.StatusOK
	if out.State == auth.MagicLinkError {
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{
		"state":       out.State,
		"message":     out.Message,
		"user":        out.User,
		"redirect_to": out.RedirectTo,
		"location":    loc.URL().String(),
	})
}

func (s *Server) requestOTP(c *gin.Context) {
	var payload auth.PhoneOTPPayload
	if !s.bind(c, &payload) {
		return
	}
	s.respondResult(c, s.session.Handlers().RequestPhoneOTP(c.Request.Context(), payload))
}

func (s *Server) verifyOTP(c *gin.Context) {
	var payload auth.VerifyOTPPayload
	if !s.bind(c, &payload) {
		return
	}
	s.respondResult(c, s.session.Handlers().VerifyPhoneOTP(c.Request.Context(), payload))
}

func (s *Server) startOAuth(c *gin.Context) {
	res := s.session.Handlers().SignInWithOAuth(c.Request.Context(), auth.OAuthPayload{Provider: c.Param("provider")})
	if pending, ok := res.(*auth.Pending); ok && s.appURL != "" && pending.RedirectURL != "" {
		c.Redirect(http.StatusFound, pending.RedirectURL)
		return
	}
	s.respondResult(c, res)
}

// oauthCallback finishes the PKCE flow. Provider errors arrive as query
// parameters instead of a code.
func (s *Server) oauthCallback(c *gin.Context) {
	if desc := c.Query("error_description"); desc != "" || c.Query("error") != "" {
		if desc == "" {
			desc = c.Query("error")
		}
		s.respondResult(c, &auth.Failure{Kind: auth.KindOther, Message: desc})
		return
	}

	res := s.session.Handlers().CompleteOAuth(c.Request.Context(), c.Query("code"))
	if ok, isLogin := res.(*auth.LoginOK); isLogin && s.appURL != "" {
		c.Redirect(http.StatusFound, s.appURL+ok.RedirectTo)
		return
	}
	s.respondResult(c, res)
}

func (s *Server) continueAsGuest(c *gin.Context) {
	s.respondResult(c, s.session.Handlers().ContinueAsGuest(c.Request.Context()))
}

func (s *Server) resend(c *gin.Context) {
	var payload auth.ResendPayload
	if !s.bind(c, &payload) {
		return
	}
	s.respondResult(c, s.session.Handlers().ResendConfirmation(c.Request.Context(), payload))
}

func (s *Server) logout(c *gin.Context) {
	s.session.SignOut(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": "signed_out"})
}

func (s *Server) currentSession(c *gin.Context) {
	store := s.session.Store()
	user := store.User()
	body := gin.H{
		"user":    user,
		"loading": store.Loading(),
	}
	if user != nil {
		body["route"] = auth.RouteForPlan(user.Plan)
	}
	c.JSON(http.StatusOK, body)
}

// access reports whether the current plan opens route.
func (s *Server) access(c *gin.Context) {
	route := c.Query("route")
	c.JSON(http.StatusOK, gin.H{
		"route":   route,
		"allowed": auth.CanAccessFromContext(c.Request.Context(), route),
	})
}

func notConfigured(c *gin.Context, feature string) {
	c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{
		"status": "error",
		"error":  gin.H{"message": feature + " is not configured"},
	})
}

func (s *Server) score(c *gin.Context) {
	if s.scorer == nil {
		notConfigured(c, "truth scoring")
		return
	}
	var req scoring.Request
	if err := c.ShouldBind(&req); err != nil {
		s.respondResult(c, &auth.Failure{Kind: auth.KindValidation, Message: "Malformed request body.", Err: err})
		return
	}

	user, _ := auth.FromContext(c.Request.Context())
	result, err := s.scorer.Score(c.Request.Context(), user, s.session.Store().AccessToken(), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// planStats splits counts into the enumerated tiers and anything else the
// profile store holds.
func (s *Server) planStats(c *gin.Context) {
	if s.plans == nil {
		notConfigured(c, "plan statistics")
		return
	}
	counts, err := s.plans.CountByPlan(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}

	plans := gin.H{}
	unrecognized := gin.H{}
	total := 0
	for plan, n := range counts {
		total += n
		if plan.Known() {
			plans[string(plan)] = n
		} else {
			unrecognized[string(plan)] = n
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"plans":        plans,
		"unrecognized": unrecognized,
		"total":        total,
	})
}
