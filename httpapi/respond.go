package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/kazini-app/go-kazini-auth"
)

type resultBody struct {
	Status      string         `json:"status"`
	User        *auth.User     `json:"user,omitempty"`
	RedirectTo  string         `json:"redirect_to,omitempty"`
	RedirectURL string         `json:"redirect_url,omitempty"`
	Email       string         `json:"email,omitempty"`
	Message     string         `json:"message,omitempty"`
	Kind        auth.ErrorKind `json:"kind,omitempty"`
}

// respondResult renders a handler Result. Failures use the HTTP code of
// their kind's sentinel.
func (s *Server) respondResult(c *gin.Context, res auth.Result) {
	switch r := res.(type) {
	case *auth.LoginOK:
		c.JSON(http.StatusOK, resultBody{Status: "ok", User: r.User, RedirectTo: r.RedirectTo})
	case *auth.NeedsVerification:
		c.JSON(http.StatusAccepted, resultBody{Status: "needs_verification", Email: r.Email, Message: r.Message})
	case *auth.Pending:
		c.JSON(http.StatusAccepted, resultBody{Status: "pending", Message: r.Message, RedirectURL: r.RedirectURL})
	case *auth.Failure:
		c.JSON(failureStatus(r), resultBody{Status: "error", Kind: r.Kind, Message: r.Message})
	default:
		s.respondError(c, auth.ErrUnexpected)
	}
}

func failureStatus(f *auth.Failure) int {
	if sentinel := f.Kind.Sentinel(); sentinel != nil && sentinel.Code != 0 {
		return sentinel.Code
	}
	return http.StatusBadRequest
}

// respondError renders any error, normalizing to a go-errors value first.
func (s *Server) respondError(c *gin.Context, err error) {
	var richErr *goerrors.Error
	var verrs validation.Errors
	switch {
	case goerrors.As(err, &richErr):
	case errors.As(err, &verrs):
		richErr = goerrors.Wrap(err, goerrors.CategoryValidation, "invalid input").
			WithTextCode(auth.TextCodeValidation).
			WithCode(goerrors.CodeBadRequest)
		fields := map[string]any{}
		for field, ferr := range verrs {
			fields[field] = ferr.Error()
		}
		richErr.WithMetadata(map[string]any{"fields": fields})
	default:
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred").
			WithCode(goerrors.CodeInternal)
	}

	s.logger.Info("request failed",
		"error", richErr.Message,
		"category", richErr.Category,
		"details", print.MaybePrettyJSON(richErr.Metadata),
	)

	status := richErr.Code
	if status == 0 {
		status = http.StatusInternalServerError
	}
	body := gin.H{
		"message":   richErr.Message,
		"text_code": richErr.TextCode,
		"category":  richErr.Category,
	}
	if fields, ok := richErr.Metadata["fields"]; ok {
		body["fields"] = fields
	}
	c.AbortWithStatusJSON(status, gin.H{"status": "error", "error": body})
}
