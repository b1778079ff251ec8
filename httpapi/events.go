package httpapi

import (
	"io"

	"github.com/gin-gonic/gin"
	"github.com/kazini-app/go-kazini-auth"
)

const eventBuffer = 16

// events streams routing signals as server sent events. A slow client
// drops signals rather than blocking the emitter.
func (s *Server) events(c *gin.Context) {
	ch := make(chan auth.Signal, eventBuffer)
	sub := s.session.Signals().Subscribe(func(sig auth.Signal) {
		select {
		case ch <- sig:
		default:
			s.logger.Warn("dropping signal for slow event stream", "kind", sig.Kind)
		}
	})
	defer sub.Unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	c.Stream(func(io.Writer) bool {
		select {
		case sig := <-ch:
			c.SSEvent(string(sig.Kind), sig)
			return true
		case <-ctx.Done():
			return false
		}
	})
}
