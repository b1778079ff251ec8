package supabase

import (
	"context"

	"github.com/robfig/cron/v3"
)

type refresher struct {
	cron *cron.Cron
}

// StartAutoRefresh schedules a background job that refreshes the session
// shortly before it expires. Calling it twice is a no-op.
func (c *Client) StartAutoRefresh() error {
	c.cronMu.Lock()
	defer c.cronMu.Unlock()
	if c.refresher != nil {
		return nil
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(c.config.RefreshSchedule, c.refreshJob); err != nil {
		return err
	}
	scheduler.Start()
	c.refresher = &refresher{cron: scheduler}
	return nil
}

// StopAutoRefresh stops the job and waits for a running tick to finish.
func (c *Client) StopAutoRefresh() {
	c.cronMu.Lock()
	r := c.refresher
	c.refresher = nil
	c.cronMu.Unlock()
	if r == nil {
		return
	}
	<-r.cron.Stop().Done()
}

func (c *Client) refreshJob() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	if err := c.RefreshIfNeeded(ctx); err != nil {
		c.logger.Warn("supabase auto refresh failed", "error", err)
	}
}

// RefreshIfNeeded refreshes the held session when it expires within the
// configured margin.
func (c *Client) RefreshIfNeeded(ctx context.Context) error {
	session := c.currentSession(ctx)
	if session == nil || session.RefreshToken == "" {
		return nil
	}
	if !c.expiresSoon(session, c.config.RefreshMargin) {
		return nil
	}
	_, err := c.refresh(ctx, session.RefreshToken)
	return err
}
