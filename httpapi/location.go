package httpapi

import (
	"net/url"
	"sync"
)

// postedLocation is a landing URL handed over by the client. Replace
// records the scrubbed URL so it can be returned.
type postedLocation struct {
	mu sync.Mutex
	u  *url.URL
}

func newPostedLocation(raw string) (*postedLocation, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &postedLocation{u: u}, nil
}

func (l *postedLocation) URL() *url.URL {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *l.u
	return &cp
}

func (l *postedLocation) Replace(u *url.URL) {
	if u == nil {
		return
	}
	l.mu.Lock()
	cp := *u
	l.u = &cp
	l.mu.Unlock()
}
