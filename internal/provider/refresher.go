package provider

import (
	"context"
	"log"
	"time"
)

// Refresher proactively re-authenticates sessions nearing expiry so the
// morning tour fetch never pays login latency. One goroutine, ticker-driven.
type Refresher struct {
	Sessions *SessionManager
	Every    time.Duration
	Ahead    time.Duration // refresh when less than this remains
	Stop     chan struct{}
}

func NewRefresher(sessions *SessionManager) *Refresher {
	return &Refresher{
		Sessions: sessions,
		Every:    time.Minute,
		Ahead:    5 * time.Minute,
		Stop:     make(chan struct{}),
	}
}

func (r *Refresher) Start() {
	go func() {
		ticker := time.NewTicker(r.Every)
		defer ticker.Stop()
		for {
			select {
			case <-r.Stop:
				return
			case <-ticker.C:
				r.runOnce()
			}
		}
	}()
}

func (r *Refresher) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, tenant := range r.Sessions.Tenants() {
		if !r.Sessions.ExpiringWithin(ctx, tenant, r.Ahead) {
			continue
		}
		r.Sessions.Invalidate(ctx, tenant)
		if _, err := r.Sessions.Session(ctx, tenant); err != nil {
			log.Printf("session refresh failed for %s: %v", tenant, err)
		}
	}
}
