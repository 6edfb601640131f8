package asr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	defaultPoolMaxCalls = 50
	defaultPoolMaxAge   = 30 * time.Minute
)

// ServiceHandlePool bounds how long recognizer SDK handles live before a
// forced re-initialization, so long-running daemons do not accumulate state
// inside provider clients.
type ServiceHandlePool struct {
	services []Service
	maxCalls int
	maxAge   time.Duration

	mu        sync.Mutex
	attached  []attachedHandle
	calls     int
	lastReset time.Time
}

type attachedHandle struct {
	name   string
	handle Resettable
}

// NewServiceHandlePool wraps services with an expiry policy. Non-positive
// limits fall back to 50 calls / 30 minutes.
func NewServiceHandlePool(services []Service, maxCalls int, maxAge time.Duration) *ServiceHandlePool {
	if maxCalls <= 0 {
		maxCalls = defaultPoolMaxCalls
	}
	if maxAge <= 0 {
		maxAge = defaultPoolMaxAge
	}
	return &ServiceHandlePool{
		services:  services,
		maxCalls:  maxCalls,
		maxAge:    maxAge,
		lastReset: time.Now(),
	}
}

// Attach registers an extra handle, such as the translation client, that
// recycles alongside the recognizer services.
func (p *ServiceHandlePool) Attach(name string, handle Resettable) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attached = append(p.attached, attachedHandle{name: name, handle: handle})
}

// Note records one recognition call against the pool.
func (p *ServiceHandlePool) Note() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
}

// Due reports whether the pool has hit its call-count or age limit.
func (p *ServiceHandlePool) Due(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls >= p.maxCalls || now.Sub(p.lastReset) >= p.maxAge
}

// Stats returns the calls since the last reset and when that reset happened.
func (p *ServiceHandlePool) Stats() (calls int, lastReset time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls, p.lastReset
}

// Reset recycles every resettable service handle and zeroes the counters.
// Per-service failures are joined; the counters reset regardless so one
// broken service cannot wedge the pool into resetting on every call.
func (p *ServiceHandlePool) Reset(ctx context.Context) error {
	p.mu.Lock()
	p.calls = 0
	p.lastReset = time.Now()
	services := p.services
	attached := p.attached
	p.mu.Unlock()

	var errs []error
	for _, svc := range services {
		r, ok := svc.(Resettable)
		if !ok {
			continue
		}
		if err := r.Reset(ctx); err != nil {
			errs = append(errs, fmt.Errorf("reset %s: %w", svc.Name(), err))
		}
	}
	for _, a := range attached {
		if err := a.handle.Reset(ctx); err != nil {
			errs = append(errs, fmt.Errorf("reset %s: %w", a.name, err))
		}
	}
	return errors.Join(errs...)
}
