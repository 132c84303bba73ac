package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultCooldown is how long a failed provider stays marked down.
const DefaultCooldown = 60 * time.Second

// Failover tries providers in order, skipping ones recently marked down.
// A provider switch happens only before the first emitted chunk; once a
// stream has started, errors propagate to the caller.
type Failover struct {
	providers []Provider
	cooldown  time.Duration
	now       func() time.Time

	mu        sync.Mutex
	downUntil map[string]time.Time
}

// NewFailover wraps providers in priority order.
func NewFailover(providers []Provider, cooldown time.Duration) *Failover {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Failover{
		providers: providers,
		cooldown:  cooldown,
		now:       time.Now,
		downUntil: make(map[string]time.Time),
	}
}

func (f *Failover) Name() string { return "failover" }

func (f *Failover) DefaultModel() string {
	if len(f.providers) > 0 {
		return f.providers[0].DefaultModel()
	}
	return ""
}

func (f *Failover) available() []Provider {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	var out []Provider
	for _, p := range f.providers {
		if until, ok := f.downUntil[p.Name()]; ok && now.Before(until) {
			continue
		}
		out = append(out, p)
	}
	// All down: try everything anyway rather than failing outright.
	if len(out) == 0 {
		out = f.providers
	}
	return out
}

func (f *Failover) markDown(p Provider) {
	f.mu.Lock()
	f.downUntil[p.Name()] = f.now().Add(f.cooldown)
	f.mu.Unlock()
	slog.Warn("provider marked down", "provider", p.Name(), "cooldown", f.cooldown)
}

func (f *Failover) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var lastErr error
	for _, p := range f.available() {
		resp, err := p.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		f.markDown(p)
	}
	if lastErr == nil {
		lastErr = errors.New("no providers configured")
	}
	return nil, fmt.Errorf("all providers failed: %w", lastErr)
}

func (f *Failover) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	var lastErr error
	for _, p := range f.available() {
		emitted := false
		guarded := func(c StreamChunk) {
			emitted = true
			if onChunk != nil {
				onChunk(c)
			}
		}
		resp, err := p.ChatStream(ctx, req, guarded)
		if err == nil {
			return resp, nil
		}
		if emitted || ctx.Err() != nil {
			// Mid-stream failure: no silent retry after the caller has
			// already seen output.
			return nil, err
		}
		lastErr = err
		f.markDown(p)
	}
	if lastErr == nil {
		lastErr = errors.New("no providers configured")
	}
	return nil, fmt.Errorf("all providers failed: %w", lastErr)
}
