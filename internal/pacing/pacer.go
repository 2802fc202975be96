package pacing

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/chongs12/contextual-kb/pkg/config"
)

// Pacer 控制相邻模型调用之间的节奏，避免触发上游限流
type Pacer interface {
	// Wait blocks until the next call is allowed or ctx is done.
	Wait(ctx context.Context) error
}

// FromConfig builds a pacer from the ingest pacing settings.
func FromConfig(cfg *config.IngestConfig) (Pacer, error) {
	switch cfg.PacingMode {
	case "off":
		return Nop{}, nil
	case "fixed":
		return NewFixedDelay(cfg.PacingDelay), nil
	case "rate":
		return NewRateLimited(cfg.PacingRPS, cfg.PacingBurst), nil
	default:
		return nil, fmt.Errorf("unknown pacing mode %q", cfg.PacingMode)
	}
}

// Nop never blocks.
type Nop struct{}

func (Nop) Wait(context.Context) error { return nil }

// FixedDelay sleeps a constant interval between calls. The first call
// passes immediately.
type FixedDelay struct {
	delay time.Duration
	first bool
}

func NewFixedDelay(delay time.Duration) *FixedDelay {
	return &FixedDelay{delay: delay, first: true}
}

func (p *FixedDelay) Wait(ctx context.Context) error {
	if p.first {
		p.first = false
		return nil
	}
	if p.delay <= 0 {
		return nil
	}
	t := time.NewTimer(p.delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RateLimited 令牌桶限速，rps 为平均速率，burst 为峰值额度
type RateLimited struct {
	limiter *rate.Limiter
}

func NewRateLimited(rps float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (p *RateLimited) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}
