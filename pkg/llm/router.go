package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/majordome-ai/majordome/pkg/config"
)

const providerRetries = 2

// tierRuntime is one tier's client plus its runtime guards.
type tierRuntime struct {
	client  Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// Router maps logical tiers (fast, balanced, strong) to provider clients.
// Each tier carries its own token bucket and circuit breaker, so a melting
// provider on one tier never starves the others.
type Router struct {
	tiers  map[string]*tierRuntime
	logger *slog.Logger
}

// NewRouter binds tier names to clients using the configured guards.
func NewRouter(clients map[string]Client, bindings map[string]*config.TierBinding, logger *slog.Logger) (*Router, error) {
	r := &Router{
		tiers:  make(map[string]*tierRuntime, len(clients)),
		logger: logger.With("component", "model_router"),
	}

	for tier, client := range clients {
		if !config.IsValidTier(tier) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTier, tier)
		}
		binding := bindings[tier]
		if binding == nil {
			binding = config.DefaultTierBinding(client.Name())
		}

		failureLimit := uint32(binding.BreakerFailures)
		breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "llm-" + tier,
			Timeout: binding.BreakerCooldown(),
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failureLimit
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				r.logger.Warn("Tier breaker state changed",
					"breaker", name, "from", from.String(), "to", to.String())
			},
		})

		r.tiers[tier] = &tierRuntime{
			client:  client,
			limiter: rate.NewLimiter(rate.Limit(float64(binding.RequestsPerMinute)/60.0), binding.Burst),
			breaker: breaker,
		}
	}
	return r, nil
}

// Call completes a request at the given tier. Provider failures are retried
// a small number of times; what survives comes back wrapped in
// ErrProviderError. A full bucket maps to ErrRateLimited, an open breaker to
// ErrBreakerOpen.
func (r *Router) Call(ctx context.Context, tier string, req Request) (Response, error) {
	rt, ok := r.tiers[tier]
	if !ok {
		return Response{}, fmt.Errorf("%w: %s", ErrUnknownTier, tier)
	}

	if err := rt.limiter.Wait(ctx); err != nil {
		return Response{}, fmt.Errorf("%w: tier %s: %v", ErrRateLimited, tier, err)
	}

	start := time.Now()
	result, err := rt.breaker.Execute(func() (any, error) {
		return r.callWithRetries(ctx, rt.client, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Response{}, fmt.Errorf("%w: tier %s", ErrBreakerOpen, tier)
		}
		return Response{}, err
	}

	resp := result.(Response)
	r.logger.Debug("Model call completed",
		"tier", tier,
		"provider", rt.client.Name(),
		"tokens", resp.TokensUsed,
		"duration_ms", time.Since(start).Milliseconds())
	return resp, nil
}

func (r *Router) callWithRetries(ctx context.Context, client Client, req Request) (Response, error) {
	var lastErr error
	for attempt := 0; attempt <= providerRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return Response{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err := client.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		// Provider-side throttling and context expiry are not worth
		// hammering with immediate retries.
		if errors.Is(err, ErrRateLimited) || ctx.Err() != nil {
			return Response{}, err
		}
	}
	return Response{}, fmt.Errorf("%w: %s: %v", ErrProviderError, client.Name(), lastErr)
}

// NextTier returns the next tier up the escalation ladder, or "" at the top.
func NextTier(tier string) string {
	switch tier {
	case config.TierFast:
		return config.TierBalanced
	case config.TierBalanced:
		return config.TierStrong
	default:
		return ""
	}
}

// ScoredCall is the outcome of CallWithEscalation: the response, the tier
// that produced it, and the score the caller's scorer assigned.
type ScoredCall struct {
	Response Response
	Tier     string
	Score    float64
}

// CallWithEscalation runs the adaptive escalation rule: call the tier, score
// the response, and when the score falls below threshold re-run once at the
// next tier up, keeping whichever response scored higher. Scorers return
// ok=false for responses they could not score; those never escalate.
func (r *Router) CallWithEscalation(ctx context.Context, tier string, req Request, threshold float64,
	score func(Response) (float64, bool)) (ScoredCall, error) {

	resp, err := r.Call(ctx, tier, req)
	if err != nil {
		// An open breaker on this tier escalates instead of failing.
		if errors.Is(err, ErrBreakerOpen) {
			if next := NextTier(tier); next != "" {
				r.logger.Info("Escalating past open breaker", "from", tier, "to", next)
				return r.CallWithEscalation(ctx, next, req, threshold, score)
			}
		}
		return ScoredCall{}, err
	}

	first := ScoredCall{Response: resp, Tier: tier}
	s, ok := score(resp)
	if !ok {
		return first, nil
	}
	first.Score = s

	next := NextTier(tier)
	if s >= threshold || next == "" {
		return first, nil
	}

	r.logger.Info("Escalating low-confidence call",
		"from", tier, "to", next, "score", s, "threshold", threshold)

	retried, err := r.Call(ctx, next, req)
	if err != nil {
		// The first answer stands when the higher tier is unavailable.
		r.logger.Warn("Escalation failed, keeping lower-tier response",
			"tier", next, "error", err)
		return first, nil
	}

	second := ScoredCall{Response: retried, Tier: next}
	if s2, ok := score(retried); ok {
		second.Score = s2
	}
	if second.Score >= first.Score {
		return second, nil
	}
	return first, nil
}

// BreakerStates reports each tier's breaker state for the health endpoint.
func (r *Router) BreakerStates() map[string]string {
	states := make(map[string]string, len(r.tiers))
	for tier, rt := range r.tiers {
		states[tier] = rt.breaker.State().String()
	}
	return states
}

// Tiers lists the bound tier names.
func (r *Router) Tiers() []string {
	tiers := make([]string, 0, len(r.tiers))
	for tier := range r.tiers {
		tiers = append(tiers, tier)
	}
	return tiers
}
