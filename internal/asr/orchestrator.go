package asr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rbright/dictum/internal/observe"
)

// Strategy names reported in Result, logs, and metrics.
const (
	StrategyDirect     = "direct"
	StrategyContinuous = "continuous"
	StrategyIsolated   = "isolated"
)

const (
	defaultDirectTimeout     = 5 * time.Second
	defaultContinuousTimeout = 10 * time.Second
)

// Result is the winning transcript with attribution.
type Result struct {
	Text      string
	Service   string
	Strategy  string
	WordCount int
}

// Config bounds per-strategy recognition calls.
type Config struct {
	DirectTimeout     time.Duration
	ContinuousTimeout time.Duration
}

type candidate struct {
	text     string
	service  string
	strategy string
}

// Orchestrator drives conditioned audio through the configured service chain:
// per service Direct, then Continuous, then Isolated, stopping at the first
// usable transcript; later services run only while nothing usable exists.
type Orchestrator struct {
	services []Service
	pool     *ServiceHandlePool
	cfg      Config
	logger   *slog.Logger
	metrics  *observe.Metrics
}

// NewOrchestrator builds an orchestrator over services in fallback order.
func NewOrchestrator(services []Service, pool *ServiceHandlePool, cfg Config, logger *slog.Logger, metrics *observe.Metrics) *Orchestrator {
	if pool == nil {
		pool = NewServiceHandlePool(services, 0, 0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observe.Noop()
	}
	if cfg.DirectTimeout <= 0 {
		cfg.DirectTimeout = defaultDirectTimeout
	}
	if cfg.ContinuousTimeout <= 0 {
		cfg.ContinuousTimeout = defaultContinuousTimeout
	}
	return &Orchestrator{services: services, pool: pool, cfg: cfg, logger: logger, metrics: metrics}
}

// Pool exposes the handle pool for diagnostics.
func (o *Orchestrator) Pool() *ServiceHandlePool {
	return o.pool
}

// Recognize runs audio through the service chain and returns the strongest
// transcript. ErrNoMatch means every strategy legitimately produced nothing;
// a non-sentinel error means the chain was exhausted by real failures.
func (o *Orchestrator) Recognize(ctx context.Context, audio Audio, language string) (Result, error) {
	if len(o.services) == 0 {
		return Result{}, errors.New("no recognition services configured")
	}

	if o.pool.Due(time.Now()) {
		if err := o.pool.Reset(ctx); err != nil {
			o.logger.Warn("recycle recognition handles", slog.String("error", err.Error()))
		} else {
			o.logger.Info("recognition handles recycled")
		}
		o.metrics.ServiceResets.Add(ctx, 1)
	}
	o.pool.Note()

	var (
		candidates  []candidate
		failures    []error
		unavailable []error
		attempts    int
	)

	for _, svc := range o.services {
		if usableCandidate(candidates) || ctx.Err() != nil {
			break
		}
		outcome := o.runService(ctx, svc, audio, language)
		candidates = append(candidates, outcome.candidates...)
		failures = append(failures, outcome.failures...)
		attempts += outcome.attempts
		if outcome.unavailable != nil {
			unavailable = append(unavailable, outcome.unavailable)
		}
	}

	candidates = dedupeCandidates(candidates)
	if best, ok := pickBest(candidates, language); ok {
		result := Result{
			Text:      best.text,
			Service:   best.service,
			Strategy:  best.strategy,
			WordCount: len(strings.Fields(best.text)),
		}
		o.logger.Info("recognition selected",
			slog.String("service", result.Service),
			slog.String("strategy", result.Strategy),
			slog.Int("words", result.WordCount),
		)
		return result, nil
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if attempts == 0 && len(unavailable) > 0 {
		return Result{}, fmt.Errorf("no recognition service available: %w", errors.Join(unavailable...))
	}
	if attempts > 0 && len(failures) == attempts {
		return Result{}, fmt.Errorf("recognition chain exhausted: %w", errors.Join(failures...))
	}
	return Result{}, ErrNoMatch
}

// usableCandidate reports whether any collected candidate carries real text.
func usableCandidate(candidates []candidate) bool {
	for _, c := range candidates {
		if hasAlnum(c.text) {
			return true
		}
	}
	return false
}

type strategyCall struct {
	name    string
	timeout time.Duration
	run     func(context.Context) (string, error)
}

type serviceOutcome struct {
	candidates  []candidate
	failures    []error
	attempts    int
	unavailable error
}

// runService tries each strategy the service supports, stopping at the first
// transcript with alphanumeric content. Strategy errors are absorbed here;
// ErrUnavailable abandons the service entirely.
func (o *Orchestrator) runService(ctx context.Context, svc Service, audio Audio, language string) serviceOutcome {
	calls := []strategyCall{{
		name:    StrategyDirect,
		timeout: o.cfg.DirectTimeout,
		run: func(ctx context.Context) (string, error) {
			return svc.Recognize(ctx, audio, language)
		},
	}}
	if streamer, ok := svc.(Streamer); ok {
		calls = append(calls, strategyCall{
			name:    StrategyContinuous,
			timeout: o.cfg.ContinuousTimeout,
			run: func(ctx context.Context) (string, error) {
				return streamer.RecognizeStream(ctx, audio, language)
			},
		})
	}
	if isolator, ok := svc.(Isolator); ok {
		calls = append(calls, strategyCall{
			name:    StrategyIsolated,
			timeout: o.cfg.DirectTimeout,
			run: func(ctx context.Context) (string, error) {
				return isolator.RecognizeIsolated(ctx, audio, language)
			},
		})
	}

	var outcome serviceOutcome
	for _, call := range calls {
		if ctx.Err() != nil {
			return outcome
		}

		attemptCtx, cancel := context.WithTimeout(ctx, call.timeout)
		start := time.Now()
		text, err := call.run(attemptCtx)
		cancel()
		o.metrics.RecognizeDuration.Record(ctx, time.Since(start).Seconds())

		if errors.Is(err, ErrUnavailable) {
			o.logger.Info("recognition service unavailable", slog.String("service", svc.Name()))
			o.metrics.RecordAttempt(ctx, svc.Name(), call.name, "unavailable")
			outcome.unavailable = fmt.Errorf("%s: %w", svc.Name(), err)
			return outcome
		}

		outcome.attempts++

		if errors.Is(err, ErrNoMatch) {
			o.metrics.RecordAttempt(ctx, svc.Name(), call.name, "empty")
			continue
		}
		if err != nil {
			o.logger.Warn("recognition attempt failed",
				slog.String("service", svc.Name()),
				slog.String("strategy", call.name),
				slog.String("error", err.Error()),
			)
			o.metrics.RecordAttempt(ctx, svc.Name(), call.name, "error")
			outcome.failures = append(outcome.failures, fmt.Errorf("%s %s: %w", svc.Name(), call.name, err))
			continue
		}

		text = strings.TrimSpace(text)
		if text == "" {
			o.metrics.RecordAttempt(ctx, svc.Name(), call.name, "empty")
			continue
		}

		outcome.candidates = append(outcome.candidates, candidate{text: text, service: svc.Name(), strategy: call.name})
		o.metrics.RecordAttempt(ctx, svc.Name(), call.name, "match")
		if hasAlnum(text) {
			return outcome
		}
	}
	return outcome
}
