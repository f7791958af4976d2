package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/oliveagle/jsonpath"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spec-kit/approval-service/internal/trigger"
)

// apiConfig.Extract maps output names to jsonpath expressions evaluated
// against the decoded response body.
type apiConfig struct {
	Method  string            `json:"method"`
	URL     string            `json:"url" validate:"required,url"`
	Headers map[string]string `json:"headers"`
	Body    any               `json:"body"`
	Extract map[string]string `json:"extract"`
}

// APIOptions tunes outbound throttling and breaking. BreakerFailures
// consecutive failures open a host's breaker for BreakerTimeout.
type APIOptions struct {
	RatePerSecond   float64
	Burst           int
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// APIHandler calls arbitrary HTTP endpoints. Calls share one rate limiter
// and each host gets its own circuit breaker.
type APIHandler struct {
	limiter  *rate.Limiter
	opts     APIOptions
	logger   *zap.Logger
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewAPIHandler constructs the api handler with a shared rate limiter.
func NewAPIHandler(opts APIOptions, logger *zap.Logger) *APIHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	return &APIHandler{
		limiter:  rate.NewLimiter(limit, opts.Burst),
		opts:     opts,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Name returns the binding name "api".
func (h *APIHandler) Name() string { return "api" }

// Execute calls the configured endpoint through its host breaker. Non-2xx
// responses are failures.
func (h *APIHandler) Execute(ctx context.Context, inv trigger.Invocation) (map[string]any, error) {
	var cfg apiConfig
	if err := bindConfig(inv, &cfg); err != nil {
		return nil, err
	}
	method := strings.ToUpper(strings.TrimSpace(cfg.Method))
	if method == "" {
		method = fiber.MethodPost
	}
	target, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	if err := h.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	result, err := h.breaker(target.Host).Execute(func() (interface{}, error) {
		resp, err := send(ctx, outboundRequest{Method: method, URL: cfg.URL, Headers: cfg.Headers, Body: cfg.Body})
		if err != nil {
			return nil, err
		}
		if resp.Status < 200 || resp.Status >= 300 {
			return resp, fmt.Errorf("%s %s returned %d", method, target.Redacted(), resp.Status)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	resp := result.(*outboundResponse)

	output := map[string]any{"status": resp.Status}
	var decoded any
	if err := json.Unmarshal(resp.Body, &decoded); err == nil {
		output["response"] = decoded
	} else {
		output["response"] = string(resp.Body)
	}
	if len(cfg.Extract) > 0 {
		extracted := make(map[string]any, len(cfg.Extract))
		for name, path := range cfg.Extract {
			value, err := jsonpath.JsonPathLookup(decoded, path)
			if err != nil {
				h.logger.Debug("api extract missed", zap.String("name", name), zap.String("path", path), zap.Error(err))
				continue
			}
			extracted[name] = value
		}
		output["extracted"] = extracted
	}
	return output, nil
}

func (h *APIHandler) breaker(host string) *gobreaker.CircuitBreaker {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cb, ok := h.breakers[host]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "trigger-api:" + host,
		MaxRequests: 1,
		Timeout:     h.opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= h.opts.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			h.logger.Warn("circuit breaker state change", zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	h.breakers[host] = cb
	return cb
}
