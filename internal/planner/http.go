package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/evoswarm/evoswarm/internal/config"
)

// Circuit breaker thresholds for the planning service.
const (
	breakerMinRequests     = 5
	breakerFailureRatio    = 0.6
	breakerOpenTimeout     = 30 * time.Second
	breakerHalfOpenMaxReqs = 2
	breakerCountInterval   = 60 * time.Second
)

// HTTPPlanner posts goal text plus the capability catalog to an external
// planning service. All calls run through a circuit breaker so a dead
// service degrades to ErrPlanningUnavailable instead of stalling ticks.
type HTTPPlanner struct {
	endpoint string
	model    string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	fallback Planner
	log      zerolog.Logger
}

type planRequest struct {
	Goal    string         `json:"goal"`
	Model   string         `json:"model,omitempty"`
	Catalog []CatalogEntry `json:"catalog"`
}

// NewHTTPPlanner builds a planner client. With an empty endpoint every call
// degrades straight to the fallback; pass nil fallback to disable that.
func NewHTTPPlanner(cfg config.PlannerConfig, fallback Planner, log zerolog.Logger) *HTTPPlanner {
	p := &HTTPPlanner{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		client:   &http.Client{Timeout: cfg.Timeout},
		fallback: fallback,
		log:      log.With().Str("component", "planner").Logger(),
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "planner",
		MaxRequests: breakerHalfOpenMaxReqs,
		Interval:    breakerCountInterval,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= breakerMinRequests && failureRatio >= breakerFailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.log.Warn().Str("from", from.String()).Str("to", to.String()).
				Msg("planner breaker state changed")
		},
	})
	return p
}

// Plan asks the service for a plan, falling back to the static planner when
// the service or breaker refuses.
func (p *HTTPPlanner) Plan(ctx context.Context, goal string, catalog []CatalogEntry) (*Plan, error) {
	if p.endpoint == "" {
		return p.degrade(ctx, goal, catalog, fmt.Errorf("no planner endpoint configured"))
	}

	out, err := p.breaker.Execute(func() (interface{}, error) {
		return p.post(ctx, goal, catalog)
	})
	if err != nil {
		return p.degrade(ctx, goal, catalog, err)
	}
	return out.(*Plan), nil
}

func (p *HTTPPlanner) post(ctx context.Context, goal string, catalog []CatalogEntry) (*Plan, error) {
	body, err := json.Marshal(planRequest{Goal: goal, Model: p.model, Catalog: catalog})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal plan request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build plan request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("planning service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("planning service returned %d: %s", resp.StatusCode, data)
	}

	var plan Plan
	if err := json.NewDecoder(resp.Body).Decode(&plan); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}
	if len(plan.Steps) == 0 {
		return nil, fmt.Errorf("planning service returned an empty plan")
	}
	return &plan, nil
}

func (p *HTTPPlanner) degrade(ctx context.Context, goal string, catalog []CatalogEntry, cause error) (*Plan, error) {
	if p.fallback == nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanningUnavailable, cause)
	}
	p.log.Debug().Err(cause).Msg("falling back to static planner")
	plan, err := p.fallback.Plan(ctx, goal, catalog)
	if err != nil {
		return nil, err
	}
	return plan, nil
}
