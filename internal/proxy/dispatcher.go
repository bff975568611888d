package proxy

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Fender1992/cachegpt/internal/apierr"
	"github.com/Fender1992/cachegpt/internal/provider"
)

// Dispatcher routes a request to the provider whose model-name prefix
// matches and executes it behind a per-provider circuit breaker.
type Dispatcher struct {
	providers []provider.Provider
	breakers  map[string]*gobreaker.CircuitBreaker
}

func NewDispatcher(providers []provider.Provider) *Dispatcher {
	breakers := make(map[string]*gobreaker.CircuitBreaker)
	for _, p := range providers {
		settings := gobreaker.Settings{
			Name:        p.Name(),
			MaxRequests: 3,
			Interval:    5 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}
		breakers[p.Name()] = gobreaker.NewCircuitBreaker(settings)
	}
	return &Dispatcher{
		providers: providers,
		breakers:  breakers,
	}
}

// Resolve picks the provider for a model name by prefix match. An unknown
// model is a client error, not an upstream one.
func (d *Dispatcher) Resolve(model string) (provider.Provider, *apierr.Error) {
	for _, p := range d.providers {
		for _, prefix := range p.ModelPrefixes() {
			if strings.HasPrefix(model, prefix) {
				return p, nil
			}
		}
	}
	return nil, apierr.Validation("unsupported model: " + model)
}

// Dispatch resolves and executes a completion. The returned cost is what
// the upstream call priced at the provider's per-token rates.
func (d *Dispatcher) Dispatch(ctx context.Context, req *provider.Request) (*provider.Response, float64, *apierr.Error) {
	p, derr := d.Resolve(req.Model)
	if derr != nil {
		return nil, 0, derr
	}

	cb := d.breakers[p.Name()]
	start := time.Now()
	result, err := cb.Execute(func() (interface{}, error) {
		return p.Complete(ctx, req)
	})
	if err != nil {
		return nil, 0, classify(p.Name(), err)
	}

	resp := result.(*provider.Response)
	resp.LatencyMs = time.Since(start).Milliseconds()
	cost := float64(resp.InputTokens)*p.CostPerInputToken() + float64(resp.OutputTokens)*p.CostPerOutputToken()
	return resp, cost, nil
}

// DispatchStream resolves and opens a streaming completion. Errors observed
// on the stream still count against the breaker.
func (d *Dispatcher) DispatchStream(ctx context.Context, req *provider.Request) (<-chan *provider.Chunk, *apierr.Error) {
	p, derr := d.Resolve(req.Model)
	if derr != nil {
		return nil, derr
	}

	cb := d.breakers[p.Name()]
	if cb.State() == gobreaker.StateOpen {
		return nil, apierr.Upstream("provider "+p.Name()+" is unavailable", gobreaker.ErrOpenState)
	}

	origCh, err := p.CompleteStream(ctx, req)
	if err != nil {
		_, _ = cb.Execute(func() (interface{}, error) {
			return nil, err
		})
		return nil, classify(p.Name(), err)
	}

	wrappedCh := make(chan *provider.Chunk)
	go func() {
		defer close(wrappedCh)
		for chunk := range origCh {
			if chunk.Err != nil {
				_, _ = cb.Execute(func() (interface{}, error) {
					return nil, chunk.Err
				})
			}
			select {
			case wrappedCh <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	return wrappedCh, nil
}

// classify maps upstream failures onto the error taxonomy: timeouts and
// credential rejections get their own codes, everything else is a generic
// upstream failure.
func classify(providerName string, err error) *apierr.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apierr.UpstreamTimeout(err)
	}

	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return apierr.UpstreamAuth(err)
		}
	}

	return apierr.Upstream("upstream call to "+providerName+" failed", err)
}
