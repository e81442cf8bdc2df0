// Package compare fans one input out to several providers in a single
// remote call and ranks the outcomes by a cost/latency heuristic.
package compare

import (
	"context"

	"valueprop-client/internal/common/logger"
	"valueprop-client/internal/common/metrics"
	"valueprop-client/internal/models"
	"valueprop-client/internal/workflow/classify"
	"valueprop-client/internal/workflow/client"
	"valueprop-client/internal/workflow/validate"
)

// ProviderOutcome is one provider's settled entry in a comparison run.
// Err is set only when the entry's shape could not be classified; a
// normal failure (rejection, provider error) lives inside Outcome.
type ProviderOutcome struct {
	Provider models.Provider
	Outcome  *classify.Outcome
	Err      error
}

// Comparison is the ranked view of one parallel run.
type Comparison struct {
	Outcomes []ProviderOutcome

	// Recommended is the approved provider with the lowest cost, ties
	// broken by latency. Nil when no provider was approved; callers must
	// handle that case explicitly rather than defaulting to any entry.
	Recommended *models.Provider
}

// Entry returns one provider's outcome, nil when absent.
func (c *Comparison) Entry(provider models.Provider) *ProviderOutcome {
	for i := range c.Outcomes {
		if c.Outcomes[i].Provider == provider {
			return &c.Outcomes[i]
		}
	}
	return nil
}

type Aggregator struct {
	exec client.Executor
	log  logger.Logger
}

func NewAggregator(exec client.Executor, log logger.Logger) *Aggregator {
	return &Aggregator{exec: exec, log: log}
}

// Run executes one comparison. The parallel call either fails as a
// whole (returned error) or yields one entry per requested provider;
// entries settle independently, so one provider's failure never hides
// its siblings.
func (a *Aggregator) Run(ctx context.Context, in models.RawInput, providers []models.Provider) (*Comparison, error) {
	if len(providers) == 0 {
		providers = append([]models.Provider(nil), models.DefaultParallelProviders...)
	}
	if err := validate.ProviderSet(providers); err != nil {
		return nil, err
	}

	parallel, err := a.exec.ExecuteParallel(ctx, in, providers)
	if err != nil {
		return nil, err
	}

	cmp := &Comparison{Outcomes: make([]ProviderOutcome, 0, len(parallel.Order))}
	for _, p := range parallel.Order {
		entry := ProviderOutcome{Provider: p}
		outcome, cErr := classify.Classify(parallel.Entry(p), nil)
		if cErr != nil {
			entry.Err = cErr
			a.log.Error("comparison entry could not be classified", map[string]interface{}{
				"provider": string(p),
				"error":    cErr.Error(),
			})
		} else {
			entry.Outcome = outcome
			metrics.RunsSettled.WithLabelValues(string(p), outcome.Kind.String()).Inc()
		}
		cmp.Outcomes = append(cmp.Outcomes, entry)
	}

	cmp.Recommended = recommend(cmp.Outcomes)
	return cmp, nil
}

// recommend picks the approved entry with the lowest cost, then the
// lowest latency. Unapproved and unclassifiable entries are displayed
// but never recommended.
func recommend(outcomes []ProviderOutcome) *models.Provider {
	var best *ProviderOutcome
	for i := range outcomes {
		o := &outcomes[i]
		if o.Outcome == nil || o.Outcome.Kind != classify.KindApproved {
			continue
		}
		if best == nil || better(o, best) {
			best = o
		}
	}
	if best == nil {
		return nil
	}
	p := best.Provider
	return &p
}

func better(a, b *ProviderOutcome) bool {
	ar, br := a.Outcome.Result, b.Outcome.Result
	if ar.TotalCostUSD != br.TotalCostUSD {
		return ar.TotalCostUSD < br.TotalCostUSD
	}
	return ar.TotalLatencyMS < br.TotalLatencyMS
}
