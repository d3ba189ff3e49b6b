// Package cost prices gated invocations before the user is asked to approve
// them. Estimates are advisory; a failure never blocks a turn.
package cost

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/chasecyang/shotrio-sub004/internal/domain"
	"github.com/chasecyang/shotrio-sub004/internal/validation"
)

// DefaultCurrency is used when no currency is configured.
const DefaultCurrency = "credits"

// pricer converts a unit rate and arguments into an amount plus a short
// human readable breakdown.
type pricer func(rate float64, args map[string]any) (float64, string, error)

// Estimator prices invocations from per-operation unit rates. It is safe for
// concurrent use once built.
type Estimator struct {
	currency string
	rates    map[string]float64
	pricers  map[string]pricer
	logger   *slog.Logger
}

// NewEstimator copies rates so later changes to the map do not leak in.
func NewEstimator(currency string, rates map[string]float64, logger *slog.Logger) *Estimator {
	if currency == "" {
		currency = DefaultCurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	copied := make(map[string]float64, len(rates))
	for k, v := range rates {
		copied[k] = v
	}
	return &Estimator{
		currency: currency,
		rates:    copied,
		logger:   logger,
		pricers: map[string]pricer{
			"generate_image": perUnit("count", 1, "image"),
			"generate_video": perUnit("duration_seconds", 5, "second"),
			"generate_audio": perStartedBlock("duration_seconds", 10, 10),
		},
	}
}

// Estimate prices invocations. It returns nil when pricing fails for any
// reason, including a panic in a pricer.
func (e *Estimator) Estimate(invocations []domain.OperationInvocation) (est *domain.CostEstimate) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("cost estimation panicked", "panic", fmt.Sprint(r))
			est = nil
		}
	}()

	out := &domain.CostEstimate{Currency: e.currency, Items: make([]domain.CostItem, 0, len(invocations))}
	for _, inv := range invocations {
		item, err := e.price(inv)
		if err != nil {
			e.logger.Warn("cost estimation failed", "operation", inv.Name, "tool_call_id", inv.ID, "error", err)
			return nil
		}
		out.Items = append(out.Items, item)
		out.Total += item.Amount
	}
	return out
}

func (e *Estimator) price(inv domain.OperationInvocation) (domain.CostItem, error) {
	item := domain.CostItem{ToolCallID: inv.ID, Operation: inv.Name}
	rate, ok := e.rates[inv.Name]
	if !ok || rate == 0 {
		return item, nil
	}

	args := inv.ParsedArguments
	if args == nil {
		parsed, err := validation.ParseArguments(inv.RawArguments)
		if err != nil {
			return item, fmt.Errorf("parsing arguments: %w", err)
		}
		args = parsed
	}

	p, ok := e.pricers[inv.Name]
	if !ok {
		item.Amount = rate
		item.Detail = fmt.Sprintf("flat %g", rate)
		return item, nil
	}
	amount, detail, err := p(rate, args)
	if err != nil {
		return item, err
	}
	item.Amount = amount
	item.Detail = detail
	return item, nil
}

func perUnit(key string, def float64, unit string) pricer {
	return func(rate float64, args map[string]any) (float64, string, error) {
		n, err := number(args, key, def)
		if err != nil {
			return 0, "", err
		}
		return rate * n, fmt.Sprintf("%g %s(s) x %g", n, unit, rate), nil
	}
}

func perStartedBlock(key string, def, block float64) pricer {
	return func(rate float64, args map[string]any) (float64, string, error) {
		n, err := number(args, key, def)
		if err != nil {
			return 0, "", err
		}
		blocks := math.Ceil(n / block)
		return rate * blocks, fmt.Sprintf("%g block(s) of %gs x %g", blocks, block, rate), nil
	}
}

func number(args map[string]any, key string, def float64) (float64, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return def, nil
	}
	var n float64
	switch v := raw.(type) {
	case float64:
		n = v
	case int64:
		n = float64(v)
	case int:
		n = float64(v)
	default:
		return 0, fmt.Errorf("%s is not a number", key)
	}
	if n < 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("%s is out of range", key)
	}
	return n, nil
}
