package collector

import (
	"context"
	"fmt"

	"github.com/songzhibin97/quantaguard/internal/data"
	"github.com/songzhibin97/quantaguard/internal/models"
)

// DerivativesCollector refreshes funding rate and open interest for a set
// of symbols, taking the first source that answers.
type DerivativesCollector struct {
	sources []DataSource
	symbols []string
	sink    data.DerivativesSink
	logger  Logger
}

type Logger interface {
	Error(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
}

type DataSource interface {
	Name() string
	CollectDerivatives(ctx context.Context, symbol string) (*models.DerivativesStats, error)
}

func NewDerivativesCollector(sources []DataSource, symbols []string, sink data.DerivativesSink, logger Logger) *DerivativesCollector {
	return &DerivativesCollector{
		sources: sources,
		symbols: symbols,
		sink:    sink,
		logger:  logger,
	}
}

// CollectDerivatives asks each source in order.
func (c *DerivativesCollector) CollectDerivatives(ctx context.Context, symbol string) (*models.DerivativesStats, error) {
	for _, source := range c.sources {
		result, err := source.CollectDerivatives(ctx, symbol)
		if err == nil && result != nil {
			return result, nil
		}
		c.logger.Error("failed to collect derivatives", "source", source.Name(), "symbol", symbol, "error", err)
	}

	return nil, fmt.Errorf("failed to collect derivatives for %s from all sources", symbol)
}

// Refresh implements data.Refresher. One symbol failing does not stop the others.
func (c *DerivativesCollector) Refresh(ctx context.Context) error {
	var failed int
	for _, symbol := range c.symbols {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		stats, err := c.CollectDerivatives(ctx, symbol)
		if err != nil {
			failed++
			continue
		}
		c.sink.SetDerivativesStats(symbol, stats.FundingRate, stats.OpenInterest)
	}

	c.logger.Info("derivatives refreshed", "symbols", len(c.symbols), "failed", failed)
	if failed > 0 {
		return fmt.Errorf("derivatives refresh failed for %d of %d symbols", failed, len(c.symbols))
	}
	return nil
}
