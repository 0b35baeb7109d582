package driver

import (
	"time"

	"github.com/autograph/gnnsearch/internal/config"
)

// SafetyMargin is the time reserved at the end of a budget for ensembling
// and teardown: the small margin below the threshold, the large one at or
// above it, never more than half the budget.
func SafetyMargin(budget time.Duration, cfg config.DriverConfig) time.Duration {
	margin := cfg.LargeMargin
	if budget < cfg.MarginThreshold {
		margin = cfg.SmallMargin
	}
	if half := budget / 2; margin > half {
		margin = half
	}
	if margin < 0 {
		margin = 0
	}
	return margin
}
