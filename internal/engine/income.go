package engine

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/parkrow/estates/internal/buff"
	"github.com/parkrow/estates/internal/config"
	"github.com/parkrow/estates/internal/logger"
	"github.com/parkrow/estates/internal/models"
	"github.com/parkrow/estates/internal/registry"
)

// IncomeEngine accrues rental income for owned, tax-active properties on a
// single global tick. Buffs scale the drawn amount and the pending-income
// cap per owner; the tick interval itself is global.
type IncomeEngine struct {
	log      *logger.Logger
	registry *registry.Registry
	buffs    buff.Provider
	cfg      config.IncomeConfig
	levels   []config.LevelTier
	timing   models.TaxTiming

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewIncomeEngine wires an income engine. The RNG is injected so tests can
// seed it for deterministic draws.
func NewIncomeEngine(
	log *logger.Logger,
	reg *registry.Registry,
	buffs buff.Provider,
	cfg config.IncomeConfig,
	levels []config.LevelTier,
	timing models.TaxTiming,
	rng *rand.Rand,
) *IncomeEngine {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &IncomeEngine{
		log:      log,
		registry: reg,
		buffs:    buffs,
		cfg:      cfg,
		levels:   levels,
		timing:   timing,
		rng:      rng,
	}
}

// Tick accrues income for every eligible property. Failures on a single
// property are logged and do not affect the rest of the tick.
func (e *IncomeEngine) Tick(ctx context.Context, now time.Time) {
	for _, id := range e.registry.IDs() {
		if err := e.accrue(ctx, id, now); err != nil {
			e.log.Error("income accrual failed", err, map[string]interface{}{
				"property_id": string(id),
			})
		}
	}
}

func (e *IncomeEngine) accrue(ctx context.Context, id models.PropertyID, now time.Time) error {
	snapshot, err := e.registry.Get(id)
	if err != nil {
		return nil
	}
	if !snapshot.Owned() {
		return nil
	}
	// Inactive properties earn nothing until taxes are settled.
	if models.ComputeTaxStatus(&snapshot, now, e.timing) >= models.TaxStatusInactive {
		return nil
	}
	owner := *snapshot.OwnerID

	buffs, err := e.buffs.Get(ctx, owner)
	if err != nil {
		return err
	}

	tier, ok := tierFor(e.levels, snapshot.Level)
	if !ok {
		e.log.Warn("property level outside level table", map[string]interface{}{
			"property_id": string(id),
			"level":       snapshot.Level,
		})
		return nil
	}

	draw := e.uniform(tier.MinIncome, tier.MaxIncome)
	amount := models.Scale(draw, 1+buffs.IncomeAmountBonus)
	if amount <= 0 {
		return nil
	}

	var capLimit int64
	if e.cfg.Capacity > 0 {
		capLimit = models.Scale(e.cfg.Capacity, 1+buffs.IncomeCapacityBonus)
	}

	_, err = e.registry.Update(id, func(p *models.Property) error {
		if !p.OwnedBy(owner) {
			return registry.ErrNoChange
		}
		next := p.PendingIncome + amount
		if capLimit > 0 && next > capLimit {
			next = capLimit
		}
		// Never claw back income that is already above a shrunken cap.
		if next <= p.PendingIncome {
			return registry.ErrNoChange
		}
		p.PendingIncome = next
		return nil
	})
	return err
}

// uniform draws an integer amount in [min, max] under the RNG lock.
func (e *IncomeEngine) uniform(min, max int64) int64 {
	if max <= min {
		return min
	}
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return min + e.rng.Int63n(max-min+1)
}

func tierFor(levels []config.LevelTier, level int) (config.LevelTier, bool) {
	if level < 1 || level > len(levels) {
		return config.LevelTier{}, false
	}
	return levels[level-1], true
}
