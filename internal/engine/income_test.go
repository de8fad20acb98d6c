package engine

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkrow/estates/internal/buff"
	"github.com/parkrow/estates/internal/config"
	"github.com/parkrow/estates/internal/logger"
	"github.com/parkrow/estates/internal/models"
	"github.com/parkrow/estates/internal/registry"
)

type incomeFixture struct {
	engine   *IncomeEngine
	registry *registry.Registry
	buffs    *buff.StaticProvider
}

func newIncomeFixture(t *testing.T, capacity int64) *incomeFixture {
	t.Helper()
	log := logger.New("test")
	f := &incomeFixture{
		registry: registry.New(log),
		buffs:    buff.NewStaticProvider(),
	}
	cfg := config.IncomeConfig{
		TickInterval: time.Minute,
		Capacity:     capacity,
	}
	timing := models.TaxTiming{
		GracePeriod:         3 * 24 * time.Hour,
		InactiveGracePeriod: 3 * 24 * time.Hour,
	}
	f.engine = NewIncomeEngine(log, f.registry, f.buffs, cfg, config.DefaultLevels(), timing, rand.New(rand.NewSource(42)))
	return f
}

func TestIncomeEngine_AccruesWithinTierRange(t *testing.T) {
	f := newIncomeFixture(t, 0)
	ctx := context.Background()
	addOwnedProperty(t, f.registry, "A1", "alice", 10000, 1000)

	f.engine.Tick(ctx, day(1))

	p, err := f.registry.Get("A1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, p.PendingIncome, int64(50))
	assert.LessOrEqual(t, p.PendingIncome, int64(100))

	// A second tick adds on top.
	first := p.PendingIncome
	f.engine.Tick(ctx, day(1))
	p, err = f.registry.Get("A1")
	require.NoError(t, err)
	assert.Greater(t, p.PendingIncome, first)
}

func TestIncomeEngine_HigherLevelEarnsMore(t *testing.T) {
	f := newIncomeFixture(t, 0)
	ctx := context.Background()
	owner := models.AccountID("alice")
	require.NoError(t, f.registry.Create(models.Property{
		ID:               "A5",
		OwnerID:          &owner,
		Price:            10000,
		BaseTax:          1000,
		TaxPeriodDays:    3,
		Level:            5,
		LastTaxPaymentAt: testBase,
	}))

	f.engine.Tick(ctx, day(1))

	p, err := f.registry.Get("A5")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, p.PendingIncome, int64(340))
	assert.LessOrEqual(t, p.PendingIncome, int64(550))
}

func TestIncomeEngine_AmountBonusScalesDraw(t *testing.T) {
	f := newIncomeFixture(t, 0)
	ctx := context.Background()
	addOwnedProperty(t, f.registry, "A1", "alice", 10000, 1000)
	f.buffs.Set("alice", models.Buffs{IncomeAmountBonus: 1.0})

	f.engine.Tick(ctx, day(1))

	p, err := f.registry.Get("A1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, p.PendingIncome, int64(100))
	assert.LessOrEqual(t, p.PendingIncome, int64(200))
}

func TestIncomeEngine_CapacityCapsPendingIncome(t *testing.T) {
	f := newIncomeFixture(t, 120)
	ctx := context.Background()
	addOwnedProperty(t, f.registry, "A1", "alice", 10000, 1000)

	for i := 0; i < 10; i++ {
		f.engine.Tick(ctx, day(1))
	}

	p, err := f.registry.Get("A1")
	require.NoError(t, err)
	assert.Equal(t, int64(120), p.PendingIncome)
}

func TestIncomeEngine_CapacityBuffRaisesCap(t *testing.T) {
	f := newIncomeFixture(t, 120)
	ctx := context.Background()
	addOwnedProperty(t, f.registry, "A1", "alice", 10000, 1000)
	f.buffs.Set("alice", models.Buffs{IncomeCapacityBonus: 0.5})

	for i := 0; i < 10; i++ {
		f.engine.Tick(ctx, day(1))
	}

	p, err := f.registry.Get("A1")
	require.NoError(t, err)
	assert.Equal(t, int64(180), p.PendingIncome)
}

func TestIncomeEngine_NeverReducesPendingAboveCap(t *testing.T) {
	f := newIncomeFixture(t, 120)
	ctx := context.Background()
	addOwnedProperty(t, f.registry, "A1", "alice", 10000, 1000)

	// Pending already above the cap, e.g. placed there before the cap was
	// lowered. Ticks must not claw it back.
	_, err := f.registry.Update("A1", func(p *models.Property) error {
		p.PendingIncome = 500
		return nil
	})
	require.NoError(t, err)

	f.engine.Tick(ctx, day(1))

	p, err := f.registry.Get("A1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), p.PendingIncome)
}

func TestIncomeEngine_SkipsUnownedAndInactive(t *testing.T) {
	f := newIncomeFixture(t, 0)
	ctx := context.Background()

	// Unowned pool property.
	require.NoError(t, f.registry.Create(models.Property{
		ID:               "P1",
		Price:            10000,
		BaseTax:          1000,
		TaxPeriodDays:    3,
		LastTaxPaymentAt: testBase,
	}))

	// Owned but inactive for non-payment.
	addOwnedProperty(t, f.registry, "A1", "alice", 10000, 1000)
	inactive := day(0)
	_, err := f.registry.Update("A1", func(p *models.Property) error {
		p.Invoices = append(p.Invoices, models.TaxInvoice{ID: "inv-1", Amount: 1000, CreatedAt: day(0)})
		p.InactiveSince = &inactive
		return nil
	})
	require.NoError(t, err)

	f.engine.Tick(ctx, day(1))

	p1, err := f.registry.Get("P1")
	require.NoError(t, err)
	assert.Zero(t, p1.PendingIncome)

	a1, err := f.registry.Get("A1")
	require.NoError(t, err)
	assert.Zero(t, a1.PendingIncome)
}

func TestIncomeEngine_SeededRunsAreDeterministic(t *testing.T) {
	run := func() int64 {
		f := newIncomeFixture(t, 0)
		addOwnedProperty(t, f.registry, "A1", "alice", 10000, 1000)
		for i := 0; i < 5; i++ {
			f.engine.Tick(context.Background(), day(1))
		}
		p, err := f.registry.Get("A1")
		require.NoError(t, err)
		return p.PendingIncome
	}

	assert.Equal(t, run(), run())
}
