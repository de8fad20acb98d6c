package buff

import (
	"context"
	"sync"

	"github.com/parkrow/estates/internal/models"
)

// Provider is the buff port. Buffs are earned through external progression
// systems; this service only reads them. Unknown accounts get the zero
// value, which means "no modifiers".
type Provider interface {
	Get(ctx context.Context, account models.AccountID) (models.Buffs, error)
}

// StaticProvider serves buffs from an in-process map. It backs tests and
// deployments where buffs are pushed in administratively rather than pulled
// from a progression backend.
type StaticProvider struct {
	mu    sync.RWMutex
	buffs map[models.AccountID]models.Buffs
}

// NewStaticProvider creates an empty provider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		buffs: make(map[models.AccountID]models.Buffs),
	}
}

// Set stores the buffs for an account, replacing any previous value.
func (p *StaticProvider) Set(account models.AccountID, b models.Buffs) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buffs[account] = b
}

// Get implements Provider.
func (p *StaticProvider) Get(_ context.Context, account models.AccountID) (models.Buffs, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.buffs[account], nil
}
