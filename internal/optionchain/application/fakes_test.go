package application

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/quantfold/optionvault/internal/optionchain/domain"
	"github.com/shopspring/decimal"
)

// memoryBackend implements domain.ContractRepository and
// domain.MaintenanceRepository with upsert/transaction semantics matching the
// Postgres implementation closely enough for coordinator-level tests.
type memoryBackend struct {
	mu         sync.Mutex
	contracts  map[string]*domain.OptionContract
	historical []*domain.HistoricalOptionContract
	runs       map[string]*domain.MaintenanceRun
	nextID     uint

	chainLockIDs  []int32
	globalLockIDs []int32
	batchSizes    []int
	statsCalls    int

	failUpsertFor   map[string]error
	failUpsertTimes map[string]int
	failUpsertErr   error
	failArchive     error
	failPurge       error
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{
		contracts:       make(map[string]*domain.OptionContract),
		runs:            make(map[string]*domain.MaintenanceRun),
		failUpsertFor:   make(map[string]error),
		failUpsertTimes: make(map[string]int),
	}
}

func cloneContract(c *domain.OptionContract) *domain.OptionContract {
	cp := *c
	return &cp
}

func (b *memoryBackend) liveCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.contracts)
}

func (b *memoryBackend) seed(c *domain.OptionContract) *domain.OptionContract {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	stored := cloneContract(c)
	stored.ID = b.nextID
	b.contracts[stored.NaturalKey()] = stored
	return cloneContract(stored)
}

func (b *memoryBackend) get(key string) *domain.OptionContract {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.contracts[key]; ok {
		return cloneContract(c)
	}
	return nil
}

// --- domain.ContractRepository ---

func (b *memoryBackend) WithChainLock(ctx context.Context, lockID int32, fn func(tx domain.ContractTx) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chainLockIDs = append(b.chainLockIDs, lockID)

	tx := &memContractTx{backend: b, pending: make(map[string]*domain.OptionContract)}
	if err := fn(tx); err != nil {
		return err
	}
	for key, c := range tx.pending {
		b.contracts[key] = c
	}
	return nil
}

func (b *memoryBackend) FindLive(ctx context.Context, symbol string, expiration *time.Time) ([]*domain.OptionContract, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*domain.OptionContract
	for _, c := range b.contracts {
		if c.Symbol != symbol {
			continue
		}
		if expiration != nil && !c.ExpirationDate.Equal(*expiration) {
			continue
		}
		out = append(out, cloneContract(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpirationDate.Equal(out[j].ExpirationDate) {
			return out[i].ExpirationDate.Before(out[j].ExpirationDate)
		}
		if !out[i].Strike.Equal(out[j].Strike) {
			return out[i].Strike.LessThan(out[j].Strike)
		}
		return out[i].OptionType < out[j].OptionType
	})
	return out, nil
}

func (b *memoryBackend) DeleteBySymbol(ctx context.Context, symbol string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, c := range b.contracts {
		if c.Symbol == symbol {
			delete(b.contracts, key)
		}
	}
	return nil
}

type memContractTx struct {
	backend *memoryBackend
	pending map[string]*domain.OptionContract
}

func (t *memContractTx) UpsertContracts(ctx context.Context, contracts []*domain.OptionContract) error {
	if len(contracts) == 0 {
		return nil
	}
	t.backend.batchSizes = append(t.backend.batchSizes, len(contracts))

	date := contracts[0].ExpirationDate.Format("2006-01-02")
	if err := t.backend.failUpsertFor[date]; err != nil {
		return err
	}
	if n := t.backend.failUpsertTimes[date]; n > 0 {
		t.backend.failUpsertTimes[date] = n - 1
		return t.backend.failUpsertErr
	}

	for _, c := range contracts {
		key := c.NaturalKey()
		existing := t.pending[key]
		if existing == nil {
			existing = t.backend.contracts[key]
		}
		if existing != nil {
			updated := cloneContract(existing)
			updated.Bid = c.Bid
			updated.Ask = c.Ask
			updated.LastPrice = c.LastPrice
			updated.Volume = c.Volume
			updated.OpenInterest = c.OpenInterest
			updated.ImpliedVolatility = c.ImpliedVolatility
			updated.Delta = c.Delta
			updated.Gamma = c.Gamma
			updated.Theta = c.Theta
			updated.Vega = c.Vega
			updated.UpdatedAt = c.UpdatedAt
			t.pending[key] = updated
			continue
		}
		t.backend.nextID++
		inserted := cloneContract(c)
		inserted.ID = t.backend.nextID
		inserted.CreatedAt = c.UpdatedAt
		t.pending[key] = inserted
	}
	return nil
}

// --- domain.MaintenanceRepository ---

func (b *memoryBackend) WithGlobalLock(ctx context.Context, lockID int32, fn func(tx domain.MaintenanceTx) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.globalLockIDs = append(b.globalLockIDs, lockID)

	tx := &memMaintenanceTx{
		backend:    b,
		contracts:  make(map[string]*domain.OptionContract, len(b.contracts)),
		historical: append([]*domain.HistoricalOptionContract(nil), b.historical...),
		runs:       make(map[string]*domain.MaintenanceRun, len(b.runs)),
	}
	for k, v := range b.contracts {
		tx.contracts[k] = cloneContract(v)
	}
	for k, v := range b.runs {
		run := *v
		tx.runs[k] = &run
	}

	if err := fn(tx); err != nil {
		return err
	}

	b.contracts = tx.contracts
	b.historical = tx.historical
	b.runs = tx.runs
	return nil
}

type memMaintenanceTx struct {
	backend    *memoryBackend
	contracts  map[string]*domain.OptionContract
	historical []*domain.HistoricalOptionContract
	runs       map[string]*domain.MaintenanceRun
}

func (t *memMaintenanceTx) AcquireLock(ctx context.Context, lockID int32) error {
	t.backend.globalLockIDs = append(t.backend.globalLockIDs, lockID)
	return nil
}

func (t *memMaintenanceTx) FindExpiredBefore(ctx context.Context, cutoff time.Time) ([]*domain.OptionContract, error) {
	var out []*domain.OptionContract
	for _, c := range t.contracts {
		if c.ExpirationDate.Before(cutoff) {
			out = append(out, cloneContract(c))
		}
	}
	return out, nil
}

func (t *memMaintenanceTx) ArchiveContracts(ctx context.Context, contracts []*domain.OptionContract, archivedAt time.Time) (int64, error) {
	if t.backend.failArchive != nil {
		return 0, t.backend.failArchive
	}
	var moved int64
	for _, c := range contracts {
		t.historical = append(t.historical, domain.NewHistoricalContract(c, archivedAt))
		for key, live := range t.contracts {
			if live.ID == c.ID {
				delete(t.contracts, key)
				moved++
			}
		}
	}
	return moved, nil
}

func (t *memMaintenanceTx) PurgeStale(ctx context.Context, staleCutoff, notExpiredSince time.Time) (int64, error) {
	if t.backend.failPurge != nil {
		return 0, t.backend.failPurge
	}
	var purged int64
	for key, c := range t.contracts {
		if c.UpdatedAt.Before(staleCutoff) && !c.ExpirationDate.Before(notExpiredSince) {
			delete(t.contracts, key)
			purged++
		}
	}
	return purged, nil
}

func (t *memMaintenanceTx) LiveStats(ctx context.Context) (int64, int64, error) {
	t.backend.statsCalls++
	symbols := make(map[string]struct{})
	for _, c := range t.contracts {
		symbols[c.Symbol] = struct{}{}
	}
	return int64(len(t.contracts)), int64(len(symbols)), nil
}

func (t *memMaintenanceTx) LastRun(ctx context.Context, name string) (*domain.MaintenanceRun, error) {
	if run, ok := t.runs[name]; ok {
		cp := *run
		return &cp, nil
	}
	return nil, nil
}

func (t *memMaintenanceTx) RecordRun(ctx context.Context, run *domain.MaintenanceRun) error {
	cp := *run
	t.runs[run.Name] = &cp
	return nil
}

// --- helpers shared by service tests ---

func mustDate(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		t.Fatalf("bad date %q: %v", value, err)
	}
	return parsed
}

func makeContract(symbol, date string, strike float64, optionType domain.OptionType) *domain.OptionContract {
	expiration, _ := time.Parse("2006-01-02", date)
	return &domain.OptionContract{
		Symbol:         symbol,
		ExpirationDate: expiration,
		Strike:         decimal.NewFromFloat(strike),
		OptionType:     optionType,
		Bid:            decimal.NewFromFloat(1.05),
		Ask:            decimal.NewFromFloat(1.10),
		LastPrice:      decimal.NewFromFloat(1.07),
		Volume:         120,
		OpenInterest:   350,
	}
}

func makeChain(symbol, date string, n int) []*domain.OptionContract {
	contracts := make([]*domain.OptionContract, 0, n)
	for i := 0; i < n; i++ {
		optionType := domain.TypeCall
		if i%2 == 1 {
			optionType = domain.TypePut
		}
		contracts = append(contracts, makeContract(symbol, date, 100+float64(i), optionType))
	}
	return contracts
}

type fakeCache struct {
	mu          sync.Mutex
	data        map[string][]*domain.OptionContract
	invalidated []string
	sets        int
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]*domain.OptionContract)}
}

func (c *fakeCache) Get(ctx context.Context, symbol string) ([]*domain.OptionContract, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[symbol], nil
}

func (c *fakeCache) Set(ctx context.Context, symbol string, contracts []*domain.OptionContract) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.data[symbol] = contracts
	return nil
}

func (c *fakeCache) Invalidate(ctx context.Context, symbol string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, symbol)
	delete(c.data, symbol)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.ChainUpdatedEvent
}

func (p *fakePublisher) PublishChainUpdated(ctx context.Context, event domain.ChainUpdatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}
