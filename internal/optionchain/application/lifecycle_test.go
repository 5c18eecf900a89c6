package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quantfold/optionvault/internal/optionchain/domain"
	"github.com/quantfold/optionvault/pkg/metrics"
)

var lifecycleNow = time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

func newTestLifecycleService(backend *memoryBackend) *LifecycleService {
	svc := NewLifecycleService(backend, metrics.New("test"), discardLogger())
	svc.now = func() time.Time { return lifecycleNow }
	return svc
}

func TestArchiveMovesOnlyContractsExpiredPastGrace(t *testing.T) {
	backend := newMemoryBackend()
	svc := newTestLifecycleService(backend)

	recent := lifecycleNow.Add(-time.Hour)

	expired8d := makeContract("AAPL", "2026-08-21", 150, domain.TypeCall)
	expired8d.UpdatedAt = recent
	seeded8d := backend.seed(expired8d)

	expired6d := makeContract("AAPL", "2026-08-23", 150, domain.TypePut)
	expired6d.UpdatedAt = recent
	backend.seed(expired6d)

	atCutoff := makeContract("AAPL", "2026-08-22", 155, domain.TypeCall)
	atCutoff.UpdatedAt = recent
	backend.seed(atCutoff)

	if err := svc.ArchiveExpiredAndCleanup(context.Background()); err != nil {
		t.Fatalf("ArchiveExpiredAndCleanup: %v", err)
	}

	if backend.get(expired8d.NaturalKey()) != nil {
		t.Fatal("contract expired 8 days ago must leave the live store")
	}
	if backend.get(expired6d.NaturalKey()) == nil {
		t.Fatal("contract expired 6 days ago must stay live")
	}
	if backend.get(atCutoff.NaturalKey()) == nil {
		t.Fatal("contract expiring exactly at the cutoff must stay live")
	}

	if len(backend.historical) != 1 {
		t.Fatalf("historical rows = %d, want 1", len(backend.historical))
	}
	archived := backend.historical[0]
	if archived.OriginalID != seeded8d.ID {
		t.Fatalf("original_id = %d, want %d", archived.OriginalID, seeded8d.ID)
	}
	if !archived.ArchivedAt.Equal(lifecycleNow) {
		t.Fatalf("archived_at = %v, want %v", archived.ArchivedAt, lifecycleNow)
	}
	if !archived.Strike.Equal(seeded8d.Strike) || archived.OptionType != seeded8d.OptionType {
		t.Fatalf("archived copy lost fields: %+v", archived)
	}

	wantLock := domain.DeriveLockID(domain.GlobalCleanupLockKey)
	if len(backend.globalLockIDs) != 1 || backend.globalLockIDs[0] != wantLock {
		t.Fatalf("global lock ids = %v, want [%d]", backend.globalLockIDs, wantLock)
	}
}

func TestStalePurgeBoundaries(t *testing.T) {
	backend := newMemoryBackend()
	svc := newTestLifecycleService(backend)

	stale31d := makeContract("MSFT", "2026-12-18", 400, domain.TypeCall)
	stale31d.UpdatedAt = lifecycleNow.AddDate(0, 0, -31)
	backend.seed(stale31d)

	stale29d := makeContract("MSFT", "2026-12-18", 410, domain.TypeCall)
	stale29d.UpdatedAt = lifecycleNow.AddDate(0, 0, -29)
	backend.seed(stale29d)

	if err := svc.ArchiveExpiredAndCleanup(context.Background()); err != nil {
		t.Fatalf("ArchiveExpiredAndCleanup: %v", err)
	}

	if backend.get(stale31d.NaturalKey()) != nil {
		t.Fatal("contract unrefreshed for 31 days must be purged")
	}
	if backend.get(stale29d.NaturalKey()) == nil {
		t.Fatal("contract refreshed 29 days ago must be retained")
	}
	if len(backend.historical) != 0 {
		t.Fatalf("stale purge must not archive, got %d historical rows", len(backend.historical))
	}
}

func TestStalePurgeSkipsConcurrentlyRefreshedRows(t *testing.T) {
	backend := newMemoryBackend()
	svc := newTestLifecycleService(backend)

	// updated_at 在删除语句内再次求值：刚刷新过的行即使进入过候选集也不会被删
	refreshed := makeContract("MSFT", "2026-12-18", 400, domain.TypeCall)
	refreshed.UpdatedAt = lifecycleNow.Add(-time.Minute)
	backend.seed(refreshed)

	if err := svc.ArchiveExpiredAndCleanup(context.Background()); err != nil {
		t.Fatalf("ArchiveExpiredAndCleanup: %v", err)
	}
	if backend.get(refreshed.NaturalKey()) == nil {
		t.Fatal("freshly refreshed row must survive the purge")
	}
}

func TestArchiveFailureRollsBackWholeRun(t *testing.T) {
	backend := newMemoryBackend()
	svc := newTestLifecycleService(backend)

	expired := makeContract("AAPL", "2026-08-10", 150, domain.TypeCall)
	expired.UpdatedAt = lifecycleNow.Add(-time.Hour)
	backend.seed(expired)

	stale := makeContract("AAPL", "2026-12-18", 160, domain.TypeCall)
	stale.UpdatedAt = lifecycleNow.AddDate(0, 0, -40)
	backend.seed(stale)

	boom := errors.New("history insert failed")
	backend.failArchive = boom

	err := svc.ArchiveExpiredAndCleanup(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want the archive failure", err)
	}

	// 整个事务回滚：存活行原样保留，历史表无残留
	if backend.liveCount() != 2 {
		t.Fatalf("live rows = %d, want 2 untouched rows", backend.liveCount())
	}
	if len(backend.historical) != 0 {
		t.Fatalf("historical rows = %d, want 0 after rollback", len(backend.historical))
	}
}
