package api

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gowvp/lumen/internal/conf"
	"github.com/gowvp/lumen/internal/core/session"
	"github.com/gowvp/lumen/internal/core/session/store/sessiondb"
	"github.com/ixugo/goddd/pkg/orm"
	"gorm.io/gorm"
)

// slowFindStorer 查询阻塞到 ctx 取消，之后再模拟一段删除耗时
type slowFindStorer struct {
	session.SessionStorer
	started  chan struct{}
	once     *sync.Once
	finished *atomic.Bool
}

func (s slowFindStorer) Find(ctx context.Context, _ *[]*session.Session, _ orm.Pager, _ ...orm.QueryOption) (int64, error) {
	s.once.Do(func() { close(s.started) })
	<-ctx.Done()
	time.Sleep(50 * time.Millisecond)
	s.finished.Store(true)
	return 0, ctx.Err()
}

type slowFindStore struct {
	sessiondb.DB
	s slowFindStorer
}

func (s slowFindStore) Session() session.SessionStorer { return s.s }

func TestSessionCoreCleanupWaitsForWorker(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}
	base := sessiondb.NewDB(db).AutoMigrate(true)
	store := slowFindStore{
		DB: base,
		s: slowFindStorer{
			SessionStorer: base.Session(),
			started:       make(chan struct{}),
			once:          new(sync.Once),
			finished:      new(atomic.Bool),
		},
	}

	bc := conf.DefaultConfig()
	bc.Capture.DataDir = filepath.Join(t.TempDir(), "sessions")
	bc.Retention.RetainDays = 1
	bc.Retention.DiskUsageThreshold = 0

	_, cleanup := NewSessionCore(store, &bc, slog.Default())
	select {
	case <-store.s.started:
	case <-time.After(5 * time.Second):
		cleanup()
		t.Fatal("cleanup worker never queried the catalog")
	}

	cleanup()
	if !store.s.finished.Load() {
		t.Fatal("cleanup returned before the worker finished")
	}
}
