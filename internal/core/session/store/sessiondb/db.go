package sessiondb

import (
	"context"

	"github.com/gowvp/lumen/internal/core/session"
	"github.com/ixugo/goddd/pkg/orm"
	"gorm.io/gorm"
)

var _ session.Storer = DB{}

// DB Related business namespaces
type DB struct {
	db *gorm.DB
}

// NewDB instance object
func NewDB(db *gorm.DB) DB {
	return DB{db: db}
}

// Session Get business instance
func (d DB) Session() session.SessionStorer {
	return (Session)(d)
}

// AutoMigrate sync database
func (d DB) AutoMigrate(ok bool) DB {
	if !ok {
		return d
	}
	if err := d.db.AutoMigrate(
		new(session.Session),
	); err != nil {
		panic(err)
	}
	return d
}

func apply(db *gorm.DB, opts []orm.QueryOption) *gorm.DB {
	for _, fn := range opts {
		db = fn(db)
	}
	return db
}

// transaction 在事务中依次执行
func transaction(ctx context.Context, db *gorm.DB, fns ...func(*gorm.DB) error) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, fn := range fns {
			if err := fn(tx); err != nil {
				return err
			}
		}
		return nil
	})
}
