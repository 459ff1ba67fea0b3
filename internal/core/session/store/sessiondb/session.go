package sessiondb

import (
	"context"

	"github.com/gowvp/lumen/internal/core/session"
	"github.com/ixugo/goddd/pkg/orm"
	"gorm.io/gorm"
)

var _ session.SessionStorer = Session{}

// Session Related business namespaces
type Session DB

// NewSession instance object
func NewSession(db *gorm.DB) Session {
	return Session{db: db}
}

// Find implements session.SessionStorer.
func (d Session) Find(ctx context.Context, bs *[]*session.Session, page orm.Pager, opts ...orm.QueryOption) (int64, error) {
	query := func() *gorm.DB {
		return apply(d.db.WithContext(ctx).Model(new(session.Session)), opts)
	}
	var total int64
	if err := query().Count(&total).Error; err != nil || total == 0 {
		return total, err
	}
	db := query()
	if page != nil {
		db = db.Limit(page.Limit()).Offset(page.Offset())
	}
	return total, db.Find(bs).Error
}

// Get implements session.SessionStorer.
func (d Session) Get(ctx context.Context, model *session.Session, opts ...orm.QueryOption) error {
	return apply(d.db.WithContext(ctx), opts).First(model).Error
}

// Add implements session.SessionStorer.
func (d Session) Add(ctx context.Context, model *session.Session) error {
	return d.db.WithContext(ctx).Create(model).Error
}

// Edit implements session.SessionStorer.
func (d Session) Edit(ctx context.Context, model *session.Session, changeFn func(*session.Session), opts ...orm.QueryOption) error {
	return transaction(ctx, d.db, func(tx *gorm.DB) error {
		if err := apply(tx, opts).First(model).Error; err != nil {
			return err
		}
		changeFn(model)
		return tx.Save(model).Error
	})
}

// Del implements session.SessionStorer.
func (d Session) Del(ctx context.Context, model *session.Session, opts ...orm.QueryOption) error {
	return apply(d.db.WithContext(ctx), opts).Delete(model).Error
}

// Count implements session.SessionStorer.
func (d Session) Count(ctx context.Context, opts ...orm.QueryOption) (int64, error) {
	var total int64
	err := apply(d.db.WithContext(ctx).Model(new(session.Session)), opts).Count(&total).Error
	return total, err
}

// Session implements session.SessionStorer.
func (d Session) Session(ctx context.Context, fns ...func(*gorm.DB) error) error {
	return transaction(ctx, d.db, fns...)
}
