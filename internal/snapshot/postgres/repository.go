package postgres

import (
	"context"
	"errors"

	snapshotDatamodel "github.com/frahmantamala/familyguard/internal/core/datamodel/snapshot"
	"github.com/frahmantamala/familyguard/internal/snapshot"
	"gorm.io/gorm"
)

type SnapshotRepository struct {
	db *gorm.DB
}

func NewSnapshotRepository(db *gorm.DB) snapshot.RepositoryAPI {
	return &SnapshotRepository{db: db}
}

func (r *SnapshotRepository) Save(ctx context.Context, s *snapshotDatamodel.StateSnapshot) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(s).Error
	})
}

func (r *SnapshotRepository) Latest(ctx context.Context) (*snapshotDatamodel.StateSnapshot, error) {
	var s snapshotDatamodel.StateSnapshot
	err := r.db.WithContext(ctx).
		Preload("Entries").
		Order("created_at DESC").
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *SnapshotRepository) Get(ctx context.Context, id string) (*snapshotDatamodel.StateSnapshot, error) {
	var s snapshotDatamodel.StateSnapshot
	err := r.db.WithContext(ctx).
		Preload("Entries").
		Where("id = ?", id).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// List returns snapshot headers without entries, newest first.
func (r *SnapshotRepository) List(ctx context.Context, limit int) ([]*snapshotDatamodel.StateSnapshot, error) {
	var out []*snapshotDatamodel.StateSnapshot
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// Prune keeps the newest keep snapshots and deletes the rest.
func (r *SnapshotRepository) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}

	var ids []string
	err := r.db.WithContext(ctx).
		Model(&snapshotDatamodel.StateSnapshot{}).
		Order("created_at DESC").
		Pluck("id", &ids).Error
	if err != nil || len(ids) <= keep {
		return 0, err
	}
	stale := ids[keep:]

	var removed int64
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("snapshot_id IN ?", stale).Delete(&snapshotDatamodel.SnapshotEntry{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", stale).Delete(&snapshotDatamodel.StateSnapshot{})
		removed = res.RowsAffected
		return res.Error
	})
	return removed, err
}
