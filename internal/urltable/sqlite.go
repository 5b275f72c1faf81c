package urltable

import (
	"context"
	"fmt"

	"github.com/mirrorctl/mirrorctl/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SQLiteTable is a durable Table backed by the `urls` and `visits` tables of
// §6, opened in WAL mode for concurrent reader/writer access from the
// worker pool. Grounded on nabbar-golib/database/gorm's config/driver split,
// adapted to this package's fixed two-table schema instead of a generic
// connection manager.
type SQLiteTable struct {
	db *gorm.DB
}

// OpenSQLite opens (creating if needed) a WAL-mode SQLite database at dsn
// and migrates the urls/visits schema.
func OpenSQLite(dsn string) (*SQLiteTable, error) {
	db, err := gorm.Open(sqlite.Open(dsn+"?_journal_mode=WAL&_busy_timeout=5000"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite url table: %w", err)
	}
	if err := db.AutoMigrate(&types.URLRecord{}, &types.Visit{}); err != nil {
		return nil, fmt.Errorf("migrate url table schema: %w", err)
	}
	return &SQLiteTable{db: db}, nil
}

func (t *SQLiteTable) AddMany(ctx context.Context, records []*types.URLRecord) (int, error) {
	inserted := 0
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, r := range records {
			res := tx.Where("url = ?", r.URL).FirstOrCreate(r.Clone())
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				inserted++
			}
		}
		return nil
	})
	return inserted, err
}

func (t *SQLiteTable) CheckOut(ctx context.Context, status types.Status, n int) ([]*types.URLRecord, error) {
	var out []*types.URLRecord
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidates []types.URLRecord
		if err := tx.Where("status = ?", status).Limit(n).Find(&candidates).Error; err != nil {
			return err
		}
		for i := range candidates {
			candidates[i].Status = types.StatusInProgress
			if err := tx.Save(&candidates[i]).Error; err != nil {
				return err
			}
			out = append(out, candidates[i].Clone())
		}
		return nil
	})
	return out, err
}

func (t *SQLiteTable) CheckIn(ctx context.Context, url string, status types.Status) error {
	return t.db.WithContext(ctx).Model(&types.URLRecord{}).Where("url = ?", url).
		Update("status", status).Error
}

func (t *SQLiteTable) UpdateOne(ctx context.Context, url string, status types.Status, statusCode int) error {
	updates := map[string]any{"status": status, "status_code": statusCode}
	if status == types.StatusError {
		return t.db.WithContext(ctx).Exec(
			"UPDATE url_records SET status = ?, status_code = ?, try_count = try_count + 1 WHERE url = ?",
			status, statusCode, url,
		).Error
	}
	return t.db.WithContext(ctx).Model(&types.URLRecord{}).Where("url = ?", url).Updates(updates).Error
}

func (t *SQLiteTable) Release(ctx context.Context, url string, status types.Status) error {
	return t.CheckIn(ctx, url, status)
}

func (t *SQLiteTable) ResetInProgress(ctx context.Context) (int, error) {
	res := t.db.WithContext(ctx).Model(&types.URLRecord{}).
		Where("status = ?", types.StatusInProgress).
		Update("status", types.StatusTodo)
	return int(res.RowsAffected), res.Error
}

func (t *SQLiteTable) AddVisits(ctx context.Context, visits []*types.Visit) error {
	if len(visits) == 0 {
		return nil
	}
	return t.db.WithContext(ctx).Clauses().Create(&visits).Error
}

func (t *SQLiteTable) GetRevisitID(ctx context.Context, payloadDigest string) (string, bool, error) {
	var v types.Visit
	err := t.db.WithContext(ctx).Where("payload_digest = ?", payloadDigest).First(&v).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", false, nil
		}
		return "", false, err
	}
	return v.WARCID, true, nil
}

func (t *SQLiteTable) Get(ctx context.Context, url string) (*types.URLRecord, bool, error) {
	var r types.URLRecord
	err := t.db.WithContext(ctx).Where("url = ?", url).First(&r).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &r, true, nil
}

func (t *SQLiteTable) Count(ctx context.Context, status types.Status) (int, error) {
	var n int64
	err := t.db.WithContext(ctx).Model(&types.URLRecord{}).Where("status = ?", status).Count(&n).Error
	return int(n), err
}

func (t *SQLiteTable) Close() error {
	sqlDB, err := t.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
