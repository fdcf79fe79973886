// persistence/gorm_postgresql.go
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/wfunc/babyfoot/apperr"
	"github.com/wfunc/babyfoot/broadcast"
	"github.com/wfunc/babyfoot/logger"
	"github.com/wfunc/babyfoot/models"
)

// ChangeChannel is the Postgres NOTIFY channel carrying document changes.
const ChangeChannel = "babyfoot_changes"

// change 通知负载，只携带定位信息，订阅方再读取完整文档
type change struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Version    int64  `json:"version"`
	Deleted    bool   `json:"deleted,omitempty"`
}

// GormStore 使用GORM的PostgreSQL文档存储
type GormStore struct {
	db  *gorm.DB
	hub broadcast.Broadcaster
}

// PostgresDSN builds the keyword/value connection string shared by gorm and
// the lib/pq listener.
func PostgresDSN(host string, port int, user, password, dbname, sslmode string) string {
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode)
}

// OpenGormStore 创建GORM PostgreSQL连接并迁移表结构
func OpenGormStore(dsn string, hub broadcast.Broadcaster) (*GormStore, error) {
	// 配置GORM日志
	gormLogger := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold: time.Second,
			LogLevel:      gormlogger.Silent,
			Colorful:      false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStoreUnavailable, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// 设置连接池
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&models.GormDocument{}); err != nil {
		return nil, err
	}
	return NewGormStore(db, hub), nil
}

func NewGormStore(db *gorm.DB, hub broadcast.Broadcaster) *GormStore {
	if hub == nil {
		hub = broadcast.NewHub()
	}
	return &GormStore{db: db, hub: hub}
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", apperr.ErrStoreUnavailable, err)
}

func toDocument(row *models.GormDocument) *Document {
	fields := map[string]string{}
	if row.PinCode != "" {
		fields[models.FieldPinCode] = row.PinCode
	}
	if row.Status != "" {
		fields[models.FieldStatus] = row.Status
	}
	return &Document{
		Collection: row.Collection,
		ID:         row.DocID,
		Version:    row.Version,
		Fields:     fields,
		Data:       row.Data,
		UpdatedAt:  row.UpdatedAt,
	}
}

// column maps an indexed field onto its table column.
func column(field string) (string, error) {
	switch field {
	case models.FieldPinCode:
		return "pin_code", nil
	case models.FieldStatus:
		return "status", nil
	}
	return "", fmt.Errorf("%s: %w", field, ErrUnknownField)
}

func (p *GormStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	var row models.GormDocument
	err := p.db.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", collection, id).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrRecordNotFound)
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return toDocument(&row), nil
}

func (p *GormStore) Create(ctx context.Context, doc *Document) error {
	row := models.GormDocument{
		Collection: doc.Collection,
		DocID:      doc.ID,
		Version:    1,
		PinCode:    doc.Fields[models.FieldPinCode],
		Status:     doc.Fields[models.FieldStatus],
		Data:       doc.Data,
	}
	err := p.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%s/%s: %w", doc.Collection, doc.ID, ErrAlreadyExists)
	}
	if err != nil {
		return unavailable(err)
	}
	doc.Version = row.Version
	doc.UpdatedAt = row.UpdatedAt
	p.published(ctx, doc.snapshot())
	return nil
}

// Update is a conditional UPDATE on the version column; zero rows affected
// means either the document is gone or another writer bumped the version.
func (p *GormStore) Update(ctx context.Context, doc *Document, expectedVersion int64) error {
	now := time.Now()
	result := p.db.WithContext(ctx).
		Model(&models.GormDocument{}).
		Where("collection = ? AND doc_id = ? AND version = ?", doc.Collection, doc.ID, expectedVersion).
		Updates(map[string]interface{}{
			"version":    expectedVersion + 1,
			"pin_code":   doc.Fields[models.FieldPinCode],
			"status":     doc.Fields[models.FieldStatus],
			"data":       doc.Data,
			"updated_at": now,
		})
	if result.Error != nil {
		return unavailable(result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := p.Get(ctx, doc.Collection, doc.ID); err != nil {
			return err
		}
		return ErrVersionConflict
	}
	doc.Version = expectedVersion + 1
	doc.UpdatedAt = now
	p.published(ctx, doc.snapshot())
	return nil
}

func (p *GormStore) Delete(ctx context.Context, collection, id string) error {
	current, err := p.Get(ctx, collection, id)
	if err != nil {
		return err
	}
	result := p.db.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", collection, id).
		Delete(&models.GormDocument{})
	if result.Error != nil {
		return unavailable(result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrRecordNotFound)
	}
	p.published(ctx, broadcast.Snapshot{Collection: collection, ID: id, Version: current.Version + 1, Deleted: true})
	return nil
}

func (p *GormStore) Query(ctx context.Context, collection string, filters ...Filter) ([]*Document, error) {
	q := p.db.WithContext(ctx).Where("collection = ?", collection)
	for _, f := range filters {
		col, err := column(f.Field)
		if err != nil {
			return nil, err
		}
		if f.Op == OpIn {
			q = q.Where(col+" IN ?", f.Values)
		} else {
			q = q.Where(col+" = ?", f.Values[0])
		}
	}

	var rows []models.GormDocument
	if err := q.Order("doc_id").Find(&rows).Error; err != nil {
		return nil, unavailable(err)
	}
	docs := make([]*Document, 0, len(rows))
	for i := range rows {
		docs = append(docs, toDocument(&rows[i]))
	}
	return docs, nil
}

func (p *GormStore) Subscribe(collection, id string, fn func(broadcast.Snapshot)) func() {
	return p.hub.Subscribe(broadcast.Topic(collection, id), fn)
}

// published 本地广播后再通过 pg_notify 通知其他节点
func (p *GormStore) published(ctx context.Context, snap broadcast.Snapshot) {
	p.hub.Publish(snap)

	payload, err := json.Marshal(change{Collection: snap.Collection, ID: snap.ID, Version: snap.Version, Deleted: snap.Deleted})
	if err != nil {
		return
	}
	if err := p.db.WithContext(ctx).Exec("SELECT pg_notify(?, ?)", ChangeChannel, string(payload)).Error; err != nil {
		// 通知失败不影响写入结果，其他节点会在下一次变更时追上
		logger.Log.Warnf("pg_notify %s/%s: %v", snap.Collection, snap.ID, err)
	}
}

func (p *GormStore) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
