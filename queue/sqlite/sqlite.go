package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/poundifdef/queuecheck/models"
)

type Config struct {
	Path     string
	TenantID int64
}

// SQLiteBroker browses a smoothmq SQLite store directly. The database is opened
// read-only, so the probe can never change the queue it inspects.
type SQLiteBroker struct {
	cfg Config
}

type SQLiteSession struct {
	db       *gorm.DB
	tenantID int64
}

// Queue mirrors the smoothmq queues table.
type Queue struct {
	ID       int64  `gorm:"column:id"`
	TenantID int64  `gorm:"column:tenant_id"`
	Name     string `gorm:"column:name"`
	Paused   bool   `gorm:"column:paused"`
}

func (Queue) TableName() string {
	return "queues"
}

// Message mirrors the columns of the smoothmq messages table the count needs.
type Message struct {
	ID        int64 `gorm:"column:id"`
	TenantID  int64 `gorm:"column:tenant_id"`
	QueueID   int64 `gorm:"column:queue_id"`
	DeliverAt int64 `gorm:"column:deliver_at"`
	Tries     int   `gorm:"column:tries"`
	MaxTries  int   `gorm:"column:max_tries"`
}

func (Message) TableName() string {
	return "messages"
}

func NewSQLiteBroker(cfg Config) *SQLiteBroker {
	return &SQLiteBroker{cfg: cfg}
}

func (b *SQLiteBroker) Connect(ctx context.Context) (models.Session, error) {
	// mode=ro would otherwise fail later with a less obvious error.
	if _, err := os.Stat(b.cfg.Path); err != nil {
		return nil, fmt.Errorf("open queue database: %w", err)
	}

	dsn := "file:" + b.cfg.Path + "?mode=ro"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open queue database %s: %w", b.cfg.Path, err)
	}

	log.Debug().Str("path", b.cfg.Path).Int64("tenant_id", b.cfg.TenantID).Msg("Opened queue database")

	return &SQLiteSession{db: db, tenantID: b.cfg.TenantID}, nil
}

func (s *SQLiteSession) getQueue(ctx context.Context, name string) (*Queue, error) {
	rc := &Queue{}

	err := s.db.WithContext(ctx).
		Where("name = ? AND tenant_id = ?", strings.TrimSpace(strings.ToLower(name)), s.tenantID).
		Take(rc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrQueueNotFound, name)
		}
		return nil, err
	}

	return rc, nil
}

// Count returns messages that can still be delivered: the ones that have not
// used up their tries. In-flight messages count, since smoothmq requeues them.
func (s *SQLiteSession) Count(ctx context.Context, queue string) (int, error) {
	q, err := s.getQueue(ctx, queue)
	if err != nil {
		return 0, err
	}

	var count int64
	err = s.db.WithContext(ctx).
		Model(&Message{}).
		Where("tenant_id = ? AND queue_id = ? AND tries < max_tries", s.tenantID, q.ID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}

	if q.Paused {
		log.Debug().Str("queue", queue).Msg("Queue is paused")
	}

	return int(count), nil
}

func (s *SQLiteSession) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
