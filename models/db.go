package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MySQL 中表示容量不足的错误码
const (
	mysqlErrTableFull      = 1114
	mysqlErrRowTooLarge    = 1118
	mysqlErrPacketTooLarge = 1153
	mysqlErrDataTooLong    = 1406
)

// Slot 持久化槽位：一个命名槽位存一整个 JSON 值
type Slot struct {
	Name      string    `gorm:"primaryKey;type:varchar(64)" json:"name"`
	Value     []byte    `gorm:"type:longblob" json:"value"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Slot) TableName() string {
	return "storage_slot"
}

func InitDB(dsn string) (*gorm.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	gdb, err := gorm.Open(mysql.New(mysql.Config{
		Conn: db,
	}), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("GORM 初始化失败: %w", err)
	}
	if err := gdb.AutoMigrate(&Slot{}); err != nil {
		return nil, fmt.Errorf("自动建表失败: %w", err)
	}
	return gdb, nil
}

// GormSlotStore 基于 MySQL 的槽位存储；quota 为所有槽位字节总和上限，0 表示不限
type GormSlotStore struct {
	db    *gorm.DB
	quota int64
}

func NewGormSlotStore(db *gorm.DB, quota int64) *GormSlotStore {
	return &GormSlotStore{db: db, quota: quota}
}

func (s *GormSlotStore) Get(ctx context.Context, name string) ([]byte, bool, error) {
	var slot Slot
	err := s.db.WithContext(ctx).First(&slot, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read slot %s: %w", name, err)
	}
	return slot.Value, true, nil
}

// Put 事务内检查配额并整体替换，失败时旧值保持不变
func (s *GormSlotStore) Put(ctx context.Context, name string, value []byte) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.quota > 0 {
			var others int64
			if err := tx.Model(&Slot{}).
				Where("name <> ?", name).
				Select("COALESCE(SUM(size), 0)").
				Scan(&others).Error; err != nil {
				return fmt.Errorf("sum slot sizes: %w", err)
			}
			if others+int64(len(value)) > s.quota {
				return fmt.Errorf("%w: slot %s needs %d bytes, %d of %d in use",
					ErrStorageQuotaExceeded, name, len(value), others, s.quota)
			}
		}
		slot := Slot{
			Name:      name,
			Value:     value,
			Size:      int64(len(value)),
			UpdatedAt: time.Now(),
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "size", "updated_at"}),
		}).Create(&slot).Error
		return classifyWriteError(name, err)
	})
}

func classifyWriteError(name string, err error) error {
	if err == nil {
		return nil
	}
	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlErrTableFull, mysqlErrRowTooLarge, mysqlErrPacketTooLarge, mysqlErrDataTooLong:
			return fmt.Errorf("%w: slot %s: %v", ErrStorageQuotaExceeded, name, myErr)
		}
	}
	return fmt.Errorf("write slot %s: %w", name, err)
}
