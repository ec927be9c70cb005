package repository

import (
	"fmt"
	"time"

	"github.com/user/reelshelf/internal/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// InitDB 初始化数据库连接并迁移表结构
func InitDB(databaseURL string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("无法连接数据库: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取连接池失败: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("数据库 ping 失败: %w", err)
	}

	// 设置连接池
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func migrate(db *gorm.DB) error {
	// 维度向量依赖 pgvector 扩展
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("启用 pgvector 扩展失败: %w", err)
	}
	if err := db.AutoMigrate(
		&model.CatalogItem{},
		&model.RatingEvent{},
		&model.Exclusion{},
		&model.Tag{},
		&model.ItemTagAssignment{},
		&model.DimensionVector{},
		&model.RecommendationSlot{},
	); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}
	return nil
}

// Repositories 仓库集合
type Repositories struct {
	DB             *gorm.DB
	Catalog        *CatalogRepository
	History        *HistoryRepository
	Tag            *TagRepository
	Dimension      *DimensionRepository
	Recommendation *RecommendationRepository
	Exclusion      *ExclusionRepository
}

// NewRepositories 创建仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		DB:             db,
		Catalog:        NewCatalogRepository(db),
		History:        NewHistoryRepository(db),
		Tag:            NewTagRepository(db),
		Dimension:      NewDimensionRepository(db),
		Recommendation: NewRecommendationRepository(db),
		Exclusion:      NewExclusionRepository(db),
	}
}
