package traders

import (
	"context"
	"fmt"

	domain "riskfeed/internal/domain/entity/positions"
	"riskfeed/internal/infrastructure/traders/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Repository persists the trader directory in Postgres.
type Repository struct {
	db *gorm.DB
}

func NewRepository(dsn string) (*Repository, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm: %w", err)
	}
	return &Repository{db: db}, nil
}

func NewRepositoryWithDB(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&models.TraderModel{}, &models.AliasModel{})
}

// Sync upserts every trader and alias of f.
func (r *Repository) Sync(ctx context.Context, f File) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(f.Traders) > 0 {
			rows := make([]models.TraderModel, 0, len(f.Traders))
			for _, t := range f.Traders {
				rows = append(rows, models.TraderModel{Name: t.Name, Group: t.Group})
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "name"}},
				DoUpdates: clause.AssignmentColumns([]string{"trader_group", "updated_at"}),
			}).Create(&rows).Error
			if err != nil {
				return fmt.Errorf("upsert traders: %w", err)
			}
		}
		if len(f.Aliases) > 0 {
			rows := make([]models.AliasModel, 0, len(f.Aliases))
			for pod, name := range f.Aliases {
				rows = append(rows, models.AliasModel{PodLabel: pod, TraderName: name})
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "pod_label"}},
				DoUpdates: clause.AssignmentColumns([]string{"trader_name"}),
			}).Create(&rows).Error
			if err != nil {
				return fmt.Errorf("upsert aliases: %w", err)
			}
		}
		return nil
	})
}

// Load reads the stored directory.
func (r *Repository) Load(ctx context.Context) (*Directory, error) {
	var traders []models.TraderModel
	if err := r.db.WithContext(ctx).Order("name").Find(&traders).Error; err != nil {
		return nil, fmt.Errorf("load traders: %w", err)
	}
	var aliases []models.AliasModel
	if err := r.db.WithContext(ctx).Find(&aliases).Error; err != nil {
		return nil, fmt.Errorf("load trader aliases: %w", err)
	}

	list := make([]domain.Trader, 0, len(traders))
	for _, t := range traders {
		list = append(list, domain.Trader{Name: t.Name, Group: t.Group})
	}
	aliasMap := make(map[string]string, len(aliases))
	for _, a := range aliases {
		aliasMap[a.PodLabel] = a.TraderName
	}
	return NewDirectory(aliasMap, list), nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
