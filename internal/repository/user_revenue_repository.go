package repository

import (
	"context"

	"github.com/adopet/marketchat/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRevenueRepository keeps one running total per seller.
type UserRevenueRepository interface {
	// Add credits cents to uid, creating the row on first credit. Callers invoke it
	// only after winning the transaction's pending -> completed transition, so each
	// completed priced transaction is credited once.
	Add(ctx context.Context, uid string, cents int64) error
	Get(ctx context.Context, uid string) (*model.UserRevenue, error)
}

type userRevenueRepository struct {
	db *gorm.DB
}

func NewUserRevenueRepository(db *gorm.DB) UserRevenueRepository {
	return &userRevenueRepository{db: db}
}

func (r *userRevenueRepository) Add(ctx context.Context, uid string, cents int64) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uid"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"revenue_cents": gorm.Expr("revenue_cents + ?", cents)}),
	}).Create(&model.UserRevenue{UID: uid, RevenueCents: cents}).Error
}

// Get returns uid's total, materializing a zero row for sellers with no sales yet.
func (r *userRevenueRepository) Get(ctx context.Context, uid string) (*model.UserRevenue, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var ur model.UserRevenue
	if err := r.db.WithContext(ctx).Where("uid = ?", uid).FirstOrCreate(&ur, &model.UserRevenue{UID: uid}).Error; err != nil {
		return nil, err
	}
	return &ur, nil
}
