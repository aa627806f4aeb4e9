package service

import (
	"context"

	"github.com/adopet/marketchat/internal/repository"
)

type RevenueService interface {
	Get(ctx context.Context, uid string) (int64, error)
	Credit(ctx context.Context, uid string, cents int64) error
}

type revenueService struct {
	repo repository.UserRevenueRepository
}

func NewRevenueService(repo repository.UserRevenueRepository) RevenueService {
	return &revenueService{repo: repo}
}

func (s *revenueService) Get(ctx context.Context, uid string) (int64, error) {
	r, err := s.repo.Get(ctx, uid)
	if err != nil {
		return 0, err
	}
	return r.RevenueCents, nil
}

func (s *revenueService) Credit(ctx context.Context, uid string, cents int64) error {
	if uid == "" || cents <= 0 {
		return nil
	}
	return s.repo.Add(ctx, uid, cents)
}
