package service

import (
	"context"
	"errors"

	"github.com/adopet/marketchat/internal/model"
	"github.com/adopet/marketchat/internal/repository"
	"gorm.io/gorm"
)

// ItemCatalog is the read-only view of listings the chat core needs for previews,
// seller lookup and transaction context.
type ItemCatalog interface {
	Get(ctx context.Context, id uint64) (*model.Item, error)
}

type itemCatalog struct {
	repo repository.ItemRepository
}

func NewItemCatalog(repo repository.ItemRepository) ItemCatalog {
	return &itemCatalog{repo: repo}
}

func (s *itemCatalog) Get(ctx context.Context, id uint64) (*model.Item, error) {
	if id == 0 {
		return nil, validationf("item id is required")
	}
	item, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return item, nil
}
