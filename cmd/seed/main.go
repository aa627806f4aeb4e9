package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/adopet/marketchat/internal/config"
	"github.com/adopet/marketchat/internal/db"
	"github.com/adopet/marketchat/internal/model"
	"github.com/adopet/marketchat/internal/repository"
	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
}

func run() error {
	ctx := context.Background()
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	gdb, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}

	canSeed, err := shouldSeed(ctx, gdb)
	if err != nil {
		return err
	}
	if !canSeed {
		log.Printf("items already exist; skipping seed (set FORCE_SEED=true to override)")
		return nil
	}

	items := buildSeedItems(sellerUIDs())
	err = gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := repository.NewItemRepository(tx)
		for i := range items {
			if err := repo.Create(ctx, &items[i]); err != nil {
				return fmt.Errorf("insert item %q: %w", items[i].Title, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Printf("seeded %d items", len(items))
	return nil
}

// sellerUIDs reads SEED_SELLERS (comma separated Firebase uids) so seeded items
// belong to accounts that can log in and answer chats.
func sellerUIDs() []string {
	var out []string
	for _, s := range strings.Split(os.Getenv("SEED_SELLERS"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		out = []string{"seller-demo-1", "seller-demo-2"}
	}
	return out
}

func buildSeedItems(sellers []string) []model.Item {
	type cat struct {
		Slug   string
		Titles []string
		Price  uint
	}
	categories := []cat{
		{Slug: "fashion", Price: 4200, Titles: []string{"Relaxed fit hoodie", "Organic cotton tee", "Classic denim jeans"}},
		{Slug: "phones-tablets-pcs", Price: 24000, Titles: []string{"14 inch ultrabook", "64GB tablet", "Wireless mechanical keyboard"}},
		{Slug: "home-interior", Price: 7800, Titles: []string{"Solid wood side table", "Cotton rug 140x200", "Stacking shelf"}},
		{Slug: "books-magazines-comics", Price: 1400, Titles: []string{"SF anthology", "Travel magazine", "Comic box set"}},
		{Slug: "outdoor-travel", Price: 9200, Titles: []string{"Compact camp chair", "Titanium mug set", "28L backpack"}},
		{Slug: "others", Price: 0, Titles: []string{"Cable organizer (free)", "Travel adapter (free)"}},
	}

	var items []model.Item
	n := 0
	for _, c := range categories {
		for i, t := range c.Titles {
			price := c.Price
			if price > 0 {
				price += uint((i + 1) * 100)
			}
			n++
			image := picsumURL(c.Slug, n)
			items = append(items, model.Item{
				SellerUID:    sellers[n%len(sellers)],
				Title:        t,
				Description:  fmt.Sprintf("%s (%s). Kept at home, barely used.", t, c.Slug),
				Price:        price,
				ImageURL:     &image,
				CategorySlug: c.Slug,
			})
		}
	}
	return items
}

func shouldSeed(ctx context.Context, gdb *gorm.DB) (bool, error) {
	var cnt int64
	if err := gdb.WithContext(ctx).Model(&model.Item{}).Count(&cnt).Error; err != nil {
		return false, fmt.Errorf("count items: %w", err)
	}
	if cnt == 0 {
		return true, nil
	}
	return strings.EqualFold(os.Getenv("FORCE_SEED"), "true"), nil
}

func picsumURL(slug string, itemIndex int) string {
	return fmt.Sprintf("https://picsum.photos/seed/%s-%d/600/600", slug, itemIndex)
}
