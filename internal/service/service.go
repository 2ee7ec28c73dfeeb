package service

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"kasirledger/internal/domain"
	"kasirledger/internal/loyalty"
	"kasirledger/internal/store"
)

// Settings is the explicit configuration every operation reads from.
type Settings struct {
	DefaultLocationID string
	Loyalty           loyalty.Config
}

type Service struct {
	repo     store.Repository
	settings Settings
	log      logrus.FieldLogger
	now      func() time.Time
}

func New(repo store.Repository, settings Settings, logger logrus.FieldLogger) *Service {
	if settings.DefaultLocationID == "" {
		settings.DefaultLocationID = "main-store"
	}
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}

	return &Service{
		repo:     repo,
		settings: settings,
		log:      logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Settings() Settings {
	return s.settings
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) ListStockLevels(ctx context.Context, productID string) ([]domain.StockLevel, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, store.Invalid("product_id", "product_id is required")
	}
	if _, err := s.repo.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	return s.repo.ListStockLevels(ctx, productID)
}

func (s *Service) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, store.Invalid("id", "transaction id is required")
	}
	return s.repo.FindTransactionByID(ctx, id)
}

func (s *Service) locationOrDefault(locationID string) string {
	locationID = strings.TrimSpace(locationID)
	if locationID == "" {
		return s.settings.DefaultLocationID
	}
	return locationID
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
