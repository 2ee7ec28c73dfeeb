package dashboard

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"kasirledger/internal/cache"
	"kasirledger/internal/domain"
)

// Reader is the read-only slice of the repository the dashboard needs.
type Reader interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	ListTransactions(ctx context.Context, from time.Time, to time.Time) ([]domain.Transaction, error)
	ListPurchaseOrders(ctx context.Context, from time.Time, to time.Time) ([]domain.PurchaseOrder, error)
	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)
}

type Service struct {
	reader Reader
	cache  cache.MetricsCache
	cfg    Config
	log    logrus.FieldLogger
	now    func() time.Time
}

func New(reader Reader, metricsCache cache.MetricsCache, cfg Config, logger logrus.FieldLogger) *Service {
	if metricsCache == nil {
		metricsCache = cache.NoopMetricsCache{}
	}
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}
	return &Service{
		reader: reader,
		cache:  metricsCache,
		cfg:    cfg,
		log:    logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Metrics reports over the last days calendar days, today included.
func (s *Service) Metrics(ctx context.Context, days int) (domain.MetricsReport, error) {
	days = NormalizeDays(days)
	now := s.now().UTC()
	key := cache.MetricsKey(days, now)

	if cached, ok, err := s.cache.Get(ctx, key); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("metrics cache read failed")
	} else if ok {
		return *cached, nil
	}

	from, to := Window(now, days)
	in := Input{From: from, To: to, Days: days}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		txs, err := s.reader.ListTransactions(gctx, from, to)
		in.Transactions = txs
		return err
	})
	g.Go(func() error {
		products, err := s.reader.ListProducts(gctx)
		in.Products = products
		return err
	})
	g.Go(func() error {
		orders, err := s.reader.ListPurchaseOrders(gctx, from, to)
		in.PurchaseOrders = orders
		return err
	})
	g.Go(func() error {
		suppliers, err := s.reader.ListSuppliers(gctx)
		in.Suppliers = suppliers
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.MetricsReport{}, err
	}

	report := Aggregate(in, s.cfg)
	report.GeneratedAt = now

	if err := s.cache.Set(ctx, key, &report, s.cfg.CacheTTL); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("metrics cache write failed")
	}
	s.log.WithFields(logrus.Fields{
		"days":         days,
		"transactions": report.TransactionCount,
		"low_stock":    len(report.LowStock),
	}).Debug("metrics aggregated")
	return report, nil
}
