package userstore

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tendant/simple-federation/pkg/errors"
)

// StoreMetrics tracks Prometheus metrics for user store operations.
//
// Methods handle a nil receiver gracefully, so a nil *StoreMetrics acts as a
// no-op when metrics are disabled.
type StoreMetrics struct {
	// Operations counts store operations by operation and result.
	// Labels: operation=[find_by_id, ..., commit], result=[ok, not_found, conflict, error]
	Operations *prometheus.CounterVec

	// OperationDuration tracks store operation latency.
	// Labels: operation
	OperationDuration *prometheus.HistogramVec

	// OpenTransactions tracks transactions begun and not yet finished.
	OpenTransactions prometheus.Gauge
}

// NewStoreMetrics creates and registers user store metrics.
// If registerer is nil, prometheus.DefaultRegisterer is used.
func NewStoreMetrics(registerer prometheus.Registerer) *StoreMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &StoreMetrics{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "federation_store_operations_total",
				Help: "Total user store operations by operation and result",
			},
			[]string{"operation", "result"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "federation_store_operation_duration_seconds",
				Help:    "User store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		OpenTransactions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "federation_store_open_transactions",
				Help: "Current number of open user store transactions",
			},
		),
	}

	registerer.MustRegister(
		m.Operations,
		m.OperationDuration,
		m.OpenTransactions,
	)
	return m
}

// observe records one finished operation
func (m *StoreMetrics) observe(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, resultLabel(err)).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *StoreMetrics) txOpened() {
	if m == nil {
		return
	}
	m.OpenTransactions.Inc()
}

func (m *StoreMetrics) txClosed() {
	if m == nil {
		return
	}
	m.OpenTransactions.Dec()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.IsCode(err, errors.ErrCodeNotFound):
		return "not_found"
	case errors.IsCode(err, errors.ErrCodeConflict):
		return "conflict"
	default:
		return "error"
	}
}

// InstrumentedStore decorates a Store with operation metrics.
type InstrumentedStore struct {
	Store
	metrics *StoreMetrics
}

// NewInstrumentedStore wraps store so every transaction reports to metrics
func NewInstrumentedStore(store Store, metrics *StoreMetrics) *InstrumentedStore {
	return &InstrumentedStore{
		Store:   store,
		metrics: metrics,
	}
}

// Begin starts an instrumented transaction
func (s *InstrumentedStore) Begin(ctx context.Context) (Tx, error) {
	start := time.Now()
	tx, err := s.Store.Begin(ctx)
	s.metrics.observe("begin", start, err)
	if err != nil {
		return nil, err
	}
	s.metrics.txOpened()
	return &instrumentedTx{tx: tx, metrics: s.metrics}, nil
}

type instrumentedTx struct {
	tx      Tx
	metrics *StoreMetrics
	done    bool
}

func (t *instrumentedTx) FindByID(ctx context.Context, id string) (*Record, error) {
	start := time.Now()
	rec, err := t.tx.FindByID(ctx, id)
	t.metrics.observe("find_by_id", start, err)
	return rec, err
}

func (t *instrumentedTx) FindByUsername(ctx context.Context, username string) (*Record, error) {
	start := time.Now()
	rec, err := t.tx.FindByUsername(ctx, username)
	t.metrics.observe("find_by_username", start, err)
	return rec, err
}

func (t *instrumentedTx) FindByEmail(ctx context.Context, email string) (*Record, error) {
	start := time.Now()
	rec, err := t.tx.FindByEmail(ctx, email)
	t.metrics.observe("find_by_email", start, err)
	return rec, err
}

func (t *instrumentedTx) Create(ctx context.Context, username string) (*Record, error) {
	start := time.Now()
	rec, err := t.tx.Create(ctx, username)
	t.metrics.observe("create", start, err)
	return rec, err
}

func (t *instrumentedTx) Update(ctx context.Context, record *Record) error {
	start := time.Now()
	err := t.tx.Update(ctx, record)
	t.metrics.observe("update", start, err)
	return err
}

func (t *instrumentedTx) Remove(ctx context.Context, id string) (bool, error) {
	start := time.Now()
	removed, err := t.tx.Remove(ctx, id)
	t.metrics.observe("remove", start, err)
	return removed, err
}

func (t *instrumentedTx) Count(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := t.tx.Count(ctx)
	t.metrics.observe("count", start, err)
	return n, err
}

func (t *instrumentedTx) Search(ctx context.Context, filter string, page Page) ([]*Record, error) {
	start := time.Now()
	records, err := t.tx.Search(ctx, filter, page)
	t.metrics.observe("search", start, err)
	return records, err
}

func (t *instrumentedTx) Commit(ctx context.Context) error {
	start := time.Now()
	err := t.tx.Commit(ctx)
	t.metrics.observe("commit", start, err)
	t.finish()
	return err
}

func (t *instrumentedTx) Rollback(ctx context.Context) error {
	start := time.Now()
	err := t.tx.Rollback(ctx)
	t.metrics.observe("rollback", start, err)
	t.finish()
	return err
}

func (t *instrumentedTx) finish() {
	if t.done {
		return
	}
	t.done = true
	t.metrics.txClosed()
}
