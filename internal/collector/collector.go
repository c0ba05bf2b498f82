package collector

import (
	"context"
	"time"

	"codeberg.org/mutker/serverpop/internal/archive"
	"codeberg.org/mutker/serverpop/internal/cyclemetrics"
	"codeberg.org/mutker/serverpop/internal/errors"
	"codeberg.org/mutker/serverpop/internal/logger"
	"codeberg.org/mutker/serverpop/internal/population"
	"codeberg.org/mutker/serverpop/internal/steam"
	"github.com/google/uuid"
)

// Fetcher returns one result per query.
type Fetcher interface {
	FetchAll(ctx context.Context, queries []steam.Query) []steam.Result
}

// Writer persists an aggregated batch.
type Writer interface {
	Write(ctx context.Context, batch *population.Batch) error
}

// QueryOutcome summarises one query of a cycle.
type QueryOutcome struct {
	Name    string
	Servers int
	Err     error
}

// Report describes a finished cycle.
type Report struct {
	CycleID   string
	Timestamp time.Time
	Queries   []QueryOutcome
	Batch     *population.Batch
	Written   bool
	Duration  time.Duration
}

// FailedQueries counts queries that returned no data.
func (r *Report) FailedQueries() int {
	n := 0
	for _, q := range r.Queries {
		if q.Err != nil {
			n++
		}
	}
	return n
}

// Collector runs collection cycles.
type Collector struct {
	fetcher    Fetcher
	queries    []steam.Query
	aggregator *population.Aggregator
	writer     Writer
	archiver   archive.Archiver
	metrics    *cyclemetrics.Recorder
	log        logger.Logger
	now        func() time.Time
	newID      func() string
}

// Option customises collector instantiation.
type Option func(*Collector)

// WithArchiver journals every cycle locally.
func WithArchiver(a archive.Archiver) Option {
	return func(c *Collector) {
		if a != nil {
			c.archiver = a
		}
	}
}

// WithMetrics records cycle outcomes in r.
func WithMetrics(r *cyclemetrics.Recorder) Option {
	return func(c *Collector) {
		c.metrics = r
	}
}

// WithLogger sets the base logger; each cycle adds its cycle_id.
func WithLogger(l logger.Logger) Option {
	return func(c *Collector) {
		if l != nil {
			c.log = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIDGenerator overrides how cycle IDs are made.
func WithIDGenerator(fn func() string) Option {
	return func(c *Collector) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// New builds a collector. A nil writer makes every cycle a dry run.
func New(fetcher Fetcher, queries []steam.Query, aggregator *population.Aggregator, writer Writer, opts ...Option) (*Collector, error) {
	errFactory := errors.New()

	if fetcher == nil {
		return nil, errFactory.WithMessage(ErrInvalidConfig, "fetcher is required")
	}
	if len(queries) == 0 {
		return nil, errFactory.WithMessage(ErrInvalidConfig, "at least one query is required")
	}
	if aggregator == nil {
		aggregator = population.NewAggregator(nil)
	}

	c := &Collector{
		fetcher:    fetcher,
		queries:    queries,
		aggregator: aggregator,
		writer:     writer,
		log:        logger.Default(),
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Run executes one cycle: fetch every query in order, aggregate, write.
// Query failures only shrink the input; the cycle fails when every query
// failed, when the write fails, or when ctx is cancelled.
func (c *Collector) Run(ctx context.Context) (*Report, error) {
	started := c.now()
	at := started.UTC()

	report := &Report{CycleID: c.newID(), Timestamp: at}
	log := c.log.With("cycle_id", report.CycleID)

	log.Info().
		Time("timestamp", at).
		Int("queries", len(c.queries)).
		Msg("Starting collection cycle")

	err := c.run(ctx, at, report, log)
	report.Duration = c.now().Sub(started)

	if report.Batch != nil {
		c.archive(ctx, report, log)
	}
	if c.metrics != nil {
		c.metrics.ObserveCycle(at, report.Duration, err)
	}

	if err != nil {
		return report, err
	}

	log.Info().
		Int("rows", len(report.Batch.Measurements)).
		Int("players", report.Batch.Players()).
		Int("failed_queries", report.FailedQueries()).
		Bool("written", report.Written).
		Dur("took", report.Duration).
		Msg("Collection cycle complete")

	return report, nil
}

func (c *Collector) run(ctx context.Context, at time.Time, report *Report, log logger.Logger) error {
	errFactory := errors.New()

	results := c.fetcher.FetchAll(ctx, c.queries)
	if ctx.Err() != nil {
		return errFactory.Wrap(ErrCycleAborted, ctx.Err())
	}

	lists := make([][]population.Server, 0, len(results))
	for _, res := range results {
		report.Queries = append(report.Queries, QueryOutcome{
			Name:    res.Query.Name,
			Servers: len(res.Servers),
			Err:     res.Err,
		})
		if c.metrics != nil {
			c.metrics.ObserveQuery(res.Query.Name, len(res.Servers), res.Err)
		}
		if res.OK() {
			lists = append(lists, res.Servers)
		}
	}

	if len(lists) == 0 {
		return errFactory.WithData(ErrAllQueriesFailed, len(results))
	}

	batch := c.aggregator.Aggregate(at, lists...)
	report.Batch = batch
	if c.metrics != nil {
		c.metrics.ObserveBatch(len(batch.Measurements), batch.Players(), batch.Servers, batch.Skipped)
	}

	log.Debug().
		Int("servers", batch.Servers).
		Int("skipped", batch.Skipped).
		Int("rows", len(batch.Measurements)).
		Msg("Aggregated server lists")

	if c.writer == nil {
		for _, m := range batch.Measurements {
			log.Info().
				Str("map", m.Map).
				Str("region", string(m.Region)).
				Int("max_players", m.MaxPlayers).
				Int("players", m.Players).
				Msg("Dry run")
		}
		return nil
	}

	if err := c.writer.Write(ctx, batch); err != nil {
		return errFactory.Wrap(ErrWriteMeasurements, err)
	}
	report.Written = true

	return nil
}

func (c *Collector) archive(ctx context.Context, report *Report, log logger.Logger) {
	if c.archiver == nil {
		return
	}

	err := c.archiver.Record(ctx, &archive.CycleRecord{
		ID:            report.CycleID,
		FailedQueries: report.FailedQueries(),
		Written:       report.Written,
		Batch:         report.Batch,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to archive cycle")
	}
}
