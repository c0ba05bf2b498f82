package influx

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"codeberg.org/mutker/serverpop/internal/errors"
	"codeberg.org/mutker/serverpop/internal/logger"
	"codeberg.org/mutker/serverpop/internal/population"
	"github.com/cenkalti/backoff/v4"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	ihttp "github.com/influxdata/influxdb-client-go/v2/api/http"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const (
	tagMap        = "map"
	tagMaxPlayers = "max_players"
	tagRegion     = "region"
	fieldPlayers  = "players"
)

// Sink writes measurement batches to an InfluxDB v2 bucket.
type Sink struct {
	creds  Credentials
	opts   Options
	log    logger.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(limit time.Duration) time.Duration
	timer  func() backoff.Timer
}

// SinkOption customises sink instantiation.
type SinkOption func(*Sink)

// WithLogger sets the logger used for write diagnostics.
func WithLogger(l logger.Logger) SinkOption {
	return func(s *Sink) {
		if l != nil {
			s.log = l
		}
	}
}

// WithSleeper replaces the function used for the jitter wait before each chunk.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) SinkOption {
	return func(s *Sink) {
		if fn != nil {
			s.sleep = fn
		}
	}
}

// WithTimer replaces the timer that waits between retries. A nil timer
// falls back to the system timer.
func WithTimer(fn func() backoff.Timer) SinkOption {
	return func(s *Sink) {
		if fn != nil {
			s.timer = fn
		}
	}
}

// WithJitter replaces the random jitter source.
func WithJitter(fn func(limit time.Duration) time.Duration) SinkOption {
	return func(s *Sink) {
		if fn != nil {
			s.jitter = fn
		}
	}
}

func NewSink(creds Credentials, opts Options, sinkOpts ...SinkOption) (*Sink, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	s := &Sink{
		creds:  creds,
		opts:   opts,
		log:    logger.Default(),
		sleep:  sleepContext,
		jitter: randomJitter,
		timer:  func() backoff.Timer { return nil },
	}
	for _, opt := range sinkOpts {
		opt(s)
	}

	return s, nil
}

// Write sends every row of the batch. The client is opened for this call
// only and closed before returning. Rows are written in chunks of
// Options.BatchSize; each chunk is jittered and retried with exponential
// backoff on transient failures.
func (s *Sink) Write(ctx context.Context, batch *population.Batch) error {
	if batch == nil || len(batch.Measurements) == 0 {
		s.log.Info().Msg("No measurements to write")
		return nil
	}

	client := influxdb2.NewClient(s.creds.URL, s.creds.Token)
	defer client.Close()

	writeAPI := client.WriteAPIBlocking(s.creds.Org, s.creds.Bucket)
	points := s.points(batch)

	for start := 0; start < len(points); start += s.opts.BatchSize {
		end := min(start+s.opts.BatchSize, len(points))
		if err := s.writeChunk(ctx, writeAPI, points[start:end]); err != nil {
			return err
		}
		s.log.Debug().
			Int("from", start).
			Int("to", end).
			Msg("Wrote measurement chunk")
	}

	s.log.Info().
		Int("rows", len(points)).
		Str("bucket", s.creds.Bucket).
		Str("measurement", s.opts.Measurement).
		Msg("Measurements written")

	return nil
}

func (s *Sink) points(batch *population.Batch) []*write.Point {
	points := make([]*write.Point, 0, len(batch.Measurements))
	for _, m := range batch.Measurements {
		p := influxdb2.NewPointWithMeasurement(s.opts.Measurement).
			AddTag(tagMap, m.Map).
			AddTag(tagMaxPlayers, strconv.Itoa(m.MaxPlayers)).
			AddTag(tagRegion, string(m.Region)).
			AddField(fieldPlayers, int64(m.Players)).
			SetTime(batch.Timestamp)
		points = append(points, p)
	}
	return points
}

type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

func (s *Sink) writeChunk(ctx context.Context, w pointWriter, chunk []*write.Point) error {
	errFactory := errors.New()

	if s.opts.JitterInterval > 0 {
		if err := s.sleep(ctx, s.jitter(s.opts.JitterInterval)); err != nil {
			return errFactory.Wrap(ErrWriteAborted, err)
		}
	}

	policy := &serverDelay{BackOff: backoff.WithMaxRetries(s.opts.backOff(), uint64(s.opts.MaxRetries))}
	attempts := 0

	send := func() error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, s.opts.FlushInterval)
		defer cancel()

		err := w.WritePoint(attemptCtx, chunk...)
		if err == nil {
			return nil
		}

		retry, retryAfter := classify(err)
		if !retry {
			return backoff.Permanent(errFactory.Wrap(ErrWriteRejected, err))
		}
		policy.hint = retryAfter
		return err
	}

	notify := func(err error, delay time.Duration) {
		s.log.Warn().
			Err(err).
			Int("attempt", attempts).
			Dur("retry_in", delay).
			Msg("Write failed, retrying")
	}

	err := backoff.RetryNotifyWithTimer(send, backoff.WithContext(policy, ctx), notify, s.timer())
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return errFactory.Wrap(ErrWriteAborted, ctx.Err())
	case errors.HasCode(err, ErrWriteRejected):
		return err
	default:
		return errFactory.WithData(ErrRetriesExhausted, fmt.Sprintf("%d attempts: %v", attempts, err))
	}
}

// serverDelay stretches the next wait to the Retry-After the server sent
// with the last failure.
type serverDelay struct {
	backoff.BackOff
	hint time.Duration
}

func (b *serverDelay) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next != backoff.Stop && b.hint > next {
		next = b.hint
	}
	b.hint = 0
	return next
}

func (b *serverDelay) Reset() {
	b.hint = 0
	b.BackOff.Reset()
}

// classify reports whether a write error is worth retrying and any delay
// the server asked for.
func classify(err error) (bool, time.Duration) {
	var httpErr *ihttp.Error
	if !errors.As(err, &httpErr) {
		return true, 0
	}

	retryAfter := time.Duration(httpErr.RetryAfter) * time.Second
	switch {
	case httpErr.StatusCode == 0:
		return true, retryAfter
	case httpErr.StatusCode == http.StatusTooManyRequests:
		return true, retryAfter
	case httpErr.StatusCode >= http.StatusInternalServerError:
		return true, retryAfter
	default:
		return false, 0
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(limit)))
}
