package influx_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/serverpop/internal/errors"
	"codeberg.org/mutker/serverpop/internal/influx"
	"codeberg.org/mutker/serverpop/internal/logger"
	"codeberg.org/mutker/serverpop/internal/population"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cycleTime = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

type fakeInflux struct {
	mu         sync.Mutex
	bodies     []string
	statuses   []int
	retryAfter string
	auth       string
	org        string
	bucket     string
	path       string
}

func (f *fakeInflux) handler(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	body, _ := io.ReadAll(r.Body)
	f.bodies = append(f.bodies, string(body))
	f.auth = r.Header.Get("Authorization")
	f.org = r.URL.Query().Get("org")
	f.bucket = r.URL.Query().Get("bucket")
	f.path = r.URL.Path

	status := http.StatusNoContent
	if len(f.statuses) > 0 {
		status = f.statuses[0]
		if len(f.statuses) > 1 {
			f.statuses = f.statuses[1:]
		}
	}
	if status != http.StatusNoContent {
		if f.retryAfter != "" {
			w.Header().Set("Retry-After", f.retryAfter)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"code":"error","message":"status %d"}`, status)
		return
	}
	w.WriteHeader(status)
}

func (f *fakeInflux) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bodies)
}

// recorder stands in for both the jitter sleeper and the retry timer. It
// records every wait and returns immediately, or cancels instead of firing
// when cancel is set.
type recorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
	cancel context.CancelFunc
	c      chan time.Time
}

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sleeps = append(r.sleeps, d)
	return nil
}

func (r *recorder) Start(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sleeps = append(r.sleeps, d)

	r.c = make(chan time.Time, 1)
	if r.cancel != nil {
		r.cancel()
		return
	}
	r.c <- time.Now()
}

func (r *recorder) Stop() {}

func (r *recorder) C() <-chan time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.c
}

func newTestSink(t *testing.T, fake *fakeInflux, opts influx.Options, rec *recorder) *influx.Sink {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	t.Cleanup(srv.Close)

	sink, err := influx.NewSink(influx.Credentials{
		Token:  "tok",
		Org:    "org",
		Bucket: "cs",
		URL:    srv.URL,
	}, opts,
		influx.WithLogger(logger.Nop()),
		influx.WithSleeper(rec.sleep),
		influx.WithTimer(func() backoff.Timer { return rec }),
		influx.WithJitter(func(limit time.Duration) time.Duration { return limit / 2 }),
	)
	require.NoError(t, err)

	return sink
}

func testBatch(rows ...population.Measurement) *population.Batch {
	for i := range rows {
		rows[i].Timestamp = cycleTime
	}
	return &population.Batch{Timestamp: cycleTime, Measurements: rows}
}

func TestWriteLineProtocol(t *testing.T) {
	fake := &fakeInflux{}
	rec := &recorder{}
	sink := newTestSink(t, fake, influx.DefaultOptions(), rec)

	err := sink.Write(context.Background(), testBatch(
		population.Measurement{Map: "de_dust2", Region: population.NorthAmerica, MaxPlayers: 10, Players: 5},
		population.Measurement{Map: "de_dust2", Region: population.Europe, MaxPlayers: 10, Players: 3},
	))
	require.NoError(t, err)

	require.Equal(t, 1, fake.calls())
	assert.Equal(t, "/api/v2/write", fake.path)
	assert.Equal(t, "Token tok", fake.auth)
	assert.Equal(t, "org", fake.org)
	assert.Equal(t, "cs", fake.bucket)

	ts := cycleTime.UnixNano()
	lines := strings.Split(strings.TrimSpace(fake.bodies[0]), "\n")
	assert.Equal(t, []string{
		fmt.Sprintf("player_count,map=de_dust2,max_players=10,region=north_america players=5i %d", ts),
		fmt.Sprintf("player_count,map=de_dust2,max_players=10,region=europe players=3i %d", ts),
	}, lines)

	// one jitter wait before the only chunk, no retries
	assert.Equal(t, []time.Duration{time.Second}, rec.sleeps)
}

func TestWriteChunksByBatchSize(t *testing.T) {
	fake := &fakeInflux{}
	rec := &recorder{}
	opts := influx.DefaultOptions()
	opts.BatchSize = 2
	opts.JitterInterval = 0
	sink := newTestSink(t, fake, opts, rec)

	var rows []population.Measurement
	for i := 0; i < 5; i++ {
		rows = append(rows, population.Measurement{Map: fmt.Sprintf("de_%d", i), Region: population.Asia, MaxPlayers: 10, Players: i + 1})
	}
	require.NoError(t, sink.Write(context.Background(), testBatch(rows...)))

	assert.Equal(t, 3, fake.calls())
	assert.Empty(t, rec.sleeps)
}

func TestWriteRetriesTransientFailures(t *testing.T) {
	fake := &fakeInflux{statuses: []int{http.StatusServiceUnavailable, http.StatusInternalServerError, http.StatusNoContent}}
	rec := &recorder{}
	opts := influx.DefaultOptions()
	opts.JitterInterval = 0
	sink := newTestSink(t, fake, opts, rec)

	err := sink.Write(context.Background(), testBatch(
		population.Measurement{Map: "de_nuke", Region: population.China, MaxPlayers: 10, Players: 1},
	))
	require.NoError(t, err)

	assert.Equal(t, 3, fake.calls())
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, rec.sleeps)
}

func TestWriteRetriesExhausted(t *testing.T) {
	fake := &fakeInflux{statuses: []int{http.StatusServiceUnavailable}}
	rec := &recorder{}
	opts := influx.DefaultOptions()
	opts.JitterInterval = 0
	sink := newTestSink(t, fake, opts, rec)

	err := sink.Write(context.Background(), testBatch(
		population.Measurement{Map: "de_nuke", Region: population.China, MaxPlayers: 10, Players: 1},
	))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, influx.ErrRetriesExhausted), err.Error())

	assert.Equal(t, 6, fake.calls())
	assert.Equal(t, []time.Duration{
		5 * time.Second, 10 * time.Second, 20 * time.Second, 30 * time.Second, 30 * time.Second,
	}, rec.sleeps)
}

func TestWriteHonoursRetryAfter(t *testing.T) {
	fake := &fakeInflux{
		statuses:   []int{http.StatusTooManyRequests, http.StatusNoContent},
		retryAfter: "12",
	}
	rec := &recorder{}
	opts := influx.DefaultOptions()
	opts.JitterInterval = 0
	sink := newTestSink(t, fake, opts, rec)

	err := sink.Write(context.Background(), testBatch(
		population.Measurement{Map: "de_nuke", Region: population.China, MaxPlayers: 10, Players: 1},
	))
	require.NoError(t, err)

	assert.Equal(t, 2, fake.calls())
	assert.Equal(t, []time.Duration{12 * time.Second}, rec.sleeps)
}

func TestWriteCancelledDuringBackoff(t *testing.T) {
	fake := &fakeInflux{statuses: []int{http.StatusServiceUnavailable}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &recorder{cancel: cancel}
	opts := influx.DefaultOptions()
	opts.JitterInterval = 0
	sink := newTestSink(t, fake, opts, rec)

	err := sink.Write(ctx, testBatch(
		population.Measurement{Map: "de_nuke", Region: population.China, MaxPlayers: 10, Players: 1},
	))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, influx.ErrWriteAborted), err.Error())

	assert.Equal(t, 1, fake.calls())
	assert.Equal(t, []time.Duration{5 * time.Second}, rec.sleeps)
}

func TestWriteWithoutRetries(t *testing.T) {
	fake := &fakeInflux{statuses: []int{http.StatusServiceUnavailable}}
	rec := &recorder{}
	opts := influx.DefaultOptions()
	opts.JitterInterval = 0
	opts.MaxRetries = 0
	sink := newTestSink(t, fake, opts, rec)

	err := sink.Write(context.Background(), testBatch(
		population.Measurement{Map: "de_nuke", Region: population.China, MaxPlayers: 10, Players: 1},
	))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, influx.ErrRetriesExhausted), err.Error())
	assert.Equal(t, 1, fake.calls())
	assert.Empty(t, rec.sleeps)
}

func TestWriteRejectedIsNotRetried(t *testing.T) {
	fake := &fakeInflux{statuses: []int{http.StatusBadRequest}}
	rec := &recorder{}
	opts := influx.DefaultOptions()
	opts.JitterInterval = 0
	sink := newTestSink(t, fake, opts, rec)

	err := sink.Write(context.Background(), testBatch(
		population.Measurement{Map: "de_nuke", Region: population.China, MaxPlayers: 10, Players: 1},
	))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, influx.ErrWriteRejected), err.Error())
	assert.Equal(t, 1, fake.calls())
	assert.Empty(t, rec.sleeps)
}

func TestWriteEmptyBatchSkipsNetwork(t *testing.T) {
	fake := &fakeInflux{}
	sink := newTestSink(t, fake, influx.DefaultOptions(), &recorder{})

	require.NoError(t, sink.Write(context.Background(), testBatch()))
	require.NoError(t, sink.Write(context.Background(), nil))
	assert.Zero(t, fake.calls())
}

func TestNewSinkValidates(t *testing.T) {
	_, err := influx.NewSink(influx.Credentials{Token: "t"}, influx.DefaultOptions())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, influx.ErrInvalidCredentials))
	assert.Contains(t, err.Error(), "org, bucket, url")

	opts := influx.DefaultOptions()
	opts.BatchSize = 0
	_, err = influx.NewSink(influx.Credentials{Token: "t", Org: "o", Bucket: "b", URL: "http://x"}, opts)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, influx.ErrInvalidConfig))
}

func TestLoadCredentials(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "influxdb_cred.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"token":"t","org":"o","bucket":"b","url":"http://localhost:8086"}`), 0o600))
	creds, err := influx.LoadCredentials(good)
	require.NoError(t, err)
	assert.Equal(t, influx.Credentials{Token: "t", Org: "o", Bucket: "b", URL: "http://localhost:8086"}, creds)

	partial := filepath.Join(dir, "partial.json")
	require.NoError(t, os.WriteFile(partial, []byte(`{"token":"t","org":"o"}`), 0o600))
	_, err = influx.LoadCredentials(partial)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, influx.ErrInvalidCredentials))

	broken := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte(`{"token":`), 0o600))
	_, err = influx.LoadCredentials(broken)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, influx.ErrInvalidCredentials))

	_, err = influx.LoadCredentials(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, influx.ErrReadCredentials))
}
