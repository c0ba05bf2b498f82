package influx

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/serverpop/internal/errors"
	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMeasurement     = "player_count"
	DefaultBatchSize       = 500
	DefaultFlushInterval   = 10 * time.Second
	DefaultJitterInterval  = 2 * time.Second
	DefaultRetryInterval   = 5 * time.Second
	DefaultMaxRetries      = 5
	DefaultMaxRetryDelay   = 30 * time.Second
	DefaultExponentialBase = 2
)

// Credentials locate and authenticate against an InfluxDB v2 bucket.
type Credentials struct {
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
	URL    string `json:"url"`
}

func (c Credentials) Validate() error {
	var missing []string
	if c.Token == "" {
		missing = append(missing, "token")
	}
	if c.Org == "" {
		missing = append(missing, "org")
	}
	if c.Bucket == "" {
		missing = append(missing, "bucket")
	}
	if c.URL == "" {
		missing = append(missing, "url")
	}
	if len(missing) > 0 {
		return errors.New().WithData(ErrInvalidCredentials, "missing "+strings.Join(missing, ", "))
	}
	return nil
}

// LoadCredentials reads a JSON credentials file with token, org, bucket and url.
func LoadCredentials(path string) (Credentials, error) {
	errFactory := errors.New()

	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, errFactory.Wrap(ErrReadCredentials, err)
	}

	var creds Credentials
	if err := sonic.ConfigStd.Unmarshal(data, &creds); err != nil {
		return Credentials{}, errFactory.Wrap(ErrInvalidCredentials, err)
	}
	if err := creds.Validate(); err != nil {
		return Credentials{}, err
	}

	return creds, nil
}

// Options control batching and retry behaviour of the sink.
type Options struct {
	Measurement     string
	BatchSize       int
	FlushInterval   time.Duration
	JitterInterval  time.Duration
	RetryInterval   time.Duration
	MaxRetries      int
	MaxRetryDelay   time.Duration
	ExponentialBase int
}

func DefaultOptions() Options {
	return Options{
		Measurement:     DefaultMeasurement,
		BatchSize:       DefaultBatchSize,
		FlushInterval:   DefaultFlushInterval,
		JitterInterval:  DefaultJitterInterval,
		RetryInterval:   DefaultRetryInterval,
		MaxRetries:      DefaultMaxRetries,
		MaxRetryDelay:   DefaultMaxRetryDelay,
		ExponentialBase: DefaultExponentialBase,
	}
}

func (o Options) Validate() error {
	errFactory := errors.New()

	switch {
	case o.Measurement == "":
		return errFactory.WithData(ErrInvalidConfig, "measurement is empty")
	case o.BatchSize <= 0:
		return errFactory.WithData(ErrInvalidConfig, fmt.Sprintf("batch size must be positive, got %d", o.BatchSize))
	case o.FlushInterval <= 0:
		return errFactory.WithData(ErrInvalidConfig, "flush interval must be positive")
	case o.JitterInterval < 0, o.RetryInterval < 0, o.MaxRetryDelay < 0:
		return errFactory.WithData(ErrInvalidConfig, "intervals must not be negative")
	case o.MaxRetries < 0:
		return errFactory.WithData(ErrInvalidConfig, "max retries must not be negative")
	case o.ExponentialBase < 1:
		return errFactory.WithData(ErrInvalidConfig, "exponential base must be at least 1")
	}
	return nil
}

// backOff returns the retry schedule: RetryInterval growing by
// ExponentialBase up to MaxRetryDelay, without randomisation. A zero
// MaxRetryDelay leaves the delay uncapped.
func (o Options) backOff() *backoff.ExponentialBackOff {
	maxInterval := o.MaxRetryDelay
	if maxInterval <= 0 {
		maxInterval = time.Duration(math.MaxInt64)
	}

	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(o.RetryInterval),
		backoff.WithMultiplier(float64(o.ExponentialBase)),
		backoff.WithMaxInterval(maxInterval),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxElapsedTime(0),
	)
}
