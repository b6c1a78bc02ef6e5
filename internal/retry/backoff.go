package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// Profile configures exponential backoff for one class of errors.
type Profile struct {
	BaseDelay   time.Duration `json:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay"`
	MinDelay    time.Duration `json:"min_delay"`
	JitterRatio float64       `json:"jitter_ratio"` // multiplicative, e.g. 0.2 = ±20%
	MaxElapsed  time.Duration `json:"max_elapsed"`  // hard ceiling on total time spent
	MinAttempts int           `json:"min_attempts"` // 0 = caller-supplied budget only
}

// StandardProfile covers ordinary transient failures (network, 5xx).
func StandardProfile() Profile {
	return Profile{
		BaseDelay:   1 * time.Second,
		MaxDelay:    8 * time.Second,
		MinDelay:    0,
		JitterRatio: 0.2,
		MaxElapsed:  60 * time.Second,
	}
}

// QuotaProfile covers rate-limit and quota-exhaustion failures, which deserve
// a materially larger time and attempt budget than ordinary transient errors.
func QuotaProfile() Profile {
	return Profile{
		BaseDelay:   30 * time.Second,
		MaxDelay:    300 * time.Second,
		MinDelay:    30 * time.Second,
		JitterRatio: 0.2,
		MaxElapsed:  1 * time.Hour,
		MinAttempts: 12,
	}
}

// Controller executes fallible operations with profile-specific backoff.
// The zero value is not usable; construct with New.
type Controller struct {
	standard Profile
	quota    Profile
	logger   zerolog.Logger

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64 // uniform in [-1, 1)
}

// Option customizes a Controller.
type Option func(*Controller)

// WithQuotaProfile overrides the quota profile (e.g. a configured elapsed
// ceiling or minimum attempt count).
func WithQuotaProfile(p Profile) Option {
	return func(c *Controller) { c.quota = p }
}

// WithStandardProfile overrides the standard profile.
func WithStandardProfile(p Profile) Option {
	return func(c *Controller) { c.standard = p }
}

// WithLogger attaches a logger for retry events.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithClock injects the time source and sleeper, used by tests to simulate
// long backoff sequences without waiting.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) {
		c.now = now
		c.sleep = sleep
	}
}

// WithJitterSource injects the jitter randomness source.
func WithJitterSource(fn func() float64) Option {
	return func(c *Controller) { c.jitter = fn }
}

// New builds a Controller with the standard and quota profiles.
func New(opts ...Option) *Controller {
	c := &Controller{
		standard: StandardProfile(),
		quota:    QuotaProfile(),
		logger:   zerolog.Nop(),
		now:      time.Now,
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
		jitter: func() float64 { return rand.Float64()*2 - 1 },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do runs op until it succeeds, the attempt budget runs out, the profile's
// elapsed ceiling would be crossed, or shouldRetry rejects the error. The
// last observed error is returned on failure. A nil shouldRetry retries
// every error.
//
// A quota-classified failure upgrades the remaining budget to the quota
// profile's minimum attempts if the caller asked for fewer.
func (c *Controller) Do(ctx context.Context, op func(ctx context.Context) error, attempts int, shouldRetry func(error) bool) error {
	start := c.now()
	budget := attempts
	if budget < 1 {
		budget = 1
	}
	profile := c.standard

	var lastErr error
	for attempt := 0; attempt < budget; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			if attempt > 0 {
				c.logger.Debug().Int("attempts", attempt+1).Msg("operation succeeded after retries")
			}
			return nil
		}
		lastErr = err

		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}

		if IsQuotaError(err) {
			profile = c.quota
			if budget < c.quota.MinAttempts {
				budget = c.quota.MinAttempts
			}
		}

		if attempt+1 >= budget {
			break
		}

		delay := c.delayFor(profile, attempt, err)
		if elapsed := c.now().Sub(start); elapsed+delay > profile.MaxElapsed {
			c.logger.Warn().
				Dur("elapsed", elapsed).
				Dur("next_delay", delay).
				Dur("ceiling", profile.MaxElapsed).
				Msg("abandoning retries: elapsed ceiling would be exceeded")
			return lastErr
		}

		c.logger.Debug().
			Int("attempt", attempt+1).
			Int("budget", budget).
			Dur("delay", delay).
			Err(err).
			Msg("operation failed, backing off")

		if err := c.sleep(ctx, delay); err != nil {
			return lastErr
		}
	}

	return lastErr
}

// delayFor computes min(cap, max(floor, base*2^attempt)), raises it to any
// provider-supplied retry-after hint, then applies jitter. The floor holds
// even after jitter.
func (c *Controller) delayFor(p Profile, attempt int, err error) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if delay < float64(p.MinDelay) {
		delay = float64(p.MinDelay)
	}

	if hint, ok := RetryAfterHint(err); ok && float64(hint) > delay {
		delay = float64(hint)
	}

	if p.JitterRatio > 0 {
		delay += delay * p.JitterRatio * c.jitter()
	}
	if delay < float64(p.MinDelay) {
		delay = float64(p.MinDelay)
	}
	if delay < 0 {
		delay = float64(p.BaseDelay)
	}
	return time.Duration(delay)
}
