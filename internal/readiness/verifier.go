// Package readiness waits for an uploaded file to be fully written before ingestion reads it.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bull/pdfchat/internal/logger"
)

var (
	// ErrFileNotReady means the file never existed, stayed empty, or kept growing
	// for every attempt.
	ErrFileNotReady = errors.New("file not found or not stable")
	ErrInvalidPath  = errors.New("file path is empty")
)

// Config bounds the polling loop.
type Config struct {
	MaxAttempts int           // total checks, including the first
	Settle      time.Duration // gap between the two size reads of one check
	Retry       time.Duration // wait after a failed check
}

// DefaultConfig matches the upload flow: five checks, 200ms settle, one second between checks.
func DefaultConfig() Config {
	return Config{MaxAttempts: 5, Settle: 200 * time.Millisecond, Retry: time.Second}
}

// Verifier checks that a file exists, is non-empty, and has stopped growing.
type Verifier struct {
	cfg Config
	log *logger.Logger
}

func NewVerifier(cfg Config, log *logger.Logger) *Verifier {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Verifier{cfg: cfg, log: log}
}

// errNotStable marks a single failed check; it never escapes Wait.
type errNotStable struct {
	reason string
}

func (e *errNotStable) Error() string { return e.reason }

// Wait blocks until path is ready or attempts run out. It returns the stable size.
// Exhaustion yields ErrFileNotReady; a canceled context yields ctx.Err().
func (v *Verifier) Wait(ctx context.Context, path string) (int64, error) {
	if path == "" {
		return 0, ErrInvalidPath
	}

	var size int64
	attempt := 0
	operation := func() error {
		attempt++
		s, err := v.check(ctx, path)
		if err != nil {
			var notStable *errNotStable
			if errors.As(err, &notStable) {
				return err
			}
			// Permission errors and the like will not fix themselves.
			return backoff.Permanent(err)
		}
		size = s
		return nil
	}

	notify := func(err error, wait time.Duration) {
		v.log.Debug("file not ready, retrying",
			"path", path,
			"attempt", attempt,
			"max_attempts", v.cfg.MaxAttempts,
			"reason", err.Error(),
			"wait", wait,
		)
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(v.cfg.Retry), uint64(v.cfg.MaxAttempts-1)),
		ctx,
	)

	err := backoff.RetryNotify(operation, b, notify)
	if err == nil {
		return size, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return 0, ctxErr
	}

	var notStable *errNotStable
	if errors.As(err, &notStable) {
		return 0, fmt.Errorf("%w: %s after %d attempts: %s", ErrFileNotReady, path, attempt, notStable.reason)
	}
	return 0, fmt.Errorf("%w: %s: %v", ErrFileNotReady, path, err)
}

// check performs one existence/size/settle/re-size probe.
func (v *Verifier) check(ctx context.Context, path string) (int64, error) {
	first, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, &errNotStable{reason: "file does not exist"}
	}
	if err != nil {
		return 0, err
	}
	if first.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}
	if first.Size() == 0 {
		return 0, &errNotStable{reason: "file is empty"}
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(v.cfg.Settle):
	}

	second, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, &errNotStable{reason: "file disappeared during settle"}
	}
	if err != nil {
		return 0, err
	}
	if second.Size() != first.Size() {
		return 0, &errNotStable{reason: fmt.Sprintf("size changed from %d to %d", first.Size(), second.Size())}
	}
	return second.Size(), nil
}
