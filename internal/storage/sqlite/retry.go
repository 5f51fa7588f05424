package sqlite

import (
	"strings"
	"time"

	"github.com/banshee-data/shiftstack/internal/timeutil"
)

const (
	busyRetries   = 5
	busyBaseDelay = 10 * time.Millisecond
)

// retryOnBusy runs fn, retrying with exponential backoff while SQLite
// reports the database as locked. Other errors return immediately.
func retryOnBusy(fn func() error) error {
	return retryOnBusyWith(timeutil.RealClock{}, fn)
}

func retryOnBusyWith(clock timeutil.Clock, fn func() error) error {
	delay := busyBaseDelay
	var err error
	for attempt := 1; attempt <= busyRetries; attempt++ {
		err = fn()
		if err == nil || !isSQLiteBusy(err) {
			return err
		}
		if attempt < busyRetries {
			clock.Sleep(delay)
			delay *= 2
		}
	}
	return err
}

// isSQLiteBusy reports whether err is a lock contention error.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
