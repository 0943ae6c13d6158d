// Package telemetry forwards daemon failures to Sentry. Without a DSN
// nothing is sent and every helper returns immediately.
package telemetry

import (
	"runtime"
	"time"

	gosentry "github.com/getsentry/sentry-go"
)

const flushTimeout = 2 * time.Second

var enabled bool

func clientOptions(dsn, version string) gosentry.ClientOptions {
	return gosentry.ClientOptions{
		Dsn:              dsn,
		Release:          "pnp@" + version,
		AttachStacktrace: true,
		SampleRate:       1.0,
		Tags: map[string]string{
			"os":         runtime.GOOS,
			"arch":       runtime.GOARCH,
			"go_version": runtime.Version(),
		},
	}
}

// Init starts reporting to dsn. A blank dsn leaves reporting off.
func Init(dsn, version string) error {
	enabled = false
	if dsn == "" {
		return nil
	}
	if err := gosentry.Init(clientOptions(dsn, version)); err != nil {
		return err
	}
	enabled = true
	return nil
}

// Flush blocks until queued events are delivered or flushTimeout passes.
func Flush() {
	if enabled {
		gosentry.Flush(flushTimeout)
	}
}

// RecoverPanic must be deferred directly. It reports the panic and lets it
// continue unwinding.
func RecoverPanic() {
	if !enabled {
		return
	}
	r := recover()
	if r == nil {
		return
	}
	gosentry.CurrentHub().Recover(r)
	Flush()
	panic(r)
}

// SetTarget tags later events with the tmux target and backend in use.
func SetTarget(targetID, backend string) {
	if !enabled {
		return
	}
	gosentry.ConfigureScope(func(scope *gosentry.Scope) {
		scope.SetTag("target", targetID)
		scope.SetTag("backend", backend)
	})
}
