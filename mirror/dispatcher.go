// Package mirror runs the per-site sync commands.
package mirror

import (
	"context"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"

	"constellation-sync/models"
)

// Report counts what happened during a Dispatch. It's informational only.
type Report struct {
	Dispatched int
	Failed     int
}

// Dispatcher prints and runs the sync command for each site, one at a time.
type Dispatcher struct {
	template Template
	runner   Runner
	out      io.Writer
	timeout  time.Duration
	prober   Prober
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCommandTimeout kills a command that runs longer than timeout. Zero
// disables the limit.
func WithCommandTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

// WithProber checks each site with p before its command runs.
func WithProber(p Prober) Option {
	return func(d *Dispatcher) {
		d.prober = p
	}
}

// NewDispatcher creates a Dispatcher that prints each command line to out
// before handing it to runner.
func NewDispatcher(template Template, runner Runner, out io.Writer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		template: template,
		runner:   runner,
		out:      out,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch syncs every site in order. A failed command is logged and the
// next site is still synced. Dispatch only returns an error if ctx is
// cancelled, in which case the remaining sites are not synced.
func (d *Dispatcher) Dispatch(ctx context.Context, sites []models.Site) (Report, error) {
	var report Report
	for _, site := range sites {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		logger := log.WithField("address", site.Address)
		if site.Address == "" {
			logger.Warn("Site has no address")
		}

		if d.prober != nil {
			if err := d.prober.Probe(ctx, site.Address); err != nil {
				logger.WithError(err).Warn("Site did not respond to ssh probe")
			}
		}

		argv := d.template.Build(site)
		if _, err := fmt.Fprintln(d.out, d.template.String(site)); err != nil {
			logger.WithError(err).Debug("Failed to print command")
		}

		result, err := d.run(ctx, argv)
		report.Dispatched++
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Failed++
			entry := logger.WithError(err)
			if result != nil {
				entry = entry.WithField("exitCode", result.ExitCode)
			}
			entry.Warn("Sync command failed")
			continue
		}

		if result != nil {
			logger = logger.WithField("duration", result.Duration)
		}
		logger.Debug("Sync command finished")
	}
	return report, nil
}

func (d *Dispatcher) run(ctx context.Context, argv []string) (*Result, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	return d.runner.Run(ctx, argv)
}
