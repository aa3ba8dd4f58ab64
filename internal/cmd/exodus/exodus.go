// Package exodus parses command flags and launches the exodus runtime.
package exodus

import (
	"context"
	"flag"
	"time"

	"github.com/brchase/exodus/internal/exodus/app"
	"github.com/brchase/exodus/internal/exodus/fleet"
	entrypoint "github.com/brchase/exodus/internal/platform/cmd"
)

// Config holds exodus command configuration.
type Config struct {
	Port                  int           `env:"EXODUS_PORT" envDefault:"8094"`
	DBPath                string        `env:"EXODUS_DB_PATH" envDefault:"data/exodus.db"`
	AuditPath             string        `env:"EXODUS_AUDIT_DB_PATH" envDefault:"data/exodus-audit.db"`
	Locale                string        `env:"EXODUS_LOCALE" envDefault:"en-US"`
	MinBroadcastOccupancy int           `env:"EXODUS_MIN_BROADCAST_OCCUPANCY" envDefault:"16"`
	DwellTickInterval     time.Duration `env:"EXODUS_DWELL_TICK_INTERVAL" envDefault:"1m"`
	ReminderInterval      time.Duration `env:"EXODUS_REMINDER_INTERVAL" envDefault:"5m"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The exodus health gRPC server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The exodus SQLite database path")
	fs.StringVar(&cfg.AuditPath, "audit-db-path", cfg.AuditPath, "The exodus audit BoltDB path")
	fs.StringVar(&cfg.Locale, "locale", cfg.Locale, "Locale for outbound campaign copy")
	fs.IntVar(&cfg.MinBroadcastOccupancy, "min-broadcast-occupancy", cfg.MinBroadcastOccupancy, "Minimum node occupancy to receive campaign broadcasts")
	fs.DurationVar(&cfg.DwellTickInterval, "dwell-tick-interval", cfg.DwellTickInterval, "Dwell-minute accrual interval")
	fs.DurationVar(&cfg.ReminderInterval, "reminder-interval", cfg.ReminderInterval, "Campaign reminder broadcast interval")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the exodus runtime with loopback fleet collaborators.
// Deployments embedding a real fleet gateway call app.Run directly with
// their own adapters.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceExodus, func(ctx context.Context) error {
		loopback := fleet.NewLoopback()
		return app.Run(ctx, app.RuntimeConfig{
			Port:                  cfg.Port,
			DBPath:                cfg.DBPath,
			AuditPath:             cfg.AuditPath,
			Locale:                cfg.Locale,
			MinBroadcastOccupancy: cfg.MinBroadcastOccupancy,
			DwellTickInterval:     cfg.DwellTickInterval,
			ReminderInterval:      cfg.ReminderInterval,
		}, app.Collaborators{
			Feed:      loopback.Feed(),
			Transport: loopback.Transport(),
			Ledger:    loopback.Ledger(),
		})
	})
}
