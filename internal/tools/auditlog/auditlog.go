// Package auditlog inspects the audit trail written by the exodus runtime.
package auditlog

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	auditbbolt "github.com/brchase/exodus/internal/exodus/audit/bbolt"
)

// Config holds audit-log command configuration.
type Config struct {
	AuditDBPath string
	Limit       int
	Action      string
	JSONOutput  bool
	Timeout     time.Duration
}

type envConfig struct {
	AuditDBPath string        `env:"EXODUS_AUDIT_DB_PATH"`
	Timeout     time.Duration `env:"EXODUS_AUDIT_LOG_TIMEOUT" envDefault:"30s"`
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var envCfg envConfig
	if err := env.Parse(&envCfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg := Config{
		AuditDBPath: envCfg.AuditDBPath,
		Limit:       50,
		Timeout:     envCfg.Timeout,
	}
	if cfg.AuditDBPath == "" {
		cfg.AuditDBPath = filepath.Join("data", "exodus-audit.db")
	}

	fs.StringVar(&cfg.AuditDBPath, "audit-db-path", cfg.AuditDBPath, "path to audit bolt database (default: EXODUS_AUDIT_DB_PATH or data/exodus-audit.db)")
	fs.IntVar(&cfg.Limit, "limit", cfg.Limit, "max entries to print, newest first")
	fs.StringVar(&cfg.Action, "action", "", "optional action filter (e.g. session_created, reward_granted)")
	fs.BoolVar(&cfg.JSONOutput, "json", false, "output JSON entries")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes the audit-log command.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if cfg.Limit <= 0 {
		return errors.New("-limit must be positive")
	}

	store, err := auditbbolt.Open(cfg.AuditDBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Recent(ctx, cfg.Limit)
	if err != nil {
		return err
	}
	if action := strings.TrimSpace(cfg.Action); action != "" {
		filtered := entries[:0]
		for _, entry := range entries {
			if string(entry.Action) == action {
				filtered = append(filtered, entry)
			}
		}
		entries = filtered
	}

	if cfg.JSONOutput {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(entries)
	}

	for _, entry := range entries {
		fmt.Fprintf(out, "%s %-18s actor=%s target=%s %s\n",
			entry.RecordedAt.UTC().Format(time.RFC3339),
			entry.Action, entry.ActorID, entry.TargetID, entry.Description)
		if len(entry.Metadata) > 0 {
			keys := make([]string, 0, len(entry.Metadata))
			for key := range entry.Metadata {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				fmt.Fprintf(out, "  %s=%s\n", key, entry.Metadata[key])
			}
		}
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "no audit entries found")
	}
	return nil
}
