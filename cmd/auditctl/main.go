// Command auditctl runs operational tasks against the audit store:
// compliance report generation, criteria search, retention purge and
// security event resolution.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	domainaudit "github.com/scoopworks/retail-audit-backend/internal/domain/audit"
	domainsecurity "github.com/scoopworks/retail-audit-backend/internal/domain/security"
	"github.com/scoopworks/retail-audit-backend/internal/infrastructure/cache"
	"github.com/scoopworks/retail-audit-backend/internal/infrastructure/config"
	"github.com/scoopworks/retail-audit-backend/internal/infrastructure/database"
	"github.com/scoopworks/retail-audit-backend/internal/infrastructure/telemetry"
	auditsvc "github.com/scoopworks/retail-audit-backend/internal/service/audit"
	securitysvc "github.com/scoopworks/retail-audit-backend/internal/service/security"
)

func main() {
	var (
		action   = flag.String("action", "report", "Action: report, search, purge, resolve")
		criteria = flag.String("criteria", "{}", "Search criteria as JSON (for search)")
		keepDays = flag.Int("keep-days", 365, "Retention in days (for purge)")
		eventID  = flag.String("event-id", "", "Security event id (for resolve)")
		toStatus = flag.String("to", "", "Target workflow status (for resolve)")
		resolver = flag.String("resolved-by", "", "Resolver identity (for resolve)")
		notes    = flag.String("notes", "", "Resolution notes (for resolve)")
	)
	flag.Parse()

	opts := cliOptions{
		action:       *action,
		criteriaJSON: *criteria,
		keepDays:     *keepDays,
		eventID:      *eventID,
		toStatus:     *toStatus,
		resolver:     *resolver,
		notes:        *notes,
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := telemetry.SetupLogger(cfg.LogLevel)
	if err != nil {
		slog.Error("failed to setup logger", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if err := run(context.Background(), cfg, logger, opts); err != nil {
		slog.Error("auditctl failed", "action", opts.action, "error", err)
		os.Exit(1)
	}
}

type cliOptions struct {
	action       string
	criteriaJSON string
	keepDays     int
	eventID      string
	toStatus     string
	resolver     string
	notes        string
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts cliOptions) error {
	zapLogger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer zapLogger.Sync()

	pool, err := database.NewPool(ctx, &cfg.Database, zapLogger)
	if err != nil {
		return err
	}
	defer pool.Close()

	audits := database.NewAuditRepository(pool, cfg.Database.StoreTimeout)
	incidents := database.NewSecurityRepository(pool, cfg.Database.StoreTimeout)
	maintenance := database.NewMaintenanceRepository(pool, cfg.Database.StoreTimeout)
	users := database.NewUserDirectory(pool, cfg.Database.StoreTimeout)

	limiter := newLimiter(ctx, cfg, zapLogger)
	queries := auditsvc.NewService(audits, limiter, auditsvc.QueryLimits{
		Requests: cfg.RateLimit.Requests,
		Window:   cfg.RateLimit.Window,
	}, logger)

	switch opts.action {
	case "report":
		gen := auditsvc.NewComplianceGenerator(audits, incidents, maintenance, users,
			cfg.Report.Window, logger)
		report, err := gen.Generate(ctx)
		if err != nil {
			return err
		}
		return printJSON(report)

	case "search":
		var c domainaudit.SearchCriteria
		if err := json.Unmarshal([]byte(opts.criteriaJSON), &c); err != nil {
			return fmt.Errorf("parsing criteria: %w", err)
		}
		if c.Limit == 0 {
			c.Limit = 100
		}
		records, err := queries.Search(ctx, "auditctl", c)
		if err != nil {
			return err
		}
		return printJSON(records)

	case "purge":
		cutoff := time.Now().UTC().AddDate(0, 0, -opts.keepDays)
		removed, err := queries.PurgeOlderThan(ctx, cutoff)
		if err != nil {
			return err
		}
		fmt.Printf("purged %d records older than %s\n", removed, cutoff.Format(time.RFC3339))
		return nil

	case "resolve":
		id, err := uuid.Parse(opts.eventID)
		if err != nil {
			return fmt.Errorf("parsing event id: %w", err)
		}
		workflow := securitysvc.NewService(incidents, logger)
		event, err := workflow.Resolve(ctx, securitysvc.ResolutionRequest{
			EventID:    id,
			To:         domainsecurity.EventStatus(opts.toStatus),
			ResolvedBy: opts.resolver,
			Notes:      opts.notes,
		})
		if err != nil {
			return err
		}
		return printJSON(event)

	default:
		return fmt.Errorf("unknown action %q", opts.action)
	}
}

// newLimiter prefers the shared Redis limiter so throttling holds across
// auditctl and any other query client; without Redis it degrades to a local
// per-process limiter.
func newLimiter(ctx context.Context, cfg *config.Config, logger *zap.Logger) cache.RateLimiter {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, using local rate limiter", zap.Error(err))
		return cache.NewLocalRateLimiter()
	}
	return cache.NewRedisRateLimiter(client, logger)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
