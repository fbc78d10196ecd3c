// Package cmdutil builds the trust core for CLI commands.
package cmdutil

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/santedb/santedb-server-sub007/internal/auth"
	"github.com/santedb/santedb-server-sub007/internal/config"
	"github.com/santedb/santedb-server-sub007/internal/db/bunx"
	"github.com/santedb/santedb-server-sub007/internal/logging"
	"github.com/santedb/santedb-server-sub007/internal/services/iam"
	"github.com/santedb/santedb-server-sub007/internal/telemetry"
)

// CoreBundle bundles the trust core with its database connection and logger.
type CoreBundle struct {
	Core   *iam.Core
	DB     *bun.DB
	Logger *zap.Logger
	Config *config.Config

	// System is the principal every CLI operation acts as.
	System *auth.Principal
}

// Close flushes the logger and releases the database connection.
func (b *CoreBundle) Close() {
	if b == nil {
		return
	}
	if b.Logger != nil {
		_ = b.Logger.Sync()
	}
	if b.DB != nil {
		bunx.Close(b.DB)
	}
}

// NewCoreBundle loads the configuration and wires the trust core over it.
func NewCoreBundle(ctx context.Context) (*CoreBundle, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	db, err := bunx.NewDB(ctx, cfg.DatabaseURL, bunx.Options{MaxConnections: cfg.MaxDBConnections})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	metrics, err := telemetry.NewAuthMetrics()
	if err != nil {
		bunx.Close(db)
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	core, err := iam.NewCore(iam.Dependencies{DB: db, Metrics: metrics, Logger: logger}, cfg)
	if err != nil {
		bunx.Close(db)
		return nil, err
	}

	return &CoreBundle{
		Core:   core,
		DB:     db,
		Logger: logger,
		Config: cfg,
		System: auth.SystemPrincipal(),
	}, nil
}

// ParseKind maps a --kind flag value to an identity kind.
func ParseKind(s string) (auth.IdentityKind, error) {
	k := auth.IdentityKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown identity kind %q (want user, application or device)", s)
	}
	return k, nil
}

// ReadSecret returns flagValue, or the first line of in when fromStdin is set.
func ReadSecret(in io.Reader, out io.Writer, flagValue string, fromStdin bool) (string, error) {
	secret := flagValue
	if fromStdin {
		scanner := bufio.NewScanner(in)
		fmt.Fprint(out, "Enter secret: ")
		if scanner.Scan() {
			secret = scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("failed to read secret: %w", err)
		}
		fmt.Fprintln(out)
	}
	if secret == "" {
		return "", fmt.Errorf("secret is required (use --secret or --stdin)")
	}
	return secret, nil
}
