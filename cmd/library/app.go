// cmd/library/app.go
package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"libraryhub/internal/catalog"
	"libraryhub/internal/circulation"
	"libraryhub/internal/config"
	"libraryhub/internal/eventstore"
	"libraryhub/internal/logging"
	"libraryhub/internal/membership"
	"libraryhub/internal/reports"
	"libraryhub/internal/storage"
)

const throttleSize = 10000

// app is the wired process: one database, its stores and the services
// built on them.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	db     *storage.DB
	events *eventstore.EventStore

	books  *catalog.Store
	users  *membership.Store
	ledger *circulation.Ledger

	catalog     catalog.Service
	members     membership.Service
	circulation circulation.Service
	reports     reports.Service
}

func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := storage.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	throttle, err := membership.NewLoginThrottle(cfg.LoginRatePerMinute, throttleSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create login throttle: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, db: db}
	a.events = eventstore.NewEventStore(db)
	a.books = catalog.NewStore(db, a.events)
	a.users = membership.NewStore(db, a.events)
	a.ledger = circulation.NewLedger(db, a.events)

	a.catalog = catalog.NewService(db, a.books, a.ledger,
		catalog.WithLogger(logger.With().Str("component", "catalog").Logger()))
	a.members = membership.NewService(db, a.users, membership.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL),
		membership.WithLogger(logger.With().Str("component", "membership").Logger()),
		membership.WithThrottle(throttle))
	a.circulation = circulation.NewService(db, a.ledger, a.books, a.users,
		circulation.WithLogger(logger.With().Str("component", "circulation").Logger()),
		circulation.WithLoanPeriod(cfg.LoanPeriod))
	a.reports = reports.NewService(db, a.books, a.users, a.ledger,
		reports.WithLogger(logger.With().Str("component", "reports").Logger()))
	return a, nil
}

func (a *app) Close() error {
	return a.db.Close()
}
