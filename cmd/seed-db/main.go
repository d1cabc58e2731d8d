// Command seed-db creates demo accounts and discount codes and prints bearer
// tokens for them.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/bytekart/internal/domain/account"
	"github.com/xenking/bytekart/internal/domain/discount"
	"github.com/xenking/bytekart/internal/identity"
	"github.com/xenking/bytekart/internal/storage/postgres"
)

// Fixed ids keep tokens printed by earlier runs valid across reseeds.
var (
	adminID    = uuid.MustParse("00000000-0000-4000-8000-00000000a001")
	customerID = uuid.MustParse("00000000-0000-4000-8000-00000000c001")
)

var seedAccounts = []account.Account{
	{ID: adminID, Email: "admin@bytekart.local", Name: "ByteKart Admin", Role: account.RoleAdmin},
	{ID: customerID, Email: "asha@bytekart.local", Name: "Asha Rao", Role: account.RoleUser},
}

var seedCodes = []discount.Code{
	{Code: "WELCOME10", Kind: discount.KindPercentage, Value: decimal.NewFromInt(10), MaxRedemptions: 1000, Active: true},
	{Code: "FLAT200", Kind: discount.KindFixed, Value: decimal.NewFromInt(200), MaxRedemptions: 100, Active: true},
	{Code: "LASTONE", Kind: discount.KindPercentage, Value: decimal.NewFromInt(50), MaxRedemptions: 1, Active: true},
	{Code: "RETIRED", Kind: discount.KindFixed, Value: decimal.NewFromInt(500), MaxRedemptions: 10, Active: false},
}

func main() {
	var (
		databaseURL string
		hmacSecret  string
		tokenTTL    time.Duration
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&hmacSecret, "hmac-secret", "", "HS256 secret to sign demo tokens with (or BYTEKART_AUTH_HMAC_SECRET env)")
	flag.DurationVar(&tokenTTL, "token-ttl", 30*24*time.Hour, "lifetime of the printed tokens")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if hmacSecret == "" {
		hmacSecret = os.Getenv("BYTEKART_AUTH_HMAC_SECRET")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, hmacSecret, tokenTTL); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, hmacSecret string, tokenTTL time.Duration) error {
	slog.Info("connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")
	if err := postgres.RunMigrations(databaseURL); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	accounts := postgres.NewAccountRepository(pool)
	for i := range seedAccounts {
		a := &seedAccounts[i]
		if err := accounts.Upsert(ctx, a); err != nil {
			return errors.Wrapf(err, "upsert account %s", a.Email)
		}
		slog.Info("upserted account", slog.String("id", a.ID.String()), slog.String("role", string(a.Role)))
	}

	if err := seedDiscounts(ctx, discount.NewService(postgres.NewDiscountRepository(pool))); err != nil {
		return err
	}

	if hmacSecret == "" {
		slog.Warn("no HS256 secret given, skipping demo tokens")
		return nil
	}
	for _, a := range seedAccounts {
		token, err := identity.IssueHS256(hmacSecret, a.ID, tokenTTL)
		if err != nil {
			return errors.Wrapf(err, "issue token for %s", a.Email)
		}
		fmt.Printf("%s (%s)\n  Authorization: Bearer %s\n", a.Email, a.Role, token)
	}
	return nil
}

type codeCreator interface {
	Create(ctx context.Context, c discount.Code) (*discount.Code, error)
}

// seedDiscounts creates the demo codes. Codes that already exist are kept as
// they are, including their redemption counts.
func seedDiscounts(ctx context.Context, codes codeCreator) error {
	for _, c := range seedCodes {
		created, err := codes.Create(ctx, c)
		switch {
		case errors.Is(err, discount.ErrCodeExists):
			slog.Info("discount code exists", slog.String("code", c.Code))
		case err != nil:
			return errors.Wrapf(err, "create discount code %s", c.Code)
		default:
			slog.Info("created discount code",
				slog.String("code", created.Code),
				slog.String("kind", string(created.Kind)),
				slog.String("value", created.Value.String()),
			)
		}
	}
	return nil
}
