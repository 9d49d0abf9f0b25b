// Command seed-db loads development fixtures: users with API keys,
// restaurants, and products. It is idempotent per run only in the sense
// that it appends; point it at a fresh database.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/deliverus/orderd/internal/handler"
	"github.com/deliverus/orderd/internal/storage/postgres"
)

type fixtures struct {
	Users []struct {
		Name   string `json:"name"`
		Role   string `json:"role"`
		APIKey string `json:"apiKey"`
	} `json:"users"`
	Restaurants []struct {
		OwnerName     string          `json:"ownerName"`
		Name          string          `json:"name"`
		ShippingCosts decimal.Decimal `json:"shippingCosts"`
	} `json:"restaurants"`
	Products []struct {
		RestaurantName string          `json:"restaurantName"`
		Name           string          `json:"name"`
		Price          decimal.Decimal `json:"price"`
		Availability   bool            `json:"availability"`
	} `json:"products"`
}

func main() {
	var (
		databaseURL  string
		fixturesFile string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&fixturesFile, "fixtures-file", "db/seed/fixtures.json", "path to fixtures JSON file")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or ORDERD_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("ORDERD_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, fixturesFile, []byte(apiKeyPepper)); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, fixturesFile string, pepper []byte) error {
	raw, err := os.ReadFile(fixturesFile)
	if err != nil {
		return errors.Wrap(err, "read fixtures")
	}
	var fx fixtures
	if err := json.Unmarshal(raw, &fx); err != nil {
		return errors.Wrap(err, "parse fixtures")
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "create pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	userIDs := make(map[string]int64, len(fx.Users))
	for _, u := range fx.Users {
		var id int64
		err := pool.QueryRow(ctx,
			`INSERT INTO users (name, role, api_key_hash) VALUES ($1, $2, $3) RETURNING id`,
			u.Name, u.Role, handler.HashAPIKey(u.APIKey, pepper),
		).Scan(&id)
		if err != nil {
			return errors.Wrapf(err, "insert user %s", u.Name)
		}
		userIDs[u.Name] = id
		slog.Info("seeded user", slog.String("name", u.Name), slog.String("role", u.Role))
	}

	restaurantIDs := make(map[string]int64, len(fx.Restaurants))
	for _, r := range fx.Restaurants {
		ownerID, ok := userIDs[r.OwnerName]
		if !ok {
			return errors.Errorf("restaurant %s: unknown owner %s", r.Name, r.OwnerName)
		}
		var id int64
		err := pool.QueryRow(ctx,
			`INSERT INTO restaurants (owner_id, name, shipping_costs) VALUES ($1, $2, $3) RETURNING id`,
			ownerID, r.Name, r.ShippingCosts,
		).Scan(&id)
		if err != nil {
			return errors.Wrapf(err, "insert restaurant %s", r.Name)
		}
		restaurantIDs[r.Name] = id
		slog.Info("seeded restaurant", slog.String("name", r.Name))
	}

	for _, p := range fx.Products {
		restaurantID, ok := restaurantIDs[p.RestaurantName]
		if !ok {
			return errors.Errorf("product %s: unknown restaurant %s", p.Name, p.RestaurantName)
		}
		_, err := pool.Exec(ctx,
			`INSERT INTO products (restaurant_id, name, price, availability) VALUES ($1, $2, $3, $4)`,
			restaurantID, p.Name, p.Price, p.Availability,
		)
		if err != nil {
			return errors.Wrapf(err, "insert product %s", p.Name)
		}
	}
	slog.Info("seeded products", slog.Int("count", len(fx.Products)))

	return nil
}
