// Command seed-db loads a storefront catalog and an admin API key into
// PostgreSQL. The catalog is a JSON document, optionally gzip-compressed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront-fulfillment/internal/domain/auth"
	"github.com/xenking/storefront-fulfillment/internal/repository"
)

type catalogJSON struct {
	Users     []userJSON    `json:"users"`
	Addresses []addressJSON `json:"addresses"`
	Products  []productJSON `json:"products"`
	Variants  []variantJSON `json:"variants"`
	Sizes     []sizeJSON    `json:"sizes"`
	Stock     []stockJSON   `json:"stock"`
	Bundles   []bundleJSON  `json:"bundles"`
}

type userJSON struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type addressJSON struct {
	ID      int64  `json:"id"`
	UserID  int64  `json:"user_id"`
	Line1   string `json:"line1"`
	City    string `json:"city"`
	Country string `json:"country"`
}

type productJSON struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

type variantJSON struct {
	ID        int64           `json:"id"`
	ProductID int64           `json:"product_id"`
	ColorName string          `json:"color_name"`
	Price     decimal.Decimal `json:"price"`
	Image     string          `json:"image"`
}

type sizeJSON struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type stockJSON struct {
	VariantID int64 `json:"variant_id"`
	SizeID    int64 `json:"size_id"`
	Quantity  int   `json:"quantity"`
}

type bundleJSON struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Kind     string          `json:"kind"`
	Price    decimal.Decimal `json:"price"`
	Products []int64         `json:"products"`
}

const (
	upsertUserSQL = `INSERT INTO users (id, email, name) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, name = EXCLUDED.name`

	upsertAddressSQL = `INSERT INTO addresses (id, user_id, line1, city, country) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET user_id = EXCLUDED.user_id, line1 = EXCLUDED.line1,
	city = EXCLUDED.city, country = EXCLUDED.country`

	upsertProductSQL = `INSERT INTO products (id, name, category) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, category = EXCLUDED.category`

	upsertVariantSQL = `INSERT INTO product_variants (id, product_id, color_name, price, image) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET product_id = EXCLUDED.product_id, color_name = EXCLUDED.color_name,
	price = EXCLUDED.price, image = EXCLUDED.image`

	upsertSizeSQL = `INSERT INTO sizes (id, name) VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`

	upsertStockSQL = `INSERT INTO stock_units (variant_id, size_id, available_quantity) VALUES ($1, $2, $3)
ON CONFLICT (variant_id, size_id) DO UPDATE SET available_quantity = EXCLUDED.available_quantity`

	upsertBundleSQL = `INSERT INTO bundles (id, name, kind, price) VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, kind = EXCLUDED.kind, price = EXCLUDED.price`

	linkBundleSQL = `INSERT INTO bundle_products (bundle_id, product_id) VALUES ($1, $2)
ON CONFLICT DO NOTHING`
)

// serialTables have explicit ids in the seed; their sequences must follow.
var serialTables = []string{"users", "addresses", "products", "product_variants", "sizes", "bundles"}

func main() {
	var (
		databaseURL  string
		catalogFile  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file (.json or .json.gz)")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or STORE_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or STORE_ADMIN_API_KEY_PEPPER env)")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if apiKey == "" {
		apiKey = os.Getenv("STORE_SEED_API_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("STORE_ADMIN_API_KEY_PEPPER")
	}
	if apiKey != "" && apiKeyPepper == "" {
		lg.Fatal("API key pepper is required with --api-key")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, catalogFile, apiKey, apiKeyPepper); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, catalogFile, apiKey, pepper string) error {
	lg.Info("Connecting to database")
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	c, err := readCatalog(catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog")
	}
	lg.Info("Loaded catalog",
		zap.String("path", catalogFile),
		zap.Int("users", len(c.Users)),
		zap.Int("variants", len(c.Variants)),
		zap.Int("stock_units", len(c.Stock)),
		zap.Int("bundles", len(c.Bundles)),
	)

	if err := seedCatalog(ctx, pool, c); err != nil {
		return errors.Wrap(err, "seed catalog")
	}

	if apiKey == "" {
		lg.Info("No API key given, skipping")
		return nil
	}
	key := auth.APIKey{
		ID:      uuid.NewString(),
		KeyHash: auth.HashKey([]byte(pepper), apiKey),
		Name:    "Seeded admin key",
		Scopes:  []string{auth.ScopeAdmin},
	}
	if err := repository.NewAPIKeyRepository(pool).Save(ctx, key); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	lg.Info("Upserted API key", zap.String("name", key.Name), zap.Strings("scopes", key.Scopes))
	return nil
}

func readCatalog(path string) (*catalogJSON, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "gzip")
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	var c catalogJSON
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	return &c, nil
}

// seedCatalog upserts the whole catalog in one transaction, parents first.
func seedCatalog(ctx context.Context, pool *pgxpool.Pool, c *catalogJSON) error {
	b := &pgx.Batch{}
	for _, u := range c.Users {
		b.Queue(upsertUserSQL, u.ID, u.Email, u.Name)
	}
	for _, a := range c.Addresses {
		b.Queue(upsertAddressSQL, a.ID, a.UserID, a.Line1, a.City, a.Country)
	}
	for _, p := range c.Products {
		b.Queue(upsertProductSQL, p.ID, p.Name, p.Category)
	}
	for _, v := range c.Variants {
		b.Queue(upsertVariantSQL, v.ID, v.ProductID, v.ColorName, v.Price, v.Image)
	}
	for _, s := range c.Sizes {
		b.Queue(upsertSizeSQL, s.ID, s.Name)
	}
	for _, s := range c.Stock {
		b.Queue(upsertStockSQL, s.VariantID, s.SizeID, s.Quantity)
	}
	for _, bd := range c.Bundles {
		b.Queue(upsertBundleSQL, bd.ID, bd.Name, bd.Kind, bd.Price)
		for _, pid := range bd.Products {
			b.Queue(linkBundleSQL, bd.ID, pid)
		}
	}
	for _, table := range serialTables {
		b.Queue(`SELECT setval(pg_get_serial_sequence('` + table + `', 'id'), GREATEST((SELECT MAX(id) FROM ` + table + `), 1))`)
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if err := tx.SendBatch(ctx, b).Close(); err != nil {
			return errors.Wrap(err, "upsert")
		}
		return nil
	})
}
