package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/angelmondragon/storefront-backend/internal/bootstrap"
	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/migrate"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
)

func main() {
	cmd := flag.String("cmd", "up", "up|down|status|version|create|validate|seed-product")
	dir := flag.String("dir", "", "migrations directory (default: the embedded set; create writes to "+migrate.DefaultDir+")")
	name := flag.String("name", "", "migration name (create) or product name (seed-product)")
	version := flag.String("version", "", "target version YYYYMMDDHHMMSS (version)")
	sku := flag.String("sku", "", "product sku (seed-product)")
	category := flag.String("category", "", "product category (seed-product)")
	stock := flag.Int("stock", 0, "opening stock (seed-product)")
	threshold := flag.Int("threshold", 5, "low stock threshold (seed-product)")
	flag.Parse()

	switch *cmd {
	case "create":
		target := *dir
		if target == "" {
			target = migrate.DefaultDir
		}
		path, err := migrate.Create(target, *name, time.Now())
		exitOn(err, "create migration")
		fmt.Println("created migration:", path)
		return
	case "validate":
		fsys, err := migrate.Source(*dir)
		exitOn(err, "open migrations")
		exitOn(migrate.Validate(fsys), "validate migrations")
		fmt.Println("migrations valid")
		return
	}

	cfg, logg, err := bootstrap.Load("migrate")
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	ctx := logg.WithFields(context.Background(), map[string]any{"env": cfg.App.Env, "cmd": *cmd})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	if *cmd == "seed-product" {
		outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
		inventorySvc, err := inventory.NewService(inventory.NewRepository(dbClient.DB()), dbClient, outboxSvc, logg)
		exitOn(err, "inventory service")

		product, err := seedProduct(ctx, dbClient, inventorySvc, productSeed{
			Name:      *name,
			SKU:       *sku,
			Category:  *category,
			Stock:     *stock,
			Threshold: *threshold,
		})
		exitOn(err, "seed product")
		fmt.Printf("seeded product %s (sku=%s stock=%d)\n", product.ID, product.SKU, product.Inventory)
		return
	}

	sqlDB, err := dbClient.DB().DB()
	exitOn(err, "sql handle")
	fsys, err := migrate.Source(*dir)
	exitOn(err, "open migrations")
	migrator, err := migrate.New(sqlDB, fsys)
	exitOn(err, "prepare migrations")

	switch *cmd {
	case "up":
		applied, err := migrator.Up(ctx)
		exitOn(err, "migrate up")
		fmt.Printf("applied %d migration(s)\n", len(applied))
	case "down":
		rolledBack, err := migrator.Down(ctx)
		exitOn(err, "migrate down")
		fmt.Println("rolled back", rolledBack)
	case "status":
		states, err := migrator.Status(ctx)
		exitOn(err, "migration status")
		for _, st := range states {
			state := "pending"
			if st.Applied {
				state = "applied"
			}
			fmt.Printf("%d\t%-8s\t%s\n", st.Version, state, st.File)
		}
	case "version":
		target, err := strconv.ParseInt(*version, 10, 64)
		if err != nil || len(*version) != 14 {
			exitOn(fmt.Errorf("invalid -version %q (expected YYYYMMDDHHMMSS)", *version), "migrate to version")
		}
		exitOn(migrator.To(ctx, target), "migrate to version")
	default:
		exitOn(fmt.Errorf("unknown -cmd %q", *cmd), "migrate")
	}
}

func exitOn(err error, action string) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	os.Exit(1)
}
