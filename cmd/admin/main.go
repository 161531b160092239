package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/bordados/checkout/config"
	"github.com/bordados/checkout/core/order"
	"github.com/bordados/checkout/core/product"
	"github.com/bordados/checkout/database"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Flags are left to conf, which reads os.Args as well.
const queryTimeout = 5 * time.Second

func main() {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	if err := rootCmd(log).Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func rootCmd(log logrus.FieldLogger) *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Maintenance tasks for the checkout service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(migrateCmd(log))
	root.AddCommand(orderCmd())
	root.AddCommand(productCmd(log))
	return root
}

func migrateCmd(log logrus.FieldLogger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := database.Migrate(db); err != nil {
				return err
			}
			log.Info("migrations complete")
			return nil
		},
	}
}

func orderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Inspect orders",
	}

	show := &cobra.Command{
		Use:   "show <buy-order>",
		Short: "Print the stored order as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), queryTimeout)
			defer cancel()

			ord, err := order.NewDBStore(db).FetchByBuyOrder(ctx, args[0])
			if errors.Is(err, order.ErrNotFound) {
				return fmt.Errorf("no order %s", args[0])
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(ord)
		},
	}
	cmd.AddCommand(show)
	return cmd
}

func productCmd(log logrus.FieldLogger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "product",
		Short: "Manage the catalog checkout snapshots prices from",
	}

	add := &cobra.Command{
		Use:   "add <id> <name> <price>",
		Short: "Add a product priced in whole pesos",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			price, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil || price < 0 {
				return fmt.Errorf("price must be a non-negative integer: %q", args[2])
			}

			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), queryTimeout)
			defer cancel()

			now := time.Now().UTC()
			p := product.Product{
				ID:        args[0],
				Name:      args[1],
				Price:     price,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := product.Create(ctx, db, p); err != nil {
				return err
			}
			log.WithField("product_id", p.ID).Info("product added")
			return nil
		},
	}
	cmd.AddCommand(add)
	return cmd
}

// openDB reads the same CHECKOUT_DB_* variables as the server.
func openDB() (*sqlx.DB, error) {
	var cfg struct {
		DB config.DB
	}
	if _, err := conf.Parse("CHECKOUT", &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	db, err := database.Open(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("opening db connection: %w", err)
	}
	return db, nil
}
