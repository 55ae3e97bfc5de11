package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/vitos/crypto_trade_ladder/internal/config"
	"github.com/vitos/crypto_trade_ladder/internal/infrastructure/exchange"
	"github.com/vitos/crypto_trade_ladder/internal/infrastructure/logger"
	"github.com/vitos/crypto_trade_ladder/internal/infrastructure/storage"
	"github.com/vitos/crypto_trade_ladder/internal/usecase"
	"github.com/vitos/crypto_trade_ladder/internal/web"
	"go.uber.org/zap"
)

func main() {
	root := &cobra.Command{
		Use:           "ladder-bot",
		Short:         "Laddered long-only futures bot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newLevelsCmd(), newHistoryCmd())

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the trading loop and the control server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config/config.yaml", "path to the yaml config")
	return cmd
}

func run(parent context.Context, configPath string) error {
	// 1. Load Config
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init Logger
	log, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	if cfg.HighRisk() {
		log.Warn("Capital usage ratio is high, a full ladder can exceed the account balance",
			zap.Float64("ratio_pct", cfg.Trading.CapitalUsageRatio))
	}

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 3. Init Storage
	store, err := storage.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer store.Close()

	// 4. Init Exchange
	adapter := exchange.NewBybitAdapter(cfg.Exchange.APIKey, cfg.Exchange.APISecret, cfg.Exchange.RESTEndpoint, cfg.Exchange.HedgeMode, log)
	stream := exchange.NewPriceStream(cfg.Exchange.WSEndpoint, cfg.Trading.Symbols, log)
	adapter.UseStream(stream)
	go stream.Run(ctx)

	// 5. Init Service
	svc := usecase.NewLadderService(cfg.Settings(), adapter, store, log, nil, usecase.NewEventLog(0, nil))

	hub := web.NewHub(log)
	go hub.Pump(ctx, svc.Events(), nil)

	// 6. Start Server
	server := web.NewServer(cfg.Server.Port, svc, store, hub, log)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	// 7. Start Trading Loop
	if err := svc.Start(ctx); err != nil {
		shutdownServer(server, log)
		return fmt.Errorf("start bot: %w", err)
	}

	// 8. Wait for Shutdown
	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error("Server failed", zap.Error(err))
		}
	}

	log.Info("Shutting down...")
	svc.Stop()
	svc.Wait()
	shutdownServer(server, log)
	return nil
}

func shutdownServer(server *web.Server, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn("Server shutdown failed", zap.Error(err))
	}
}

func newLevelsCmd() *cobra.Command {
	var ratio float64
	cmd := &cobra.Command{
		Use:   "levels",
		Short: "Print the ladder table for a capital usage ratio",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ratio <= 0 {
				return fmt.Errorf("ratio must be positive, got %v", ratio)
			}
			table := usecase.BuildLevelTable(ratio)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "LEVEL\tDISTANCE %\tCAPITAL %")
			for _, l := range table {
				fmt.Fprintf(w, "%d\t%.2f\t%.4f\n", l.Level, l.DistancePct, l.CapitalRatioPct)
			}
			fmt.Fprintf(w, "total\t\t%.4f\n", table.TotalRatioPct())
			if err := w.Flush(); err != nil {
				return err
			}
			if usecase.IsHighRiskRatio(ratio) {
				fmt.Fprintln(cmd.OutOrStdout(), "warning: high capital usage ratio")
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&ratio, "ratio", usecase.BaseTotalRatioPct, "total capital usage ratio in percent")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var (
		dbPath string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List closed positions from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storage.NewSQLiteStore(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			rows, err := store.ListPositionHistory(cmd.Context(), limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CLOSED\tSYMBOL\tAMOUNT\tENTRY\tEXIT\tMAX LEVEL\tPNL\tREASON")
			for _, h := range rows {
				fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\t%d\t%.4f\t%s\n",
					h.ClosedAt.Format(time.RFC3339), h.Symbol, h.Amount,
					usecase.FormatPrice(h.EntryPrice), usecase.FormatPrice(h.ExitPrice),
					h.MaxLevel, h.RealizedPnL, h.Reason)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "ladder.db", "sqlite journal path")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of rows")
	return cmd
}
