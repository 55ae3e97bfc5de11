package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vitos/crypto_trade_ladder/internal/config"
	"github.com/vitos/crypto_trade_ladder/internal/infrastructure/exchange"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the yaml config")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Testing Bybit Interaction...\n")
	fmt.Printf("Endpoint: %s\n", cfg.Exchange.RESTEndpoint)
	if len(cfg.Exchange.APIKey) >= 4 {
		fmt.Printf("API Key: %s...\n", cfg.Exchange.APIKey[:4])
	}

	adapter := exchange.NewBybitAdapter(cfg.Exchange.APIKey, cfg.Exchange.APISecret, cfg.Exchange.RESTEndpoint, cfg.Exchange.HedgeMode, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	failed := false

	// 2. Check Private Endpoint (Balance)
	balance, err := adapter.FetchBalance(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to get balance: %v\n", err)
		failed = true
	} else {
		fmt.Printf("✅ Balance (USDT): %f\n", balance)
	}

	for _, symbol := range cfg.Trading.Symbols {
		// 3. Check Public Endpoints (Price, Instrument)
		price, err := adapter.FetchTicker(ctx, symbol)
		if err != nil {
			fmt.Printf("❌ Failed to get price (%s): %v\n", symbol, err)
			failed = true
			continue
		}
		meta, err := adapter.GetMarketMetadata(ctx, symbol)
		if err != nil {
			fmt.Printf("❌ Failed to get instrument (%s): %v\n", symbol, err)
			failed = true
			continue
		}
		fmt.Printf("✅ %s: Price=%f, ContractSize=%v, Precision=%d, MinAmount=%v\n",
			symbol, price, meta.ContractSize, meta.AmountPrecision, meta.MinAmount)

		// 4. Check Private Endpoint (Position)
		pos, err := adapter.FetchPosition(ctx, symbol)
		switch {
		case err != nil:
			fmt.Printf("❌ Failed to get position (%s): %v\n", symbol, err)
			failed = true
		case pos == nil:
			fmt.Printf("✅ Position (%s): flat\n", symbol)
		default:
			fmt.Printf("✅ Position (%s): Amount=%f, Side=%s, Entry=%f\n",
				symbol, pos.Amount, pos.Side, pos.EntryPrice)
		}
	}

	if failed {
		os.Exit(1)
	}
}
