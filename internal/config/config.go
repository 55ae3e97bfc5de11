package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/vitos/crypto_trade_ladder/internal/domain"
	"github.com/vitos/crypto_trade_ladder/internal/usecase"
	"gopkg.in/yaml.v3"
)

const (
	EnvAPIKey    = "BYBIT_API_KEY"
	EnvAPISecret = "BYBIT_API_SECRET"
)

type ExchangeConfig struct {
	Name         string `yaml:"name"`
	APIKey       string `yaml:"api_key"`
	APISecret    string `yaml:"api_secret"`
	RESTEndpoint string `yaml:"rest_endpoint"`
	WSEndpoint   string `yaml:"ws_endpoint"`
	HedgeMode    bool   `yaml:"hedge_mode"`
}

type TradingConfig struct {
	Symbols             []string `yaml:"symbols"`
	Leverage            int      `yaml:"leverage"`
	TakeProfitPercent   float64  `yaml:"take_profit_percent"`
	CapitalUsageRatio   float64  `yaml:"capital_usage_ratio"`
	StopActivationLevel int      `yaml:"stop_activation_level"`
}

type PollingConfig struct {
	CycleInterval  time.Duration `yaml:"cycle_interval"`
	SymbolPause    time.Duration `yaml:"symbol_pause"`
	StatusInterval time.Duration `yaml:"status_interval"`
}

type Config struct {
	Exchange ExchangeConfig `yaml:"exchange"`
	Trading  TradingConfig  `yaml:"trading"`
	Polling  PollingConfig  `yaml:"polling"`
	Logging  struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Storage struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"storage"`
}

// Load reads the yaml file at path, applies .env / environment overrides for
// credentials, fills defaults and validates the result.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := Default()
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	if v := strings.TrimSpace(os.Getenv(EnvAPIKey)); v != "" {
		cfg.Exchange.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAPISecret)); v != "" {
		cfg.Exchange.APISecret = v
	}

	cfg.Trading.Symbols = cleanSymbols(cfg.Trading.Symbols)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with the documented defaults; yaml values override it.
func Default() *Config {
	cfg := &Config{}
	cfg.Exchange.Name = "bybit"
	cfg.Trading.Leverage = 1
	cfg.Trading.TakeProfitPercent = 1.0
	cfg.Trading.CapitalUsageRatio = usecase.BaseTotalRatioPct
	cfg.Trading.StopActivationLevel = 6
	cfg.Polling.CycleInterval = 30 * time.Second
	cfg.Polling.SymbolPause = time.Second
	cfg.Polling.StatusInterval = 10 * time.Minute
	cfg.Logging.Level = "info"
	cfg.Server.Port = 8080
	cfg.Storage.DBPath = "ladder.db"
	return cfg
}

func (c *Config) Validate() error {
	var errs []error
	if len(c.Trading.Symbols) == 0 {
		errs = append(errs, errors.New("trading.symbols must not be empty"))
	}
	if c.Trading.Leverage <= 0 {
		errs = append(errs, fmt.Errorf("trading.leverage must be positive, got %d", c.Trading.Leverage))
	}
	if c.Trading.TakeProfitPercent <= 0 {
		errs = append(errs, fmt.Errorf("trading.take_profit_percent must be positive, got %v", c.Trading.TakeProfitPercent))
	}
	if c.Trading.CapitalUsageRatio <= 0 {
		errs = append(errs, fmt.Errorf("trading.capital_usage_ratio must be positive, got %v", c.Trading.CapitalUsageRatio))
	}
	if c.Trading.StopActivationLevel < 1 || c.Trading.StopActivationLevel > usecase.LevelCount {
		errs = append(errs, fmt.Errorf("trading.stop_activation_level must be within 1-%d, got %d", usecase.LevelCount, c.Trading.StopActivationLevel))
	}
	if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
		errs = append(errs, errors.New("exchange credentials are missing"))
	}
	return errors.Join(errs...)
}

// HighRisk reports whether the capital usage ratio should be flagged to the user.
func (c *Config) HighRisk() bool {
	return usecase.IsHighRiskRatio(c.Trading.CapitalUsageRatio)
}

// LevelTable derives the scaled ladder for this config.
func (c *Config) LevelTable() domain.LevelTable {
	return usecase.BuildLevelTable(c.Trading.CapitalUsageRatio)
}

// Settings converts the trading section into the engine's settings value.
func (c *Config) Settings() usecase.Settings {
	return usecase.Settings{
		Symbols:             c.Trading.Symbols,
		Leverage:            c.Trading.Leverage,
		TakeProfitPercent:   c.Trading.TakeProfitPercent,
		StopActivationLevel: c.Trading.StopActivationLevel,
		Levels:              c.LevelTable(),
		Timings: usecase.Timings{
			CycleInterval:  c.Polling.CycleInterval,
			SymbolPause:    c.Polling.SymbolPause,
			StatusInterval: c.Polling.StatusInterval,
		},
	}
}

func cleanSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool)
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
