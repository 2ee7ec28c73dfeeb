package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"

	"kasirledger/internal/dashboard"
	"kasirledger/internal/loyalty"
	"kasirledger/internal/money"
	"kasirledger/internal/service"
)

type Config struct {
	Port          string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	AutoMigrate   bool

	DefaultLocationID string

	LoyaltyCurrencyPerPoint  decimal.Decimal
	LoyaltyPointsPerCurrency decimal.Decimal
	LoyaltyMinRedeemPoints   int64
	LoyaltyRounding          string

	LowStockThreshold        int
	DashboardCacheTTLSeconds int

	LogLevel     string
	LogFormat    string
	SettingsFile string
}

// fileSettings is the optional YAML settings file. Environment variables win.
type fileSettings struct {
	DefaultLocationID string `yaml:"default_location_id"`
	Loyalty           struct {
		CurrencyPerPoint    string `yaml:"currency_per_point"`
		PointsPerCurrency   string `yaml:"points_per_currency"`
		MinimumRedeemPoints *int64 `yaml:"minimum_redeem_points"`
		Rounding            string `yaml:"rounding"`
	} `yaml:"loyalty"`
	Dashboard struct {
		LowStockThreshold *int `yaml:"low_stock_threshold"`
		CacheTTLSeconds   *int `yaml:"cache_ttl_seconds"`
	} `yaml:"dashboard"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func defaults() Config {
	return Config{
		Port:                     "8080",
		DefaultLocationID:        "main-store",
		LoyaltyCurrencyPerPoint:  decimal.NewFromInt(1),
		LoyaltyPointsPerCurrency: decimal.RequireFromString("0.01"),
		LoyaltyMinRedeemPoints:   0,
		LoyaltyRounding:          "down",
		LowStockThreshold:        10,
		DashboardCacheTTLSeconds: 60,
		LogLevel:                 "info",
		LogFormat:                "text",
	}
}

// Load reads an optional .env file, then the optional SETTINGS_FILE, then
// the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := defaults()
	cfg.SettingsFile = strings.TrimSpace(os.Getenv("SETTINGS_FILE"))
	if cfg.SettingsFile != "" {
		if err := cfg.applyFile(cfg.SettingsFile); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read settings file: %w", err)
	}
	var settings fileSettings
	if err := yaml.Unmarshal(raw, &settings); err != nil {
		return fmt.Errorf("parse settings file %s: %w", path, err)
	}

	if settings.DefaultLocationID != "" {
		c.DefaultLocationID = settings.DefaultLocationID
	}
	if settings.Loyalty.CurrencyPerPoint != "" {
		if c.LoyaltyCurrencyPerPoint, err = decimal.NewFromString(settings.Loyalty.CurrencyPerPoint); err != nil {
			return fmt.Errorf("settings loyalty.currency_per_point: %w", err)
		}
	}
	if settings.Loyalty.PointsPerCurrency != "" {
		if c.LoyaltyPointsPerCurrency, err = decimal.NewFromString(settings.Loyalty.PointsPerCurrency); err != nil {
			return fmt.Errorf("settings loyalty.points_per_currency: %w", err)
		}
	}
	if settings.Loyalty.MinimumRedeemPoints != nil {
		c.LoyaltyMinRedeemPoints = *settings.Loyalty.MinimumRedeemPoints
	}
	if settings.Loyalty.Rounding != "" {
		c.LoyaltyRounding = settings.Loyalty.Rounding
	}
	if settings.Dashboard.LowStockThreshold != nil {
		c.LowStockThreshold = *settings.Dashboard.LowStockThreshold
	}
	if settings.Dashboard.CacheTTLSeconds != nil {
		c.DashboardCacheTTLSeconds = *settings.Dashboard.CacheTTLSeconds
	}
	if settings.Log.Level != "" {
		c.LogLevel = settings.Log.Level
	}
	if settings.Log.Format != "" {
		c.LogFormat = settings.Log.Format
	}
	return nil
}

func (c *Config) applyEnv() error {
	var err error

	c.Port = getEnv("PORT", c.Port)
	c.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	c.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	c.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if c.RedisDB, err = envInt("REDIS_DB", c.RedisDB); err != nil {
		return err
	}
	if raw := strings.TrimSpace(os.Getenv("AUTO_MIGRATE")); raw != "" {
		if c.AutoMigrate, err = strconv.ParseBool(raw); err != nil {
			return fmt.Errorf("AUTO_MIGRATE: %w", err)
		}
	}

	c.DefaultLocationID = getEnv("DEFAULT_LOCATION_ID", c.DefaultLocationID)
	if c.LoyaltyCurrencyPerPoint, err = envDecimal("LOYALTY_CURRENCY_PER_POINT", c.LoyaltyCurrencyPerPoint); err != nil {
		return err
	}
	if c.LoyaltyPointsPerCurrency, err = envDecimal("LOYALTY_POINTS_PER_CURRENCY", c.LoyaltyPointsPerCurrency); err != nil {
		return err
	}
	minPoints, err := envInt("LOYALTY_MIN_REDEEM_POINTS", int(c.LoyaltyMinRedeemPoints))
	if err != nil {
		return err
	}
	c.LoyaltyMinRedeemPoints = int64(minPoints)
	c.LoyaltyRounding = getEnv("LOYALTY_ROUNDING", c.LoyaltyRounding)

	if c.LowStockThreshold, err = envInt("LOW_STOCK_THRESHOLD", c.LowStockThreshold); err != nil {
		return err
	}
	if c.DashboardCacheTTLSeconds, err = envInt("DASHBOARD_CACHE_TTL_SECONDS", c.DashboardCacheTTLSeconds); err != nil {
		return err
	}

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	return nil
}

// Validate rejects values the services cannot run with.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Port) == "" {
		problems = append(problems, "PORT is required")
	}
	if strings.TrimSpace(c.DefaultLocationID) == "" {
		problems = append(problems, "DEFAULT_LOCATION_ID is required")
	}
	if c.LoyaltyCurrencyPerPoint.IsNegative() {
		problems = append(problems, "LOYALTY_CURRENCY_PER_POINT cannot be negative")
	}
	if c.LoyaltyPointsPerCurrency.IsNegative() {
		problems = append(problems, "LOYALTY_POINTS_PER_CURRENCY cannot be negative")
	}
	if c.LoyaltyMinRedeemPoints < 0 {
		problems = append(problems, "LOYALTY_MIN_REDEEM_POINTS cannot be negative")
	}
	if _, err := money.ParsePointsRounding(c.LoyaltyRounding); err != nil {
		problems = append(problems, err.Error())
	}
	if c.LowStockThreshold < 0 {
		problems = append(problems, "LOW_STOCK_THRESHOLD cannot be negative")
	}
	if c.DashboardCacheTTLSeconds < 0 {
		problems = append(problems, "DASHBOARD_CACHE_TTL_SECONDS cannot be negative")
	}
	if c.RedisDB < 0 {
		problems = append(problems, "REDIS_DB cannot be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) LoyaltyConfig() loyalty.Config {
	rounding, _ := money.ParsePointsRounding(c.LoyaltyRounding)
	return loyalty.Config{
		CurrencyPerPoint:        c.LoyaltyCurrencyPerPoint,
		PointsPerCurrency:       c.LoyaltyPointsPerCurrency,
		MinimumRedeemablePoints: c.LoyaltyMinRedeemPoints,
		Rounding:                rounding,
	}
}

func (c Config) ServiceSettings() service.Settings {
	return service.Settings{
		DefaultLocationID: c.DefaultLocationID,
		Loyalty:           c.LoyaltyConfig(),
	}
}

func (c Config) DashboardConfig() dashboard.Config {
	return dashboard.Config{
		LowStockThreshold: c.LowStockThreshold,
		CacheTTL:          time.Duration(c.DashboardCacheTTLSeconds) * time.Second,
	}
}

func getEnv(key string, fallback string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func envDecimal(key string, fallback decimal.Decimal) (decimal.Decimal, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
