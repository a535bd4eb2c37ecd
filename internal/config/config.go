package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Binance  Binance  `mapstructure:"binance"`
	Scan     Scan     `mapstructure:"scan"`
	Grade    Grade    `mapstructure:"grade"`
	Export   Export   `mapstructure:"export"`
	Logger   Logger   `mapstructure:"logger"`
	Database Database `mapstructure:"database"`
}

// Binance holds the configuration for the Binance futures API.
type Binance struct {
	BaseURL        string  `mapstructure:"base_url"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
}

// Scan holds the parameters of the stage-1 divergence scan.
type Scan struct {
	Period            string  `mapstructure:"period"`
	MinOIUSDT         float64 `mapstructure:"min_oi_usdt"`
	CrowdRatioMin     float64 `mapstructure:"crowd_ratio_min"`
	TopPositionMin    float64 `mapstructure:"top_position_min"`
	Workers           int     `mapstructure:"workers"`
	FundingConfirmPct float64 `mapstructure:"funding_confirm_pct"`
}

// Grade holds the parameters of the stage-2 grading pass.
type Grade struct {
	MinOIUSDT        float64 `mapstructure:"min_oi_usdt"`
	ATRPeriods       int     `mapstructure:"atr_periods"`
	DrawdownLookback int     `mapstructure:"drawdown_lookback"`
	DepthLimit       int     `mapstructure:"depth_limit"`
	Workers          int     `mapstructure:"workers"`
}

// Export holds output paths for the flat-file exports.
type Export struct {
	SignalsCSV string `mapstructure:"signals_csv"`
	GradesCSV  string `mapstructure:"grades_csv"`
	GradesJSON string `mapstructure:"grades_json"`
	Table      bool   `mapstructure:"table"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("binance.base_url", "https://fapi.binance.com")
	viper.SetDefault("binance.rate_limit", 20) // requests per second
	viper.SetDefault("binance.rate_limit_burst", 5)
	viper.SetDefault("binance.timeout_seconds", 20)

	viper.SetDefault("scan.period", "5m")
	viper.SetDefault("scan.min_oi_usdt", 2_500_000)
	viper.SetDefault("scan.crowd_ratio_min", 65.0)  // percent
	viper.SetDefault("scan.top_position_min", 45.0) // percent
	viper.SetDefault("scan.workers", 8)
	viper.SetDefault("scan.funding_confirm_pct", 0.01)

	viper.SetDefault("grade.min_oi_usdt", 4_000_000)
	viper.SetDefault("grade.atr_periods", 14)
	viper.SetDefault("grade.drawdown_lookback", 100)
	viper.SetDefault("grade.depth_limit", 20)
	viper.SetDefault("grade.workers", 4)

	viper.SetDefault("export.signals_csv", "scan_results.csv")
	viper.SetDefault("export.grades_csv", "scan_grades.csv")
	viper.SetDefault("export.grades_json", "scan_grades.json")
	viper.SetDefault("export.table", true)

	viper.SetDefault("database.dsn", "scan_results.sqlite")

	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "console")
	viper.SetDefault("logger.max_size_mb", 50)
	viper.SetDefault("logger.max_backups", 3)

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
