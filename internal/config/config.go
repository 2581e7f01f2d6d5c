package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Vault    VaultConfig    `mapstructure:"vault"`
	Tron     TronConfig     `mapstructure:"tron"`
	Payout   PayoutConfig   `mapstructure:"payout"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Workers  WorkersConfig  `mapstructure:"workers"`
	Log      LogConfig      `mapstructure:"log"`
}

type HTTPConfig struct {
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the lib/pq connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type VaultConfig struct {
	Secret string `mapstructure:"secret"`
	Salt   string `mapstructure:"salt"`
}

type TronConfig struct {
	APIURL                string        `mapstructure:"api_url"`
	APIKey                string        `mapstructure:"api_key"`
	USDTContract          string        `mapstructure:"usdt_contract"`
	HotWalletKeyEncrypted string        `mapstructure:"hot_wallet_key_encrypted"`
	TreasuryAddress       string        `mapstructure:"treasury_address"`
	FeeLimitSun           int64         `mapstructure:"fee_limit_sun"`
	Timeout               time.Duration `mapstructure:"timeout"`
}

type PayoutConfig struct {
	Provider      string        `mapstructure:"provider"` // razorpay or iso20022
	BaseURL       string        `mapstructure:"base_url"`
	KeyID         string        `mapstructure:"key_id"`
	KeySecret     string        `mapstructure:"key_secret"`
	AccountNumber string        `mapstructure:"account_number"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	BankEndpoint  string        `mapstructure:"bank_endpoint"`
	DebtorName    string        `mapstructure:"debtor_name"`
	DebtorBIC     string        `mapstructure:"debtor_bic"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type ExchangeConfig struct {
	RateURL     string        `mapstructure:"rate_url"`
	DefaultRate string        `mapstructure:"default_rate"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

// LimitsConfig holds the static fallbacks for the live system_settings keys.
// Amounts are decimal strings.
type LimitsConfig struct {
	DailyExchangeUSDT     string   `mapstructure:"daily_exchange_usdt"`
	DailyWithdrawalINR    string   `mapstructure:"daily_withdrawal_inr"`
	DailyWithdrawalUSDT   string   `mapstructure:"daily_withdrawal_usdt"`
	MinUSDTWithdrawal     string   `mapstructure:"min_usdt_withdrawal"`
	USDTWithdrawalFee     string   `mapstructure:"usdt_withdrawal_fee"`
	ExchangeSpreadPercent string   `mapstructure:"exchange_spread_percent"`
	Paused                []string `mapstructure:"paused"`
}

type WorkersConfig struct {
	DepositInterval    time.Duration `mapstructure:"deposit_interval"`
	WithdrawalInterval time.Duration `mapstructure:"withdrawal_interval"`
	PayoutInterval     time.Duration `mapstructure:"payout_interval"`
	RecoveryInterval   time.Duration `mapstructure:"recovery_interval"`
	WithdrawalBatch    int           `mapstructure:"withdrawal_batch"`
	TickTimeout        time.Duration `mapstructure:"tick_timeout"`
	SettingsTTL        time.Duration `mapstructure:"settings_ttl"`
	SweepQueue         string        `mapstructure:"sweep_queue"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads an optional .env file and the environment into Config.
// Keys map to env vars by upper-casing and replacing dots, e.g. TRON_API_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !isNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func isNotExist(err error) bool {
	return strings.Contains(err.Error(), "no such file")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", "8080")
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "15s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("http.shutdown_timeout", "30s")
	v.SetDefault("http.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.name", "usdt_settlement")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("vault.secret", "")
	v.SetDefault("vault.salt", "usdt-settlement-vault")

	v.SetDefault("tron.api_url", "https://api.trongrid.io")
	v.SetDefault("tron.api_key", "")
	v.SetDefault("tron.usdt_contract", "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t")
	v.SetDefault("tron.hot_wallet_key_encrypted", "")
	v.SetDefault("tron.treasury_address", "")
	v.SetDefault("tron.fee_limit_sun", 100_000_000)
	v.SetDefault("tron.timeout", "15s")

	v.SetDefault("payout.provider", "razorpay")
	v.SetDefault("payout.base_url", "https://api.razorpay.com/v1")
	v.SetDefault("payout.timeout", "20s")

	v.SetDefault("exchange.rate_url", "https://api.coingecko.com/api/v3/simple/price?ids=tether&vs_currencies=inr")
	v.SetDefault("exchange.default_rate", "92.00")
	v.SetDefault("exchange.cache_ttl", "10s")

	v.SetDefault("limits.daily_exchange_usdt", "10000")
	v.SetDefault("limits.daily_withdrawal_inr", "500000")
	v.SetDefault("limits.daily_withdrawal_usdt", "50000")
	v.SetDefault("limits.min_usdt_withdrawal", "20")
	v.SetDefault("limits.usdt_withdrawal_fee", "5")
	v.SetDefault("limits.exchange_spread_percent", "1")
	v.SetDefault("limits.paused", []string{})

	v.SetDefault("workers.deposit_interval", "10s")
	v.SetDefault("workers.withdrawal_interval", "30s")
	v.SetDefault("workers.payout_interval", "10s")
	v.SetDefault("workers.recovery_interval", "5m")
	v.SetDefault("workers.withdrawal_batch", 5)
	v.SetDefault("workers.tick_timeout", "2m")
	v.SetDefault("workers.settings_ttl", "30s")
	v.SetDefault("workers.sweep_queue", "sweep_queue")

	v.SetDefault("log.level", "info")
}
