/**
 * @description
 * Configuration management for the billing service.
 */
package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	ServerPort            string `mapstructure:"SERVER_PORT"`
	DatabaseURL           string `mapstructure:"DATABASE_URL"`
	AuthJWKSURL           string `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience          string `mapstructure:"AUTH_AUDIENCE"`
	AuthIssuer            string `mapstructure:"AUTH_ISSUER"`
	InternalAPIKey        string `mapstructure:"INTERNAL_API_KEY"`
	BusinessTimezone      string `mapstructure:"BUSINESS_TIMEZONE"`
	RabbitMQURL           string `mapstructure:"RABBITMQ_URL"`
	NotificationExchange  string `mapstructure:"NOTIFICATION_EXCHANGE"`
	RedisURL              string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix  string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	PaymentRateLimit      int    `mapstructure:"PAYMENT_RATE_LIMIT_PER_WINDOW"`
	PaymentRateWindowSecs int    `mapstructure:"PAYMENT_RATE_LIMIT_WINDOW_SECONDS"`
	BillingJobSchedule    string `mapstructure:"BILLING_JOB_SCHEDULE"`
	CatalogServiceURL     string `mapstructure:"CATALOG_SERVICE_URL"`
	CatalogServiceAPIKey  string `mapstructure:"CATALOG_SERVICE_API_KEY"`

	VNPayTmnCode      string `mapstructure:"VNPAY_TMN_CODE"`
	VNPayHashSecret   string `mapstructure:"VNPAY_HASH_SECRET"`
	VNPayPaymentURL   string `mapstructure:"VNPAY_PAYMENT_URL"`
	VNPayVersion      string `mapstructure:"VNPAY_VERSION"`
	VNPayLocale       string `mapstructure:"VNPAY_LOCALE"`
	VNPayCurrency     string `mapstructure:"VNPAY_CURRENCY"`
	VNPaySessionTTL   int    `mapstructure:"VNPAY_SESSION_TTL_MINUTES"`
	PublicBaseURL     string `mapstructure:"PUBLIC_BASE_URL"`
	FeePerRestaurant  string `mapstructure:"FEE_PER_RESTAURANT"`
	FeePerReservation string `mapstructure:"FEE_PER_RESERVATION"`
	CommissionRate    string `mapstructure:"ORDER_COMMISSION_RATE"`
	BillDueDays       int    `mapstructure:"BILL_DUE_DAYS"`
	PremiumPrice      string `mapstructure:"PREMIUM_PACKAGE_PRICE"`
	PremiumDays       int    `mapstructure:"PREMIUM_PACKAGE_DAYS"`

	Gateway Gateway     `mapstructure:"-"`
	Fees    FeeSchedule `mapstructure:"-"`
}

// Gateway is the merchant configuration used to sign and verify payment sessions.
type Gateway struct {
	TmnCode       string
	HashSecret    []byte
	PaymentURL    string
	Version       string
	Locale        string
	Currency      string
	SessionTTLMin int
	ReturnURL     string
}

// FeeSchedule holds the fixed pricing constants.
type FeeSchedule struct {
	PerRestaurant       decimal.Decimal
	PerReservation      decimal.Decimal
	OrderCommissionRate decimal.Decimal
	BillDueDays         int
	PremiumPrice        decimal.Decimal
	PremiumDays         int
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (config Config, err error) {
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("BUSINESS_TIMEZONE", "Asia/Ho_Chi_Minh")
	viper.SetDefault("NOTIFICATION_EXCHANGE", "marketplace.events")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "billing:payment_attempts")
	viper.SetDefault("PAYMENT_RATE_LIMIT_PER_WINDOW", 5)
	viper.SetDefault("PAYMENT_RATE_LIMIT_WINDOW_SECONDS", 600)
	viper.SetDefault("BILLING_JOB_SCHEDULE", "5 0 1 * *")
	viper.SetDefault("VNPAY_PAYMENT_URL", "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html")
	viper.SetDefault("VNPAY_VERSION", "2.1.0")
	viper.SetDefault("VNPAY_LOCALE", "vn")
	viper.SetDefault("VNPAY_CURRENCY", "VND")
	viper.SetDefault("VNPAY_SESSION_TTL_MINUTES", 15)
	viper.SetDefault("FEE_PER_RESTAURANT", "300000")
	viper.SetDefault("FEE_PER_RESERVATION", "5000")
	viper.SetDefault("ORDER_COMMISSION_RATE", "0.08")
	viper.SetDefault("BILL_DUE_DAYS", 5)
	viper.SetDefault("PREMIUM_PACKAGE_PRICE", "100000")
	viper.SetDefault("PREMIUM_PACKAGE_DAYS", 30)
	viper.AutomaticEnv()

	for _, key := range []string{
		"SERVER_PORT", "PORT", "DATABASE_URL", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_ISSUER", "INTERNAL_API_KEY",
		"BUSINESS_TIMEZONE", "RABBITMQ_URL", "NOTIFICATION_EXCHANGE", "REDIS_URL",
		"REDIS_RATE_LIMIT_PREFIX", "PAYMENT_RATE_LIMIT_PER_WINDOW", "PAYMENT_RATE_LIMIT_WINDOW_SECONDS",
		"BILLING_JOB_SCHEDULE", "CATALOG_SERVICE_URL", "CATALOG_SERVICE_API_KEY",
		"VNPAY_TMN_CODE", "VNPAY_HASH_SECRET", "VNPAY_PAYMENT_URL", "VNPAY_VERSION",
		"VNPAY_LOCALE", "VNPAY_CURRENCY", "VNPAY_SESSION_TTL_MINUTES", "PUBLIC_BASE_URL",
		"FEE_PER_RESTAURANT", "FEE_PER_RESERVATION", "ORDER_COMMISSION_RATE", "BILL_DUE_DAYS",
		"PREMIUM_PACKAGE_PRICE", "PREMIUM_PACKAGE_DAYS",
	} {
		_ = viper.BindEnv(key)
	}

	if err = viper.Unmarshal(&config); err != nil {
		return config, err
	}
	if port := os.Getenv("PORT"); port != "" {
		config.ServerPort = port
	}

	if err = config.validate(); err != nil {
		return config, err
	}
	if config.Fees, err = config.feeSchedule(); err != nil {
		return config, err
	}
	config.Gateway = Gateway{
		TmnCode:       strings.TrimSpace(config.VNPayTmnCode),
		HashSecret:    []byte(strings.TrimSpace(config.VNPayHashSecret)),
		PaymentURL:    strings.TrimSpace(config.VNPayPaymentURL),
		Version:       config.VNPayVersion,
		Locale:        config.VNPayLocale,
		Currency:      config.VNPayCurrency,
		SessionTTLMin: config.VNPaySessionTTL,
		ReturnURL:     strings.TrimSuffix(strings.TrimSpace(config.PublicBaseURL), "/") + "/payments/vnpay/return",
	}

	if config.InternalAPIKey == "" {
		log.Printf("WARN: INTERNAL_API_KEY is not set; internal billing routes are unauthenticated")
	}
	return config, nil
}

func (c Config) validate() error {
	required := map[string]string{
		"DATABASE_URL":      c.DatabaseURL,
		"VNPAY_TMN_CODE":    c.VNPayTmnCode,
		"VNPAY_HASH_SECRET": c.VNPayHashSecret,
		"PUBLIC_BASE_URL":   c.PublicBaseURL,
	}
	var missing []string
	for _, key := range []string{"DATABASE_URL", "VNPAY_TMN_CODE", "VNPAY_HASH_SECRET", "PUBLIC_BASE_URL"} {
		if strings.TrimSpace(required[key]) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.BillDueDays < 0 || c.PremiumDays <= 0 || c.VNPaySessionTTL <= 0 {
		return fmt.Errorf("BILL_DUE_DAYS, PREMIUM_PACKAGE_DAYS and VNPAY_SESSION_TTL_MINUTES must be positive")
	}
	return nil
}

func (c Config) feeSchedule() (FeeSchedule, error) {
	parse := func(key, raw string) (decimal.Decimal, error) {
		d, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return decimal.Zero, fmt.Errorf("%s must be a decimal: %w", key, err)
		}
		if d.IsNegative() {
			return decimal.Zero, fmt.Errorf("%s must not be negative", key)
		}
		return d, nil
	}

	perRestaurant, err := parse("FEE_PER_RESTAURANT", c.FeePerRestaurant)
	if err != nil {
		return FeeSchedule{}, err
	}
	perReservation, err := parse("FEE_PER_RESERVATION", c.FeePerReservation)
	if err != nil {
		return FeeSchedule{}, err
	}
	rate, err := parse("ORDER_COMMISSION_RATE", c.CommissionRate)
	if err != nil {
		return FeeSchedule{}, err
	}
	if rate.GreaterThan(decimal.NewFromInt(1)) {
		return FeeSchedule{}, fmt.Errorf("ORDER_COMMISSION_RATE must be between 0 and 1")
	}
	premium, err := parse("PREMIUM_PACKAGE_PRICE", c.PremiumPrice)
	if err != nil {
		return FeeSchedule{}, err
	}

	return FeeSchedule{
		PerRestaurant:       perRestaurant,
		PerReservation:      perReservation,
		OrderCommissionRate: rate,
		BillDueDays:         c.BillDueDays,
		PremiumPrice:        premium,
		PremiumDays:         c.PremiumDays,
	}, nil
}
