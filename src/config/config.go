package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// const dsn = "host=localhost user=postgres password=password dbname=tourbook port=5432 sslmode=disable TimeZone=UTC"

func GetDSN() string {
	if GetDatabaseDriver() == "sqlite" {
		return getEnv("DATABASE_NAME", "file:tourbook.db?cache=shared")
	}
	DATABASE_HOST := os.Getenv("DATABASE_HOST")
	DATABASE_PORT := os.Getenv("DATABASE_PORT")
	DATABASE_SSLMODE := os.Getenv("DATABASE_SSLMODE")
	DATABASE_TIMEZONE := os.Getenv("DATABASE_TIMEZONE")
	DATABASE_USER := os.Getenv("DATABASE_USER")
	DATABASE_PASSWORD := os.Getenv("DATABASE_PASSWORD")
	DATABASE_NAME := os.Getenv("DATABASE_NAME")
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s", DATABASE_HOST, DATABASE_USER, DATABASE_PASSWORD, DATABASE_NAME, DATABASE_PORT, DATABASE_SSLMODE, DATABASE_TIMEZONE)
	return dsn
}

const (
	DATE_FORMAT       = "2006-01-02"
	TIME_PARSE_FORMAT = "2006-01-02 15:04:05 -07:00"

	// Confirmed bookings cannot be cancelled closer than this to tour start.
	CANCELLATION_CUTOFF = 24 * time.Hour

	BOOKING_REFERENCE_PREFIX = "TB-"
	ORDER_REFERENCE_PREFIX   = "OR-"
)

func GetDatabaseDriver() string {
	return strings.ToLower(getEnv("DATABASE_DRIVER", "postgres"))
}

// GetLedgerBackend selects the capacity ledger: postgres, redis or memory.
func GetLedgerBackend() string {
	return strings.ToLower(getEnv("LEDGER_BACKEND", "postgres"))
}

func GetHoldWindow() time.Duration {
	return time.Duration(getEnvInt("HOLD_WINDOW_MINUTES", 15)) * time.Minute
}

func GetHoldSweepInterval() time.Duration {
	return time.Duration(getEnvInt("HOLD_SWEEP_INTERVAL_SECONDS", 60)) * time.Second
}

func GetPaymentTimeout() time.Duration {
	return time.Duration(getEnvInt("PAYMENT_TIMEOUT_SECONDS", 30)) * time.Second
}

func GetDefaultCurrency() string {
	return strings.ToLower(getEnv("DEFAULT_CURRENCY", "usd"))
}

// GetTaxRateBps returns the marketplace tax rate in basis points (825 = 8.25%).
func GetTaxRateBps() int64 {
	return int64(getEnvInt("TAX_RATE_BPS", 0))
}

// Shipping amounts are minor units.
func GetShippingFlatFee() int64 {
	return int64(getEnvInt("SHIPPING_FLAT_FEE", 0))
}

func GetFreeShippingOver() int64 {
	return int64(getEnvInt("FREE_SHIPPING_OVER", 0))
}

// GetTourLocation is the zone tour dates and start times are expressed in.
func GetTourLocation() *time.Location {
	loc, err := time.LoadLocation(getEnv("TOUR_TIMEZONE", "UTC"))
	if err != nil {
		return time.UTC
	}
	return loc
}

func GetNotifier() string {
	return strings.ToLower(getEnv("NOTIFIER", "none"))
}

func GetBookingEventsTopic() string {
	return getEnv("BOOKING_EVENTS_TOPIC", "booking-events")
}

func GetPort() string {
	return getEnv("PORT", "9090")
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	atoi, err := strconv.Atoi(v)
	if err != nil || atoi < 0 {
		return fallback
	}
	return atoi
}

// GetPaymentProviders lists the enabled payment adapters, e.g. "card,mpesa".
func GetPaymentProviders() []string {
	var providers []string
	for _, p := range strings.Split(getEnv("PAYMENT_PROVIDERS", "card"), ",") {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			providers = append(providers, p)
		}
	}
	return providers
}

func GetStripeWebhookSecret() string {
	return os.Getenv("STRIPE_WEBHOOK_SECRET")
}

// Rail settings are read from <PROVIDER>_BASE_URL and <PROVIDER>_API_KEY.
func GetRailBaseURL(provider string) string {
	return os.Getenv(railEnvPrefix(provider) + "_BASE_URL")
}

func GetRailAPIKey(provider string) string {
	return os.Getenv(railEnvPrefix(provider) + "_API_KEY")
}

func railEnvPrefix(provider string) string {
	return strings.ToUpper(strings.ReplaceAll(provider, "-", "_"))
}
