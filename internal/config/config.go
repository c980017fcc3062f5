package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"payment_backend/internal/signing"
)

type Config struct {
	AppPort          string `mapstructure:"app_port"`
	AppEnv           string `mapstructure:"app_env"`
	HMACSecret       string `mapstructure:"hmac_secret"`
	SigMaxAgeSeconds int64  `mapstructure:"sig_max_age_seconds"`
	SQLiteDSN        string `mapstructure:"sqlite_dsn"`

	QRSigningKey      string `mapstructure:"qr_signing_key"`
	QRSigningKeyID    string `mapstructure:"qr_signing_key_id"`
	QRSigningOldKeys  string `mapstructure:"qr_signing_old_keys"`
	QRSignatureLength int    `mapstructure:"qr_signature_length"`
	QRTTLSeconds      int64  `mapstructure:"qr_ttl_seconds"`
	QRBankCode        string `mapstructure:"qr_bank_code"`
	QRBankAccount     string `mapstructure:"qr_bank_account"`
	QRMerchantName    string `mapstructure:"qr_merchant_name"`
	QRMerchantCity    string `mapstructure:"qr_merchant_city"`

	SePayWebhookSecret string `mapstructure:"sepay_webhook_secret"`
	SePayWebhookAPIKey string `mapstructure:"sepay_webhook_api_key"`

	CORSOrigins        string  `mapstructure:"cors_origins"`
	DebugRatePerSecond float64 `mapstructure:"debug_rate_per_second"`
}

// Only used when APP_ENV=dev and nothing is configured.
const (
	devSigningKey = "dev-only-qr-signing-key"
	devHMACSecret = "supersecret-dev"
)

var ErrNoSigningKey = errors.New("QR_SIGNING_KEY is required outside dev")

func defaults(v *viper.Viper) {
	v.SetDefault("app_port", "8080")
	v.SetDefault("app_env", "prod")
	v.SetDefault("hmac_secret", "")
	v.SetDefault("sig_max_age_seconds", 300)
	v.SetDefault("sqlite_dsn", "./app.db")

	v.SetDefault("qr_signing_key", "")
	v.SetDefault("qr_signing_key_id", "k1")
	v.SetDefault("qr_signing_old_keys", "")
	v.SetDefault("qr_signature_length", 22)
	v.SetDefault("qr_ttl_seconds", 300)
	v.SetDefault("qr_bank_code", "vcb")
	v.SetDefault("qr_bank_account", "")
	v.SetDefault("qr_merchant_name", "QRPAY")
	v.SetDefault("qr_merchant_city", "HN")

	v.SetDefault("sepay_webhook_secret", "")
	v.SetDefault("sepay_webhook_api_key", "")

	v.SetDefault("cors_origins", "http://localhost:5173")
	v.SetDefault("debug_rate_per_second", 2)
}

// Load reads defaults, then an optional config file, then the environment.
// With an empty path, config.{yaml,json} in the working directory is used
// when present.
func Load(path string) (Config, error) {
	v := viper.New()
	defaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.HMACSecret == "" && cfg.Dev() {
		cfg.HMACSecret = devHMACSecret
	}
	return cfg, nil
}

func (c Config) Dev() bool { return strings.EqualFold(c.AppEnv, "dev") }

func (c Config) QRTTL() time.Duration {
	return time.Duration(c.QRTTLSeconds) * time.Second
}

func (c Config) CORSOriginList() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Signer builds the QR signer: the current key signs, the old keys
// ("id:base64url,...") still verify codes issued before a rotation.
func (c Config) Signer() (*signing.Signer, error) {
	var key []byte
	switch {
	case c.QRSigningKey != "":
		var err error
		if key, err = decodeKey(c.QRSigningKey); err != nil {
			return nil, fmt.Errorf("QR_SIGNING_KEY: %w", err)
		}
	case c.Dev():
		key = []byte(devSigningKey)
	default:
		return nil, ErrNoSigningKey
	}

	s, err := signing.New(c.QRSigningKeyID, key)
	if err != nil {
		return nil, err
	}
	for _, entry := range strings.Split(c.QRSigningOldKeys, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, encoded, ok := strings.Cut(entry, ":")
		if !ok || id == "" {
			return nil, fmt.Errorf("QR_SIGNING_OLD_KEYS: entry %q is not id:key", entry)
		}
		old, err := decodeKey(encoded)
		if err != nil {
			return nil, fmt.Errorf("QR_SIGNING_OLD_KEYS %s: %w", id, err)
		}
		if err := s.AddKey(id, old); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func decodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "=")); err == nil {
		return b, nil
	}
	return base64.StdEncoding.DecodeString(s)
}
