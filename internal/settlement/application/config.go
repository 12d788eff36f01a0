package application

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// InvoicingConfig holds the runtime settings for the invoice bridge.
type InvoicingConfig struct {
	BridgeBaseURL  string
	BridgeToken    string
	RequestTimeout time.Duration
	RetryAttempts  int
	RetryBackoff   time.Duration
	Currency       string
}

type invoicingConfigFile struct {
	BridgeBaseURL  string `yaml:"bridge_base_url"`
	BridgeToken    string `yaml:"bridge_token"`
	RequestTimeout string `yaml:"request_timeout"`
	RetryAttempts  int    `yaml:"retry_attempts"`
	RetryBackoff   string `yaml:"retry_backoff"`
	Currency       string `yaml:"currency"`
}

// LoadInvoicingConfig loads invoicing settings from yaml or env.
func LoadInvoicingConfig() (InvoicingConfig, error) {
	cfg := InvoicingConfig{
		BridgeBaseURL:  os.Getenv("INVOICE_BRIDGE_URL"),
		BridgeToken:    os.Getenv("INVOICE_BRIDGE_TOKEN"),
		RequestTimeout: getenvDuration("INVOICE_BRIDGE_TIMEOUT", 10*time.Second),
		RetryAttempts:  getenvInt("INVOICE_BRIDGE_RETRIES", 3),
		RetryBackoff:   getenvDuration("INVOICE_BRIDGE_BACKOFF", 500*time.Millisecond),
		Currency:       getenvDefault("SETTLEMENT_CURRENCY", "EUR"),
	}

	if path := os.Getenv("INVOICING_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		var file invoicingConfigFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return cfg, err
		}
		if file.BridgeBaseURL != "" {
			cfg.BridgeBaseURL = file.BridgeBaseURL
		}
		if file.BridgeToken != "" {
			cfg.BridgeToken = file.BridgeToken
		}
		if file.RequestTimeout != "" {
			timeout, err := time.ParseDuration(file.RequestTimeout)
			if err != nil {
				return cfg, fmt.Errorf("invoicing config: request_timeout: %w", err)
			}
			cfg.RequestTimeout = timeout
		}
		if file.RetryAttempts > 0 {
			cfg.RetryAttempts = file.RetryAttempts
		}
		if file.RetryBackoff != "" {
			backoff, err := time.ParseDuration(file.RetryBackoff)
			if err != nil {
				return cfg, fmt.Errorf("invoicing config: retry_backoff: %w", err)
			}
			cfg.RetryBackoff = backoff
		}
		if file.Currency != "" {
			cfg.Currency = file.Currency
		}
	}

	if cfg.RequestTimeout <= 0 {
		return cfg, fmt.Errorf("invoicing config: request timeout must be positive")
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
