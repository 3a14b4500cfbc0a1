// Package config loads the daemon configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/ThorbenD/dvp-market/domain"
)

type Config struct {
	Listen    string `yaml:"listen"`
	LogFormat string `yaml:"log_format"` // text or json
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	DBPath    string `yaml:"db_path"`    // empty keeps state in memory only

	Registry   RegistryConfig   `yaml:"registry"`
	Market     MarketConfig     `yaml:"market"`
	Payout     PayoutConfig     `yaml:"payout"`
	Settlement SettlementConfig `yaml:"settlement"`

	// Lnd enables Lightning checkout; Tapd enables withdrawals.
	Lnd  *NodeConfig `yaml:"lnd,omitempty"`
	Tapd *NodeConfig `yaml:"tapd,omitempty"`
}

type RegistryConfig struct {
	Name      string `yaml:"name"`
	Symbol    string `yaml:"symbol"`
	Address   string `yaml:"address"`
	MintPrice string `yaml:"mint_price"`
	Treasury  string `yaml:"treasury"`
}

type MarketConfig struct {
	FeeBps          int64  `yaml:"fee_bps"`
	FeeRecipient    string `yaml:"fee_recipient"`
	PaymentTicker   string `yaml:"payment_ticker"`
	PaymentDecimals int32  `yaml:"payment_decimals"`
}

type PayoutConfig struct {
	AssetID  string `yaml:"asset_id"`
	Decimals int32  `yaml:"decimals"`
	MinConfs int    `yaml:"min_confs"`
	// StubSender simulates payouts when no tapd node is configured.
	StubSender bool `yaml:"stub_sender"`
}

type SettlementConfig struct {
	// ClaimTimeout bounds one claim on the payment rail. The store is
	// locked while a deposit purchase claims.
	ClaimTimeout time.Duration `yaml:"claim_timeout"`
}

// NodeConfig is a gRPC connection to lnd or tapd.
type NodeConfig struct {
	Host          string        `yaml:"host"`
	TLSCertPath   string        `yaml:"tls_cert_path"`
	MacaroonPath  string        `yaml:"macaroon_path"`
	Network       string        `yaml:"network"`
	InvoiceExpiry time.Duration `yaml:"invoice_expiry"`
}

// Default returns a configuration that runs an in-memory marketplace.
func Default() Config {
	return Config{
		Listen:    "localhost:8080",
		LogFormat: "text",
		LogLevel:  "info",
		Registry: RegistryConfig{
			Name:      "Dynamic SVG NFT",
			Symbol:    "DSVG",
			Address:   "0x000000000000000000000000000000000000d5f6",
			MintPrice: "0.001",
			Treasury:  "0x0000000000000000000000000000000000007ea5",
		},
		Market: MarketConfig{
			FeeBps:          250,
			FeeRecipient:    "0x0000000000000000000000000000000000007ea5",
			PaymentTicker:   "ETH",
			PaymentDecimals: 18,
		},
		Payout: PayoutConfig{
			Decimals: 8,
			MinConfs: 1,
		},
		Settlement: SettlementConfig{
			ClaimTimeout: 30 * time.Second,
		},
	}
}

// Load reads path over the defaults. Unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// MintPrice parses the registry mint price. Validate guarantees success.
func (c Config) MintPrice() decimal.Decimal {
	d, _ := decimal.NewFromString(c.Registry.MintPrice)
	return d
}

func (c Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q must be text or json", c.LogFormat))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q is not a level", c.LogLevel))
	}
	if c.Registry.Address == "" {
		errs = append(errs, errors.New("registry.address is required"))
	}
	if c.Registry.Treasury == "" {
		errs = append(errs, errors.New("registry.treasury is required"))
	}
	if d, err := decimal.NewFromString(c.Registry.MintPrice); err != nil || d.IsNegative() {
		errs = append(errs, fmt.Errorf("registry.mint_price %q must be a non-negative decimal", c.Registry.MintPrice))
	}
	if c.Market.FeeBps < 0 || c.Market.FeeBps > 10_000 {
		errs = append(errs, fmt.Errorf("market.fee_bps %d out of range [0, 10000]", c.Market.FeeBps))
	}
	if c.Market.FeeRecipient == "" {
		errs = append(errs, errors.New("market.fee_recipient is required"))
	}
	if c.Market.PaymentDecimals < 0 {
		errs = append(errs, errors.New("market.payment_decimals must not be negative"))
	}
	if c.Payout.MinConfs < 0 {
		errs = append(errs, errors.New("payout.min_confs must not be negative"))
	}
	for name, n := range map[string]*NodeConfig{"lnd": c.Lnd, "tapd": c.Tapd} {
		if n != nil && (n.Host == "" || n.TLSCertPath == "" || n.MacaroonPath == "") {
			errs = append(errs, fmt.Errorf("%s: host, tls_cert_path and macaroon_path are required", name))
		}
	}
	if c.Tapd != nil && c.Payout.AssetID == "" {
		errs = append(errs, errors.New("payout.asset_id is required with tapd"))
	}
	if c.Settlement.ClaimTimeout <= 0 {
		errs = append(errs, errors.New("settlement.claim_timeout must be positive"))
	}
	// invoices are in satoshis, so prices must be in bitcoin
	if pay := (domain.PaymentAsset{Ticker: c.Market.PaymentTicker, Decimals: c.Market.PaymentDecimals}); c.Lnd != nil && pay != domain.Bitcoin {
		errs = append(errs, fmt.Errorf("lnd settles in %s, market quotes %s", domain.Bitcoin, pay))
	}
	if c.Tapd != nil && c.Payout.Decimals != c.Market.PaymentDecimals {
		errs = append(errs, fmt.Errorf("payout.decimals %d must equal market.payment_decimals %d with tapd",
			c.Payout.Decimals, c.Market.PaymentDecimals))
	}
	return errors.Join(errs...)
}
