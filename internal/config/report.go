package config

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
)

// ReportConfig holds configuration for the report and serve commands.
type ReportConfig struct {
	RPCURL      string
	Target      string
	Contract    string
	Network     string
	TokenSymbol string
	ReportOut   string
	Store       StoreConfig
	Listen      string
	RPCTimeout  time.Duration
	LogLevel    string
}

// LoadReport merges config file, environment variables, and flags into ReportConfig.
func LoadReport(cfgFile string, flags *pflag.FlagSet) (ReportConfig, error) {
	v, err := newViper(cfgFile, flags, storeDefaults(map[string]any{
		"network":     "ethereum",
		"report-out":  "./data/report.json",
		"listen":      ":8080",
		"rpc-timeout": 30 * time.Second,
	}))
	if err != nil {
		return ReportConfig{}, err
	}

	return ReportConfig{
		RPCURL:      v.GetString("rpc"),
		Target:      v.GetString("target"),
		Contract:    v.GetString("contract"),
		Network:     v.GetString("network"),
		TokenSymbol: v.GetString("token-symbol"),
		ReportOut:   v.GetString("report-out"),
		Store:       loadStore(v),
		Listen:      v.GetString("listen"),
		RPCTimeout:  v.GetDuration("rpc-timeout"),
		LogLevel:    v.GetString("log-level"),
	}, nil
}

// Validate rejects configurations that cannot build a report.
func (c ReportConfig) Validate() error {
	if !common.IsHexAddress(c.Target) {
		return fmt.Errorf("--target must be a hex address, got %q", c.Target)
	}
	if c.Contract != "" && !common.IsHexAddress(c.Contract) {
		return fmt.Errorf("--contract must be a hex address, got %q", c.Contract)
	}
	return c.Store.Validate()
}
