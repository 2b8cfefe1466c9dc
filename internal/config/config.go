package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. GASSCOPE_RPC.
const EnvPrefix = "GASSCOPE"

// StoreConfig selects and configures the event store.
type StoreConfig struct {
	Backend            string
	Out                string
	PGDSN              string
	ClickHouseHost     string
	ClickHousePort     int
	ClickHouseDatabase string
	ClickHouseUsername string
	ClickHousePassword string
	ClickHouseTLS      bool
}

// newViper merges config file, environment variables and flags.
func newViper(cfgFile string, flags *pflag.FlagSet, defaults map[string]any) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func storeDefaults(defaults map[string]any) map[string]any {
	defaults["store"] = "jsonl"
	defaults["out"] = "./data/events.jsonl"
	defaults["clickhouse-port"] = 9000
	defaults["clickhouse-database"] = "default"
	defaults["log-level"] = "info"
	return defaults
}

func loadStore(v *viper.Viper) StoreConfig {
	return StoreConfig{
		Backend:            strings.ToLower(strings.TrimSpace(v.GetString("store"))),
		Out:                v.GetString("out"),
		PGDSN:              v.GetString("pg-dsn"),
		ClickHouseHost:     v.GetString("clickhouse-host"),
		ClickHousePort:     v.GetInt("clickhouse-port"),
		ClickHouseDatabase: v.GetString("clickhouse-database"),
		ClickHouseUsername: v.GetString("clickhouse-username"),
		ClickHousePassword: v.GetString("clickhouse-password"),
		ClickHouseTLS:      v.GetBool("clickhouse-tls"),
	}
}

// Validate checks that the selected backend has what it needs.
func (s StoreConfig) Validate() error {
	switch s.Backend {
	case "memory":
	case "", "jsonl":
		if s.Out == "" {
			return fmt.Errorf("--out is required for the jsonl store")
		}
	case "postgres":
		if s.PGDSN == "" {
			return fmt.Errorf("--pg-dsn is required for the postgres store")
		}
	case "clickhouse":
		if s.ClickHouseHost == "" {
			return fmt.Errorf("--clickhouse-host is required for the clickhouse store")
		}
	default:
		return fmt.Errorf("unknown store %q (memory|jsonl|postgres|clickhouse)", s.Backend)
	}
	return nil
}

// Identity names the event set the store holds without exposing credentials.
// The memory store has no identity across processes and returns "".
func (s StoreConfig) Identity() string {
	switch s.Backend {
	case "memory":
		return ""
	case "", "jsonl":
		path := s.Out
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		return "jsonl:" + path
	case "postgres":
		pgCfg, err := pgx.ParseConfig(s.PGDSN)
		if err != nil {
			return "postgres"
		}
		return fmt.Sprintf("postgres:%s:%d/%s", pgCfg.Host, pgCfg.Port, pgCfg.Database)
	case "clickhouse":
		return fmt.Sprintf("clickhouse:%s:%d/%s", s.ClickHouseHost, s.ClickHousePort, s.ClickHouseDatabase)
	default:
		return s.Backend
	}
}
