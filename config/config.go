package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ord-network/emitter/internal/amounts"
)

var (
	ErrInvalidLedgerID      = errors.New("ledger id must not be empty")
	ErrNoRPCEndpoints       = errors.New("at least one ledger rpc endpoint is required")
	ErrInvalidRPCEndpoint   = errors.New("ledger rpc endpoints must be http or https URLs")
	ErrInvalidInterval      = errors.New("emitter interval must be positive")
	ErrInvalidConfirmations = errors.New("confirmations must be at least 1")
	ErrInvalidAmountConfig  = errors.New("invalid amount in config")
	ErrCapBelowTip          = errors.New("daily cap must not be below the tip")
)

type EmitterConfig struct {
	LogLevel       string `json:"logLevel" mapstructure:"logLevel"`
	LogFormat      string `json:"logFormat" mapstructure:"logFormat"`
	ProfilerAddr   string `json:"profilerAddr" mapstructure:"profilerAddr"`
	PrometheusAddr string `json:"prometheusAddr" mapstructure:"prometheusAddr"`
	QueueURL       string `json:"queueURL" mapstructure:"queueURL"`

	Ledger  *LedgerConfig   `json:"ledger" mapstructure:"ledger"`
	Emitter *EmissionConfig `json:"emitter" mapstructure:"emitter"`
	Db      *DbConfig       `json:"db" mapstructure:"db"`
	Cache   *CacheConfig    `json:"cache" mapstructure:"cache"`
	Api     *ApiConfig      `json:"api" mapstructure:"api"`
}

type LedgerConfig struct {
	ID             string        `json:"id" mapstructure:"id"`
	RPCEndpoints   []string      `json:"rpcEndpoints" mapstructure:"rpcEndpoints"`
	RequestTimeout time.Duration `json:"requestTimeout" mapstructure:"requestTimeout"`
}

type EmissionConfig struct {
	IntervalSeconds int64         `json:"intervalSeconds" mapstructure:"intervalSeconds"`
	TickInterval    time.Duration `json:"tickInterval" mapstructure:"tickInterval"`
	TipAI3          string        `json:"tipAi3" mapstructure:"tipAi3"`
	DailyCapAI3     string        `json:"dailyCapAi3" mapstructure:"dailyCapAi3"`
	Confirmations   uint64        `json:"confirmations" mapstructure:"confirmations"`
	PollInterval    time.Duration `json:"pollInterval" mapstructure:"pollInterval"`
	Paused          bool          `json:"paused" mapstructure:"paused"`
	SigningKey      string        `json:"signingKey" mapstructure:"signingKey"`
}

type DbConfig struct {
	Mode     string          `json:"mode" mapstructure:"mode"`
	Postgres *PostgresConfig `json:"postgres" mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	Name         string `json:"name" mapstructure:"name"`
	User         string `json:"user" mapstructure:"user"`
	Password     string `json:"password" mapstructure:"password"`
	MaxIdleConns int    `json:"maxIdleConns" mapstructure:"maxIdleConns"`
	MaxOpenConns int    `json:"maxOpenConns" mapstructure:"maxOpenConns"`
	SslMode      string `json:"sslMode" mapstructure:"sslMode"`
}

func (p *PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Name, p.SslMode)
}

type CacheConfig struct {
	Engine string       `json:"engine" mapstructure:"engine"` // in-memory | redis
	Redis  *RedisConfig `json:"redis" mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `json:"addr" mapstructure:"addr"`
	Password string `json:"password" mapstructure:"password"`
	DB       int    `json:"db" mapstructure:"db"`
}

type ApiConfig struct {
	Address string `json:"address" mapstructure:"address"`
}

func (c *EmitterConfig) Validate() error {
	if c.Ledger.ID == "" {
		return ErrInvalidLedgerID
	}

	if len(c.Ledger.RPCEndpoints) == 0 {
		return ErrNoRPCEndpoints
	}
	for _, endpoint := range c.Ledger.RPCEndpoints {
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			return errors.Join(ErrInvalidRPCEndpoint, fmt.Errorf("endpoint: %s", endpoint))
		}
	}

	if c.Emitter.IntervalSeconds <= 0 {
		return ErrInvalidInterval
	}

	if c.Emitter.Confirmations < 1 {
		return ErrInvalidConfirmations
	}

	tip, err := amounts.ParseAI3(c.Emitter.TipAI3)
	if err != nil {
		return errors.Join(ErrInvalidAmountConfig, fmt.Errorf("tipAi3: %w", err))
	}

	dailyCap, err := amounts.ParseAI3(c.Emitter.DailyCapAI3)
	if err != nil {
		return errors.Join(ErrInvalidAmountConfig, fmt.Errorf("dailyCapAi3: %w", err))
	}

	if dailyCap.Cmp(tip) < 0 {
		return ErrCapBelowTip
	}

	return nil
}

func getDefaultConfig() *EmitterConfig {
	return &EmitterConfig{
		LogLevel:       "info",
		LogFormat:      "text",
		ProfilerAddr:   "",
		PrometheusAddr: "",
		QueueURL:       "",

		Ledger: &LedgerConfig{
			ID:             "ord-testnet",
			RPCEndpoints:   []string{"http://localhost:9944"},
			RequestTimeout: 10 * time.Second,
		},
		Emitter: &EmissionConfig{
			IntervalSeconds: 300,
			TickInterval:    time.Second,
			TipAI3:          "0.1",
			DailyCapAI3:     "30",
			Confirmations:   10,
			PollInterval:    6 * time.Second,
			Paused:          false,
			SigningKey:      "",
		},
		Db: &DbConfig{
			Mode: "postgres",
			Postgres: &PostgresConfig{
				Host:         "localhost",
				Port:         5432,
				Name:         "emitter",
				User:         "emitter",
				Password:     "emitter",
				MaxIdleConns: 10,
				MaxOpenConns: 80,
				SslMode:      "disable",
			},
		},
		Cache: &CacheConfig{
			Engine: "in-memory",
			Redis: &RedisConfig{
				Addr:     "localhost:6379",
				Password: "",
				DB:       1,
			},
		},
		Api: &ApiConfig{
			Address: "localhost:9090",
		},
	}
}
