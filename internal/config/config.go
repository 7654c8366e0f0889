package config

import (
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Debug bool `env:"DEBUG" envDefault:"false"`

	Server struct {
		Port    int      `env:"PORT" envDefault:"8080"`
		Origins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	}

	Redis struct {
		Host     string `env:"REDIS_HOST" envDefault:"localhost"`
		Port     int    `env:"REDIS_PORT" envDefault:"6379"`
		Password string `env:"REDIS_PASSWORD" envDefault:""`
		DB       int    `env:"REDIS_DB" envDefault:"0"`
	}

	Ledger struct {
		RPCURL     string        `env:"LEDGER_RPC_URL" envDefault:"http://localhost:8545"`
		PrivateKey string        `env:"LEDGER_PRIVATE_KEY,required"`
		Timeout    time.Duration `env:"LEDGER_TIMEOUT" envDefault:"15s"`
	}

	Geo struct {
		BaseURL string `env:"GEOIP_BASE_URL" envDefault:""`
	}

	Faucet struct {
		// Deny-lists are comma-separated, loaded once at startup.
		DenyIPs       []string `env:"FAUCET_DENY_IPS" envSeparator:","`
		DenyAddresses []string `env:"FAUCET_DENY_ADDRESSES" envSeparator:","`

		DailyClaimCap   int     `env:"FAUCET_DAILY_CLAIM_CAP" envDefault:"100"`
		DailyAmountCap  float64 `env:"FAUCET_DAILY_AMOUNT_CAP" envDefault:"10"`
		CooldownSeconds int     `env:"FAUCET_COOLDOWN_SECONDS" envDefault:"5"`
		MinLevel        int     `env:"FAUCET_MIN_LEVEL" envDefault:"3"`
		MaxLevel        int     `env:"FAUCET_MAX_LEVEL" envDefault:"20"`

		// FlatReward switches to the degraded capped formula instead of
		// the tiered table.
		FlatReward bool `env:"FAUCET_FLAT_REWARD" envDefault:"false"`
	}
}

func Load() (*Config, error) {
	// A missing .env file is fine; production sets variables directly.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
