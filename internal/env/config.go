package env

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Account  string `env:"MSNP_ACCOUNT"`
	Password string `env:"MSNP_PASSWORD"`

	DispatchServer string `env:"MSNP_DISPATCH_SERVER,default=messenger.hotmail.com:1863"`
	Status         string `env:"MSNP_STATUS,default=NLN"`

	// Versions are proposed most preferred first, MSNP9 and MSNP8 when empty
	Versions []string `env:"MSNP_VERSIONS"`

	NexusURL string `env:"MSNP_NEXUS_URL,default=https://nexus.passport.com/rdr/pprdr.asp"`

	TransactionTimeout time.Duration `env:"MSNP_TRANSACTION_TIMEOUT,default=30s"`
	KeepAlive          time.Duration `env:"MSNP_KEEPALIVE,default=50s"`

	// Store is "bbolt", "json" or "none"
	Store     string `env:"MSNP_STORE,default=bbolt"`
	StorePath string `env:"MSNP_STORE_PATH,default=msnp.db"`

	HTTPPort  string `env:"MSNP_HTTP_PORT"`
	DebugHTTP bool   `env:"MSNP_DEBUG_HTTP"`

	LogLevel string `env:"MSNP_LOG_LEVEL,default=info"`
}

func LoadConfig(ctx context.Context) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			panic(err)
		}
	}

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, err
	}

	return &config, nil
}
