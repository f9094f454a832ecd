package config

import (
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/you/relayq/internal/domain"
)

type Config struct {
	AppEnv        string `env:"APP_ENV" envDefault:"production"`
	APIAddr       string `env:"API_ADDR" envDefault:":8080"`
	PostgresDSN   string `env:"POSTGRES_DSN,notEmpty"`
	RedisAddr     string `env:"REDIS_ADDR,notEmpty"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	// Batch loader. Jobs scheduled within the lookahead are claimed early
	// and wait in the dispatch queue's delay set until due; keep it below
	// BatchGrace or the reclaim sweep churns them back to pending.
	BatchSize         int           `env:"BATCH_SIZE" envDefault:"50"`
	LoaderInterval    time.Duration `env:"LOADER_INTERVAL" envDefault:"1s"`
	DispatchLookahead time.Duration `env:"DISPATCH_LOOKAHEAD" envDefault:"30s"`

	// Worker pool.
	Concurrency  int           `env:"WORKER_CONCURRENCY" envDefault:"8"`
	Lease        time.Duration `env:"JOB_LEASE" envDefault:"60s"`
	DequeueBlock time.Duration `env:"DEQUEUE_BLOCK" envDefault:"2s"`

	// Reclaim sweep, batched-but-undispatched grace, retention cleanup.
	ReclaimInterval time.Duration `env:"RECLAIM_INTERVAL" envDefault:"15s"`
	BatchGrace      time.Duration `env:"BATCH_GRACE" envDefault:"2m"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`
	Retention       time.Duration `env:"RETENTION" envDefault:"168h"`

	// Failure policy.
	BackoffMax           time.Duration `env:"BACKOFF_MAX" envDefault:"10m"`
	CriticalTypes        []string      `env:"CRITICAL_TYPES" envSeparator:","`
	CriticalReasons      []string      `env:"CRITICAL_REASONS" envSeparator:","`
	MaxReprocessAttempts int           `env:"MAX_REPROCESS_ATTEMPTS" envDefault:"3"`
}

func Load() Config {
	var c Config
	if err := env.Parse(&c); err != nil {
		log.Fatal(err)
	}
	return c
}

// Classification builds the severity classification and triage policy
// from the configured critical lists and reprocess bound.
func (c Config) Classification() domain.Classification {
	cl := domain.Classification{
		CriticalTypes:        c.CriticalTypes,
		MaxReprocessAttempts: c.MaxReprocessAttempts,
	}
	for _, r := range c.CriticalReasons {
		r = strings.TrimSpace(r)
		if r != "" {
			cl.CriticalReasons = append(cl.CriticalReasons, domain.DLQReason(r))
		}
	}
	return cl
}

// Dev reports whether the process runs with development logging.
func (c Config) Dev() bool { return c.AppEnv == "dev" || c.AppEnv == "development" }
