// Package config содержит логику чтения конфигурации сервиса проката велосипедов.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса проката велосипедов.
type Config struct {
	RunAddress             string        `env:"RUN_ADDRESS"`
	DatabaseURI            string        `env:"DATABASE_URI"`
	EquipmentSystemAddress string        `env:"EQUIPMENT_SYSTEM_ADDRESS"`
	ExternalSystemAddress  string        `env:"EXTERNAL_SYSTEM_ADDRESS"`
	EquipmentFallback      bool          `env:"EQUIPMENT_FALLBACK"`
	GatewayTimeout         time.Duration `env:"GATEWAY_TIMEOUT"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных
// окружения; значения из окружения имеют приоритет.
func Parse() (*Config, error) {
	cfg := &Config{}

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.EquipmentSystemAddress, "e", "", "equipment registry address")
	flag.StringVar(&cfg.ExternalSystemAddress, "x", "", "external billing/notification service address")
	flag.BoolVar(&cfg.EquipmentFallback, "f", false, "degrade to a synthetic available bicycle when the equipment registry is unreachable")
	flag.DurationVar(&cfg.GatewayTimeout, "t", 5*time.Second, "per-call timeout for gateway requests")

	flag.Parse()

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 5 * time.Second
	}

	return cfg, nil
}
