package cfg

import (
	"fmt"
	"time"
)

// Store backends.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Store holds store configuration.
type Store struct {
	Backend          string
	Host             string
	Port             uint64
	Password         string
	MaxIdlePoolConns uint32
	IdleTimeout      time.Duration
}

func (s Store) validate() error {
	switch s.Backend {
	case BackendMemory:
		return nil
	case BackendRedis:
	default:
		return fmt.Errorf("store backend %q is unknown", s.Backend)
	}
	if s.Host == "" {
		return fmt.Errorf("store host env var is missing")
	}
	if s.Port == 0 {
		return fmt.Errorf("store port env var is missing")
	}
	if s.Password == "" {
		return fmt.Errorf("store password env var is missing")
	}
	return nil
}
