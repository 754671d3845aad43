// Package cfg provides means for reading the center configuration from the environment.
package cfg

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type (
	// Addr is used to store IP address and an open port of the remote server.
	Addr struct {
		Host string
		Port uint64
	}

	// Config holds the whole center configuration.
	Config struct {
		Service Service
		Store   Store
		NATS    NATS
		Token   Token
		Influx  Influx
		Consul  Consul
	}
)

// NewConfig reads the configuration from the environment and validates it.
func NewConfig() (*Config, error) {
	c := &Config{
		Service: Service{
			AppID:              os.Getenv("APP_ID"),
			LogLevel:           os.Getenv("LOG_LEVEL"),
			DeviceID:           stringEnv("DEVICE_ID", DefaultDeviceID),
			RetryTimeout:       durationEnv("RETRY_TIMEOUT"),
			RetryAttempts:      uint32(uintEnv("RETRY_ATTEMPTS")),
			PortRPC:            uint32(uintEnv("PORT_RPC")),
			PortREST:           uint32(uintEnv("PORT_REST")),
			TerminationTimeout: durationEnv("TERMINATION_TIMEOUT"),
		},
		Store: Store{
			Backend:          stringEnv("STORE_BACKEND", BackendRedis),
			Host:             os.Getenv("STORE_HOST"),
			Port:             uintEnv("STORE_PORT"),
			Password:         os.Getenv("STORE_PASSWORD"),
			MaxIdlePoolConns: uint32(uintEnv("STORE_MAX_IDLE_POOL_CONNS")),
			IdleTimeout:      durationEnv("STORE_IDLE_TIMEOUT"),
		},
		NATS: NATS{
			Addr: Addr{
				Host: os.Getenv("NATS_HOST"),
				Port: uintEnv("NATS_PORT"),
			},
			NotificationTopic: stringEnv("NATS_NOTIFICATION_TOPIC", "notifications"),
		},
		Token: Token{
			Secret: os.Getenv("TOKEN_SECRET"),
			TTL:    durationEnv("TOKEN_TTL"),
		},
		Influx: Influx{
			URL:    os.Getenv("INFLUX_URL"),
			Token:  os.Getenv("INFLUX_TOKEN"),
			Org:    os.Getenv("INFLUX_ORG"),
			Bucket: os.Getenv("INFLUX_BUCKET"),
		},
		Consul: Consul{
			Enabled: boolEnv("CONSUL_ENABLED"),
			TTL:     durationEnv("CONSUL_TTL"),
		},
	}

	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("validate(): %s", err)
	}
	return c, nil
}

func (c *Config) validate() error {
	if err := c.Service.validate(); err != nil {
		return err
	}
	if err := c.Store.validate(); err != nil {
		return err
	}
	if err := c.NATS.validate(); err != nil {
		return err
	}
	if err := c.Token.validate(); err != nil {
		return err
	}
	if err := c.Influx.validate(); err != nil {
		return err
	}
	return c.Consul.validate()
}

func stringEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func uintEnv(key string) uint64 {
	v, err := strconv.ParseUint(os.Getenv(key), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func durationEnv(key string) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return 0
	}
	return v
}

func boolEnv(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return false
	}
	return v
}
