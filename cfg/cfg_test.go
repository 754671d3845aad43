package cfg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	t.Setenv("APP_ID", "")
	_, err := NewConfig()
	assert.NotNil(t, err)
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("APP_ID", "torenms")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("RETRY_TIMEOUT", "2s")
	t.Setenv("RETRY_ATTEMPTS", "3")
	t.Setenv("PORT_RPC", "8090")
	t.Setenv("PORT_REST", "8080")
	t.Setenv("TERMINATION_TIMEOUT", "3s")
	t.Setenv("STORE_BACKEND", BackendMemory)
	t.Setenv("TOKEN_SECRET", "secret")
	t.Setenv("TOKEN_TTL", "24h")
	t.Setenv("NATS_HOST", "")
	t.Setenv("INFLUX_URL", "")
	t.Setenv("CONSUL_ENABLED", "false")

	c, err := NewConfig()
	require.Nil(t, err)
	assert.Equal(t, DefaultDeviceID, c.Service.DeviceID)
	assert.Equal(t, 2*time.Second, c.Service.RetryTimeout)
	assert.Equal(t, uint32(8080), c.Service.PortREST)
	assert.False(t, c.NATS.Enabled())
	assert.False(t, c.Influx.Enabled())
}

func TestConfig(t *testing.T) {
	c := &Config{
		Service: validService(),
		Store: Store{
			Backend:  BackendRedis,
			Host:     "localhost",
			Port:     6379,
			Password: "password",
		},
		Token: Token{Secret: "secret", TTL: time.Hour},
	}
	err := c.validate()
	assert.Nil(t, err)

	c = &Config{}
	err = c.validate()
	assert.NotNil(t, err)
}

func validService() Service {
	return Service{
		AppID:              "torenms",
		LogLevel:           "debug",
		DeviceID:           DefaultDeviceID,
		RetryAttempts:      5,
		RetryTimeout:       time.Duration(100),
		PortRPC:            1111,
		PortREST:           2222,
		TerminationTimeout: time.Second,
	}
}

func TestServiceConfig(t *testing.T) {
	svc := validService()
	err := svc.validate()
	assert.Nil(t, err)

	svc = Service{}
	err = svc.validate()
	assert.NotNil(t, err)

	svc = Service{AppID: "torenms"}
	err = svc.validate()
	assert.NotNil(t, err)

	svc = Service{AppID: "torenms", LogLevel: "debug", DeviceID: DefaultDeviceID}
	err = svc.validate()
	assert.NotNil(t, err)

	svc = Service{AppID: "torenms", LogLevel: "debug", DeviceID: DefaultDeviceID, RetryAttempts: 5,
		RetryTimeout: time.Duration(100), PortRPC: 1111, PortREST: 2222}
	err = svc.validate()
	assert.NotNil(t, err)
}

func TestStoreConfig(t *testing.T) {
	s := Store{
		Backend:  BackendRedis,
		Host:     "localhost",
		Port:     1111,
		Password: "password",
	}
	err := s.validate()
	assert.Nil(t, err)

	s = Store{Backend: BackendMemory}
	err = s.validate()
	assert.Nil(t, err)

	s = Store{}
	err = s.validate()
	assert.NotNil(t, err)

	s = Store{Backend: BackendRedis, Host: "localhost"}
	err = s.validate()
	assert.NotNil(t, err)

	s = Store{Backend: BackendRedis, Host: "localhost", Port: 1111}
	err = s.validate()
	assert.NotNil(t, err)
}

func TestOptionalSections(t *testing.T) {
	assert.Nil(t, NATS{}.validate())
	assert.NotNil(t, NATS{Addr: Addr{Host: "localhost"}}.validate())
	assert.Nil(t, NATS{Addr: Addr{Host: "localhost", Port: 4222}, NotificationTopic: "n"}.validate())

	assert.Nil(t, Influx{}.validate())
	assert.NotNil(t, Influx{URL: "http://localhost:8086"}.validate())

	assert.Nil(t, Consul{}.validate())
	assert.NotNil(t, Consul{Enabled: true}.validate())
}
