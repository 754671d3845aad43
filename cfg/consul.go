package cfg

import (
	"fmt"
	"time"
)

// Consul holds service mesh registration settings.
type Consul struct {
	Enabled bool
	TTL     time.Duration
}

func (c Consul) validate() error {
	if c.Enabled && c.TTL == 0 {
		return fmt.Errorf("consul ttl env var is missing")
	}
	return nil
}
