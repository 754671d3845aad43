package cfg

import (
	"fmt"
	"time"
)

// Token holds the settings for session token handling.
type Token struct {
	Secret string
	TTL    time.Duration
}

func (t Token) validate() error {
	if t.Secret == "" {
		return fmt.Errorf("token secret env var is missing")
	}
	if t.TTL == 0 {
		return fmt.Errorf("token ttl env var is missing")
	}
	return nil
}
