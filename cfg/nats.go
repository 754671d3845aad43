package cfg

import (
	"fmt"
)

// NATS holds nats configuration. Notifications are disabled when the host is empty.
type NATS struct {
	Addr              Addr
	NotificationTopic string
}

// Enabled reports whether notifications should be published.
func (n NATS) Enabled() bool {
	return n.Addr.Host != ""
}

func (n NATS) validate() error {
	if !n.Enabled() {
		return nil
	}
	if n.Addr.Port == 0 {
		return fmt.Errorf("nats port env var is missing")
	}
	if n.NotificationTopic == "" {
		return fmt.Errorf("nats notification topic env var is missing")
	}
	return nil
}
