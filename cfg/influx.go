package cfg

import "fmt"

// Influx holds the telemetry sink configuration. Telemetry is disabled when the url is empty.
type Influx struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Enabled reports whether device readings should be recorded.
func (i Influx) Enabled() bool {
	return i.URL != ""
}

func (i Influx) validate() error {
	if !i.Enabled() {
		return nil
	}
	if i.Token == "" {
		return fmt.Errorf("influx token env var is missing")
	}
	if i.Org == "" {
		return fmt.Errorf("influx org env var is missing")
	}
	if i.Bucket == "" {
		return fmt.Errorf("influx bucket env var is missing")
	}
	return nil
}
