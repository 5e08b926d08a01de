package config

import (
	"fmt"
	"os"
)

// Template returns a commented starting config for nsqctl.
func Template() string {
	return clientTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(clientTemplate), 0o600)
}

const clientTemplate = `# nsqctl client config
topic = "events"
channel = "nsqctl"
max_in_flight = 10

# static nsqd endpoints and/or nsqlookupd HTTP endpoints
nsqd_tcp_addresses = ["127.0.0.1:4150"]
lookupd_http_addresses = []
lookup_interval_ms = 60000
requeue_delay_ms = 0

# serves /metrics and /healthz when set
metrics_addr = ""

dial_timeout_ms = 5000
write_timeout_ms = 10000
backoff_delay_ms = 1000
max_frame_bytes = 8388608
`
