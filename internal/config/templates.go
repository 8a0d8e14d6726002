package config

import (
	"fmt"
	"os"
)

func Template() string {
	return configTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(configTemplate), 0o600)
}

const configTemplate = `name = "callmux"
listen_addr = "127.0.0.1:7400"
peer_addr = "127.0.0.1:7400"
admin_addr = "127.0.0.1:7401"
cors_origins = ["http://localhost:3000"]

call_timeout = "30s"
connect_timeout = "5s"
write_timeout = "15s"
max_connect_attempts = 5
max_payload_bytes = 8388608
max_in_flight = 64
log_level = "info"

[backoff]
initial_delay = "250ms"
multiplier = 2.0
max_delay = "5s"
jitter = true
`
