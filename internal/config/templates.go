package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Storefront client configuration

[api]
# Backend base URL (API_BASE_URL overrides this)
base_url = "http://localhost:8000"
timeout = "30s"
max_retries = 3

[store]
# Durable cart store: "sqlite" or "pebble"
driver = "sqlite"
# Defaults to cart.db (sqlite) or cartdb/ (pebble) in this directory
path = ""

[session]
# Per-instance session storage: "file" or "memory"
storage = "file"
path = ""

[bus]
# Auth broadcast between instances: "memory" (single process) or "redis"
driver = "memory"
redis_url = "redis://localhost:6379/0"
channel = "auth_channel"

[feed]
# Page size of the ticker list and live window
limit = 10
max_reconnects = 5
reconnect_delay = "5s"

[log]
# debug, info, warn, error
level = "info"
file = true
path = ""
`

// createTemplateConfig writes a commented template next to the other config
// files. An existing file is never overwritten.
func createTemplateConfig(configDir, name string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}
