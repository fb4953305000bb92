package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/kbclient/internal/catalog"
)

// Template returns the template text for kind ("client" or "catalog").
func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "client":
		return clientTemplate, nil
	case "catalog":
		return catalog.DefaultTemplate(), nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const clientTemplate = `endpoint = "tcp://localhost:4545"
timeout = "100ms"
queue_capacity = 5
stats_interval = 20
reconnect_initial = "250ms"
reconnect_max = "5s"
# catalog = "catalog.toml"
status_addr = "127.0.0.1:9400"
# status_token = "change-me"
cors_origins = ["http://localhost:3000"]

[security]
mechanism = "null"

[[select]]
category = "DSSC"
source = "SCS_DET_DSSC1M-1/DET/*CH0:xtdf"
property = "image.data"

[[select]]
category = "XGM"
source = "SCS_BLU_XGM/XGM/DOOCS:output"
property = "intensityTD"

[redis]
enabled = false
url = "redis://localhost:6379/0"
stream = "kbclient:trains"
max_len = 10000
# ca_file = "redis-ca.crt"
`
