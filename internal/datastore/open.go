package datastore

import (
	"fmt"
	"strings"

	logx "feeflow/pkg/logx"
)

// Open constructs a Store for the configured driver.
func Open(cfg Config, log logx.Logger) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown datastore driver %q", cfg.Driver)
	}
}
