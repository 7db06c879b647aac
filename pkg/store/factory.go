package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-training/workspace-mcp/pkg/core"
)

// StoreType names a client and grant store backend.
type StoreType string

const (
	// StoreTypeMemory keeps clients and grants in process.
	StoreTypeMemory StoreType = "memory"
	// StoreTypeRedis shares clients and grants between bridge instances.
	StoreTypeRedis StoreType = "redis"
)

// Config selects and configures the store backend.
type Config struct {
	Type  StoreType
	Redis RedisOptions
	// Retention is how long consumed grants are kept before removal.
	// Zero means core.DefaultGrantRetentionWindow.
	Retention time.Duration
}

// NewStore opens the backend described by config.
func NewStore(config Config) (core.Store, error) {
	retention := config.Retention
	if retention <= 0 {
		retention = core.DefaultGrantRetentionWindow
	}

	switch config.Type {
	case StoreTypeMemory:
		return NewMemoryStore(WithRetention(retention)), nil
	case StoreTypeRedis:
		rs, err := NewRedisStoreFromOptions(config.Redis)
		if err != nil {
			return nil, err
		}
		rs.retention = retention
		return rs, nil
	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}

// ParseStoreType maps a case-insensitive name to a StoreType. Unknown names
// fall back to memory; use IsValid to reject them first.
func ParseStoreType(s string) StoreType {
	if StoreType(strings.ToLower(s)) == StoreTypeRedis {
		return StoreTypeRedis
	}
	return StoreTypeMemory
}

func (t StoreType) String() string {
	return string(t)
}

// IsValid reports whether t names a supported backend.
func (t StoreType) IsValid() bool {
	return t == StoreTypeMemory || t == StoreTypeRedis
}
