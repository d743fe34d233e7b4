package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/arhansuba/zr-don-pay/pkg/errors"
	"github.com/arhansuba/zr-don-pay/pkg/logger"
)

// NopCache never stores anything; writes are only logged.
type NopCache struct {
	logger logger.Logger
}

func NewNopCache(log logger.Logger) *NopCache {
	return &NopCache{logger: log}
}

func (c *NopCache) Get(_ context.Context, _ string) (json.RawMessage, error) {
	return nil, errors.ErrCacheMiss
}

func (c *NopCache) Set(_ context.Context, key string, _ json.RawMessage, _ time.Duration) error {
	c.logger.Debug("Cache disabled, dropping write", map[string]interface{}{"key": key})
	return nil
}
