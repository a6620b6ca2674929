package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/fabell4/marion/internal/config"
	"github.com/fabell4/marion/internal/models"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// Service defines reply cache operations
type Service interface {
	Get(ctx context.Context, messages []models.Message, model string) (*models.ChatReply, bool)
	Set(ctx context.Context, messages []models.Message, model string, reply *models.ChatReply) error
	Clear(ctx context.Context) error
}

// Cache stores normalized replies keyed by the full conversation, so a
// repeated identical request within the TTL skips the provider entirely.
type Cache struct {
	enabled bool
	cache   *cache.Cache
	logger  *logrus.Logger
	maxSize int
}

// NewCache creates a new reply cache
func NewCache(cfg *config.CacheConfig, logger *logrus.Logger) Service {
	if !cfg.Enabled {
		return &Cache{enabled: false}
	}

	return &Cache{
		enabled: true,
		cache:   cache.New(cfg.TTL, cfg.TTL*2),
		logger:  logger,
		maxSize: cfg.MaxSize,
	}
}

// Get retrieves a cached reply
func (c *Cache) Get(ctx context.Context, messages []models.Message, model string) (*models.ChatReply, bool) {
	if !c.enabled {
		return nil, false
	}

	key := c.generateKey(messages, model)
	if val, found := c.cache.Get(key); found {
		reply := val.(*models.ChatReply)
		c.logger.WithFields(logrus.Fields{
			"model":    model,
			"provider": reply.Provider,
		}).Debug("Reply cache hit")
		return reply, true
	}

	return nil, false
}

// Set stores a reply in cache
func (c *Cache) Set(ctx context.Context, messages []models.Message, model string, reply *models.ChatReply) error {
	if !c.enabled {
		return nil
	}

	// Check cache size
	if c.cache.ItemCount() >= c.maxSize {
		c.logger.Warn("Cache size limit reached, clearing expired entries")
		c.cache.DeleteExpired()
	}

	key := c.generateKey(messages, model)
	c.cache.SetDefault(key, reply)
	c.logger.WithField("model", model).Debug("Reply cached")

	return nil
}

// Clear removes all cached entries
func (c *Cache) Clear(ctx context.Context) error {
	if !c.enabled {
		return nil
	}

	c.cache.Flush()
	c.logger.Info("Reply cache cleared")
	return nil
}

// generateKey hashes the model and the full conversation, so any change
// in role, content, or order misses.
func (c *Cache) generateKey(messages []models.Message, model string) string {
	var sb strings.Builder
	sb.WriteString(model)
	for _, m := range messages {
		sb.WriteString(fmt.Sprintf("|%s:%s", m.Role, m.Content))
	}
	hash := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(hash[:])
}
