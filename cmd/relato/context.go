package main

import (
	"fmt"
	"sync"

	"relato/internal/blobstore"
	"relato/internal/config"
	"relato/internal/store"
)

// commandContext lazily loads configuration and opens the store so commands
// that never touch them stay cheap.
type commandContext struct {
	configFlag *string

	once         sync.Once
	cfg          *config.Config
	resolvedPath string
	exists       bool
	loadErr      error

	storeOnce sync.Once
	store     *store.Store
	storeErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.once.Do(func() {
		path := ""
		if c.configFlag != nil {
			path = *c.configFlag
		}
		c.cfg, c.resolvedPath, c.exists, c.loadErr = config.Load(path)
	})
	return c.cfg, c.loadErr
}

func (c *commandContext) ensureStore() (*store.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	c.storeOnce.Do(func() {
		c.store, c.storeErr = store.Open(cfg)
	})
	if c.storeErr != nil {
		return nil, fmt.Errorf("open store: %w", c.storeErr)
	}
	return c.store, nil
}

func (c *commandContext) ensureBlobs() (blobstore.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	blobs, err := blobstore.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("open blobstore: %w", err)
	}
	return blobs, nil
}
