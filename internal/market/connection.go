package market

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Connection guards the terminal session. It initializes lazily, once, and
// re-initializes when the terminal reports it lost its connection.
type Connection struct {
	terminal Terminal
	logger   *zap.Logger

	mu          sync.Mutex
	initialized bool
}

func NewConnection(terminal Terminal, logger *zap.Logger) *Connection {
	return &Connection{terminal: terminal, logger: logger}
}

// Ensure returns nil when the terminal is initialized and connected.
func (c *Connection) Ensure(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		if err := c.terminal.Initialize(ctx); err != nil {
			return fmt.Errorf("initialize terminal: %w", err)
		}
		c.initialized = true
		c.logger.Info("terminal initialized")
	}

	info, err := c.terminal.Info(ctx)
	if err == nil && info.Connected {
		return nil
	}

	c.logger.Warn("terminal disconnected, reinitializing", zap.Error(err))
	if err := c.terminal.Shutdown(ctx); err != nil {
		c.logger.Warn("terminal shutdown failed", zap.Error(err))
	}
	c.initialized = false

	if err := c.terminal.Initialize(ctx); err != nil {
		return fmt.Errorf("reinitialize terminal: %w", err)
	}
	c.initialized = true

	info, err = c.terminal.Info(ctx)
	if err != nil {
		return fmt.Errorf("terminal info: %w", err)
	}
	if !info.Connected {
		return fmt.Errorf("terminal not connected after reinitialize")
	}
	return nil
}

// Close shuts the session down if it was ever opened.
func (c *Connection) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return nil
	}
	c.initialized = false
	return c.terminal.Shutdown(ctx)
}
