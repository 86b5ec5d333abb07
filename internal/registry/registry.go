// Package registry reads and writes per-service instance lists in the
// shared redis registry.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/In5al/pad-labs-onethree/internal/config"
)

// ErrUnavailable is returned by mutating operations while the registry is
// unreachable.
var ErrUnavailable = errors.New("registry unavailable")

const (
	// reconnect backoff: attempt x backoffStep, capped at backoffCap, for
	// maxAttempts tries, then idle for cooldown before a fresh round.
	backoffStep = 100 * time.Millisecond
	backoffCap  = 3 * time.Second
	maxAttempts = 10
	cooldown    = 30 * time.Second

	pingTimeout = 2 * time.Second
)

// Client is the typed registry client. Construction never blocks on the
// store being reachable; reads degrade to empty lists while disconnected.
type Client struct {
	client    *redis.Client
	keyPrefix string
	logger    *zap.Logger

	connected atomic.Bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// New creates a registry client and starts the background connection loop.
func New(cfg *config.RegistryConfig, logger *zap.Logger) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid registry url %q: %w", cfg.URL, err)
	}

	opts.DialTimeout = pingTimeout
	opts.ReadTimeout = pingTimeout
	opts.WriteTimeout = pingTimeout

	c := &Client{
		client:    redis.NewClient(opts),
		keyPrefix: cfg.KeyPrefix,
		logger:    logger,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}

	go c.connectLoop()

	return c, nil
}

// key returns the list key for a service type.
func (c *Client) key(serviceType string) string {
	return c.keyPrefix + ":" + serviceType
}

// Connected reports whether the registry is currently considered reachable:
// set by a successful connection attempt, cleared by a failed liveness ping
// or a store error on a read or write.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// ListInstances returns the current instance list for a service type.
// While the registry is unreachable it returns an empty list and logs a
// warning; it never fails.
func (c *Client) ListInstances(ctx context.Context, serviceType string) []string {
	if !c.connected.Load() {
		c.logger.Warn("registry disconnected, returning empty instance list",
			zap.String("service_type", serviceType))
		return nil
	}

	instances, err := c.client.LRange(ctx, c.key(serviceType), 0, -1).Result()
	if err != nil {
		c.logger.Warn("failed to read instance list",
			zap.String("service_type", serviceType),
			zap.Error(err))
		c.observeError(err)
		return nil
	}

	return instances
}

// RegisterInstance prepends a host to the service type's instance list.
// Unlike reads, registration requires a hard answer.
func (c *Client) RegisterInstance(ctx context.Context, serviceType, host string) error {
	if !c.connected.Load() {
		return ErrUnavailable
	}

	if err := c.client.LPush(ctx, c.key(serviceType), host).Err(); err != nil {
		c.observeError(err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return nil
}

// ClearInstances drops all registrations for a service type. Deployments
// use this to shed stale addresses before re-registering.
func (c *Client) ClearInstances(ctx context.Context, serviceType string) error {
	if !c.connected.Load() {
		return ErrUnavailable
	}

	if err := c.client.Del(ctx, c.key(serviceType)).Err(); err != nil {
		c.observeError(err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return nil
}

// observeError flips the connected flag on errors that indicate the store
// itself is unreachable. Caller-cancelled contexts are not the store's fault.
func (c *Client) observeError(err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	c.markDisconnected()
}

// markDisconnected flips the connected flag so the connect loop takes over.
func (c *Client) markDisconnected() {
	if c.connected.CompareAndSwap(true, false) {
		c.logger.Warn("registry connection lost")
	}
}

// connectLoop maintains the connection flag: bounded-backoff attempts while
// disconnected, periodic liveness pings while connected.
func (c *Client) connectLoop() {
	defer close(c.doneCh)

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		if c.connected.Load() {
			if !c.sleep(pingTimeout * 2) {
				return
			}
			c.checkAlive()
			continue
		}

		if c.tryConnect() {
			continue
		}

		// All attempts failed; idle before the next round.
		if !c.sleep(cooldown) {
			return
		}
	}
}

// tryConnect runs one bounded round of connection attempts.
func (c *Client) tryConnect() bool {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		err := c.client.Ping(ctx).Err()
		cancel()

		if err == nil {
			c.connected.Store(true)
			c.logger.Info("registry connected", zap.Int("attempt", attempt))
			return true
		}

		backoff := time.Duration(attempt) * backoffStep
		if backoff > backoffCap {
			backoff = backoffCap
		}

		c.logger.Warn("registry connection attempt failed",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", backoff),
			zap.Error(err))

		if !c.sleep(backoff) {
			return false
		}
	}

	return false
}

// checkAlive verifies an established connection is still usable.
func (c *Client) checkAlive() {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := c.client.Ping(ctx).Err(); err != nil {
		c.markDisconnected()
	}
}

// sleep waits for d or until Close; it reports false when closing.
func (c *Client) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-c.stopCh:
		return false
	}
}

// Close quiesces the client: stops the connection loop and releases the
// underlying connection pool.
func (c *Client) Close() error {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	<-c.doneCh

	return c.client.Close()
}
