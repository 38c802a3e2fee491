// internal/blockchain/solbc/rpc/node.go
package rpc

import (
	"sync"
	"sync/atomic"
	"time"

	solanarpc "github.com/gagliardetto/solana-go/rpc"
)

// NodeClient представляет отдельный RPC узел
type NodeClient struct {
	Client *solanarpc.Client
	URL    string

	mu            sync.RWMutex
	disabledUntil time.Time

	successCount atomic.Uint64
	errorCount   atomic.Uint64
}

// NewNodeClient создает новый экземпляр NodeClient
func NewNodeClient(url string) *NodeClient {
	return &NodeClient{
		Client: solanarpc.New(url),
		URL:    url,
	}
}

// IsActive возвращает текущий статус активности узла
func (c *NodeClient) IsActive(now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !now.Before(c.disabledUntil)
}

// Disable выводит узел из ротации на время cooldown
func (c *NodeClient) Disable(cooldown time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disabledUntil = time.Now().Add(cooldown)
}

func (c *NodeClient) record(success bool) {
	if success {
		c.successCount.Add(1)
		return
	}
	c.errorCount.Add(1)
}

// Stats возвращает количество успешных и неудачных запросов
func (c *NodeClient) Stats() (success, failed uint64) {
	return c.successCount.Load(), c.errorCount.Load()
}
