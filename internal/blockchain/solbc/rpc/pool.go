// internal/blockchain/solbc/rpc/pool.go
package rpc

import (
	"context"
	"errors"
	"sync"
	"time"

	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// DefaultCooldown - время, на которое узел исключается из ротации после сетевой ошибки
const DefaultCooldown = 10 * time.Second

// ErrNoRPCNodes возникает, если не передано ни одного URL
var ErrNoRPCNodes = errors.New("no RPC nodes configured")

// Observer получает длительность каждого запроса к узлу
type Observer func(method string, duration time.Duration, err error)

// Pool представляет пул RPC клиентов с round-robin переключением
type Pool struct {
	clients  []*NodeClient
	cooldown time.Duration
	logger   *zap.Logger
	observer Observer

	mu   sync.Mutex
	curr int
}

// NewPool создает новый пул клиентов
func NewPool(urls []string, cooldown time.Duration, logger *zap.Logger) (*Pool, error) {
	if len(urls) == 0 {
		return nil, ErrNoRPCNodes
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}

	clients := make([]*NodeClient, 0, len(urls))
	for _, url := range urls {
		clients = append(clients, NewNodeClient(url))
	}

	return &Pool{
		clients:  clients,
		cooldown: cooldown,
		logger:   logger.Named("rpc-pool"),
	}, nil
}

// SetObserver подключает наблюдателя за задержками запросов
func (p *Pool) SetObserver(o Observer) { p.observer = o }

// Size возвращает количество узлов в пуле
func (p *Pool) Size() int { return len(p.clients) }

// Clients возвращает узлы пула
func (p *Pool) Clients() []*NodeClient { return p.clients }

// GetNextClient возвращает следующий активный клиент из пула.
// Если все узлы выведены из ротации, возвращается следующий по кругу.
func (p *Pool) GetNextClient() *NodeClient {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for i := 0; i < len(p.clients); i++ {
		p.curr = (p.curr + 1) % len(p.clients)
		if p.clients[p.curr].IsActive(now) {
			return p.clients[p.curr]
		}
	}
	p.curr = (p.curr + 1) % len(p.clients)
	return p.clients[p.curr]
}

// Do выполняет операцию, переключаясь на следующий узел при сетевых ошибках.
// Каждый узел пробуется не более одного раза.
func (p *Pool) Do(ctx context.Context, method string, operation func(*solanarpc.Client) error) error {
	var lastErr error
	for attempt := 0; attempt < len(p.clients); attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return NewError(err, "", method)
		}

		node := p.GetNextClient()
		start := time.Now()
		err := operation(node.Client)
		node.record(err == nil)
		if p.observer != nil {
			p.observer(method, time.Since(start), err)
		}
		if err == nil {
			return nil
		}

		wrapped := NewError(err, node.URL, method)
		if !IsRetryableError(wrapped) || errors.Is(err, context.Canceled) {
			return wrapped
		}

		lastErr = wrapped
		node.Disable(p.cooldown)
		p.logger.Debug("RPC request failed, trying next node",
			zap.String("method", method),
			zap.String("url", node.URL),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return lastErr
}
