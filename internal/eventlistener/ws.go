// internal/eventlistener/ws.go
package eventlistener

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"go.uber.org/zap"
)

// ErrStreamClosed is returned by Recv after Close.
var ErrStreamClosed = errors.New("stream closed")

// WSTransport subscribes to program logs over the RPC websocket.
type WSTransport struct {
	endpoint   string
	commitment rpc.CommitmentType
	logger     *zap.Logger
}

func NewWSTransport(endpoint string, logger *zap.Logger) *WSTransport {
	return &WSTransport{
		endpoint:   endpoint,
		commitment: rpc.CommitmentProcessed,
		logger:     logger.Named("ws"),
	}
}

// Subscribe opens one logsSubscribe per mentioned account and merges them.
func (t *WSTransport) Subscribe(ctx context.Context, filter Filter) (Stream, error) {
	client, err := ws.Connect(ctx, t.endpoint)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", t.endpoint, err)
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &wsStream{
		client:         client,
		cancel:         cancel,
		program:        filter.Program,
		requireProgram: len(filter.Accounts) > 0,
		out:            make(chan *Envelope, 256),
		errc:           make(chan error, 1),
		done:           make(chan struct{}),
	}

	for _, account := range filter.Mentions() {
		sub, err := client.LogsSubscribeMentions(account, t.commitment)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("logsSubscribe %s: %w", account, err)
		}
		s.subs = append(s.subs, sub)
	}
	for _, sub := range s.subs {
		go s.pump(sctx, sub)
	}

	t.logger.Debug("Subscribed to logs", zap.Int("subscriptions", len(s.subs)))
	return s, nil
}

type wsStream struct {
	client         *ws.Client
	subs           []*ws.LogSubscription
	cancel         context.CancelFunc
	program        solana.PublicKey
	requireProgram bool

	out  chan *Envelope
	errc chan error
	done chan struct{}
	once sync.Once
}

func (s *wsStream) pump(ctx context.Context, sub *ws.LogSubscription) {
	for {
		res, err := sub.Recv(ctx)
		if err != nil {
			s.fail(err)
			return
		}
		if res == nil {
			continue
		}
		// подписка по аккаунту видит и чужие программы
		if s.requireProgram && !mentionsProgram(res.Value.Logs, s.program) {
			continue
		}

		env := &Envelope{
			Signature:  res.Value.Signature,
			Slot:       res.Context.Slot,
			Logs:       res.Value.Logs,
			Err:        res.Value.Err,
			ReceivedAt: time.Now(),
		}
		select {
		case s.out <- env:
		case <-s.done:
			return
		}
	}
}

func (s *wsStream) fail(err error) {
	select {
	case s.errc <- err:
	default:
	}
}

func (s *wsStream) Recv(ctx context.Context) (*Envelope, error) {
	select {
	case env := <-s.out:
		return env, nil
	case err := <-s.errc:
		return nil, err
	case <-s.done:
		return nil, ErrStreamClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *wsStream) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.cancel()
		for _, sub := range s.subs {
			sub.Unsubscribe()
		}
		s.client.Close()
	})
	return nil
}

func mentionsProgram(logs []string, program solana.PublicKey) bool {
	id := program.String()
	for _, line := range logs {
		if strings.Contains(line, id) {
			return true
		}
	}
	return false
}
