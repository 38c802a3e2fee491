// internal/storage/journal.go
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/vadiminshakov/gowal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-copybot/internal/domain"
)

const (
	openKeyPrefix  = "position_open_"
	closeKeyPrefix = "position_close_"

	defaultSegmentThreshold = 1000
	defaultMaxSegments      = 10
)

// ErrJournalClosed is returned after Close.
var ErrJournalClosed = errors.New("position journal is closed")

// Config describes where the journal lives on disk.
type Config struct {
	Dir              string
	SegmentThreshold int
	MaxSegments      int
	Sync             bool
}

type closeRecord struct {
	Token     solana.PublicKey `json:"token"`
	Signature solana.Signature `json:"signature"`
	ClosedAt  time.Time        `json:"closed_at"`
}

// Journal persists position open/close records in a write-ahead log so
// that open positions survive a restart.
type Journal struct {
	mu     sync.Mutex
	wal    *gowal.Wal
	logger *zap.Logger

	// open holds the last open record per token. It is rewritten every
	// checkpointEvery writes so that rotated-out segments never take the
	// only copy of a live position with them.
	open            map[solana.PublicKey][]byte
	writes          int
	checkpointEvery int
}

// OpenJournal opens (or creates) the journal under cfg.Dir.
func OpenJournal(cfg Config, logger *zap.Logger) (*Journal, error) {
	if cfg.Dir == "" {
		return nil, errors.New("journal dir is required")
	}
	if cfg.SegmentThreshold <= 0 {
		cfg.SegmentThreshold = defaultSegmentThreshold
	}
	if cfg.MaxSegments <= 0 {
		cfg.MaxSegments = defaultMaxSegments
	}
	if cfg.MaxSegments < 2 {
		return nil, errors.New("journal needs at least 2 segments")
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              cfg.Dir,
		Prefix:           "positions_",
		SegmentThreshold: cfg.SegmentThreshold,
		MaxSegments:      cfg.MaxSegments,
		IsInSyncDiskMode: cfg.Sync,
	})
	if err != nil {
		return nil, fmt.Errorf("init position journal: %w", err)
	}

	// a record outlives at least threshold*(max-1) later writes
	every := cfg.SegmentThreshold * (cfg.MaxSegments - 1) / 2
	if every < 1 {
		every = 1
	}

	return &Journal{
		wal:             wal,
		logger:          logger.Named("journal"),
		open:            make(map[solana.PublicKey][]byte),
		checkpointEvery: every,
	}, nil
}

// RecordOpen appends an open record for p.
func (j *Journal) RecordOpen(p domain.Position) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal position: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.append(openKeyPrefix+p.Token.String(), payload); err != nil {
		return err
	}
	j.open[p.Token] = payload
	return j.checkpointIfDue()
}

// RecordClose appends a close record for token.
func (j *Journal) RecordClose(token solana.PublicKey, signature solana.Signature) error {
	payload, err := json.Marshal(closeRecord{Token: token, Signature: signature, ClosedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal close record: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.append(closeKeyPrefix+token.String(), payload); err != nil {
		return err
	}
	delete(j.open, token)
	return j.checkpointIfDue()
}

// append writes one record. Callers hold j.mu.
func (j *Journal) append(key string, payload []byte) error {
	if j.wal == nil {
		return ErrJournalClosed
	}
	return j.wal.Write(j.wal.CurrentIndex()+1, key, payload)
}

// checkpointIfDue re-appends every open record once enough writes have
// accumulated. Callers hold j.mu.
func (j *Journal) checkpointIfDue() error {
	j.writes++
	if j.writes < j.checkpointEvery || len(j.open) == 0 {
		return nil
	}
	j.writes = 0

	tokens := make([]solana.PublicKey, 0, len(j.open))
	for token := range j.open {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(a, b int) bool { return tokens[a].String() < tokens[b].String() })

	for _, token := range tokens {
		if err := j.append(openKeyPrefix+token.String(), j.open[token]); err != nil {
			return fmt.Errorf("checkpoint open positions: %w", err)
		}
	}
	j.logger.Debug("Open positions checkpointed", zap.Int("positions", len(tokens)))
	return nil
}

// Recover replays the log and returns positions that were opened and never closed,
// oldest first.
func (j *Journal) Recover() ([]domain.Position, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.wal == nil {
		return nil, ErrJournalClosed
	}
	if j.wal.CurrentIndex() == 0 {
		return nil, nil
	}

	open := make(map[solana.PublicKey]domain.Position)
	payloads := make(map[solana.PublicKey][]byte)
	for msg := range j.wal.Iterator() {
		switch {
		case strings.HasPrefix(msg.Key, openKeyPrefix):
			var p domain.Position
			if err := json.Unmarshal(msg.Value, &p); err != nil {
				j.logger.Error("failed to unmarshal position", zap.String("key", msg.Key), zap.Error(err))
				continue
			}
			p.State = domain.PositionOpen
			open[p.Token] = p
			payloads[p.Token] = msg.Value
		case strings.HasPrefix(msg.Key, closeKeyPrefix):
			var rec closeRecord
			if err := json.Unmarshal(msg.Value, &rec); err != nil {
				j.logger.Error("failed to unmarshal close record", zap.String("key", msg.Key), zap.Error(err))
				continue
			}
			delete(open, rec.Token)
			delete(payloads, rec.Token)
		}
	}
	j.open = payloads

	out := make([]domain.Position, 0, len(open))
	for _, p := range open {
		out = append(out, p)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].EntryTime.Before(out[b].EntryTime) })

	j.logger.Info("Journal replayed", zap.Int("open_positions", len(out)))
	return out, nil
}

// Close closes the underlying WAL.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.wal == nil {
		return ErrJournalClosed
	}
	err := j.wal.Close()
	j.wal = nil
	return err
}
