// internal/execution/classify.go
package execution

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-copybot/internal/blockchain/solbc"
	rpcpool "github.com/rovshanmuradov/solana-copybot/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/solana-copybot/internal/dex/launchpad"
	"github.com/rovshanmuradov/solana-copybot/internal/domain"
)

var (
	// ErrAlreadyClosed means there is nothing left to sell.
	ErrAlreadyClosed = errors.New("position already closed")
	// ErrPoolNotTrading means the curve has migrated and no longer accepts swaps.
	ErrPoolNotTrading = errors.New("launchpad pool is not trading")
)

var fatalMarkers = []string{
	"insufficient funds",
	"insufficient lamports",
	"insufficientfunds",
	"invalid instruction data",
	"instructiondidnotdeserialize",
	"instructionfallbacknotfound",
	"accountnotinitialized",
	"accountnotenoughkeys",
	"constraint",
	"invalid account data",
	"unauthorized",
	"forbidden",
	"invalid request",
}

var transientMarkers = []string{
	"blockhash not found",
	"blockhashnotfound",
	"block height exceeded",
	"node is behind",
	"node is unhealthy",
	"slippage",
	"too little output",
	"toolittleoutput",
	"too much input",
	"timeout",
	"timed out",
	"rate limit",
	"try again",
}

// Classifier maps execution errors to failure kinds.
type Classifier struct {
	analyzer *solbc.ErrorAnalyzer
}

func NewClassifier(logger *zap.Logger) *Classifier {
	return &Classifier{analyzer: solbc.NewErrorAnalyzer(logger)}
}

// Classify returns FailureTransient for anything worth retrying and
// FailureFatal for errors a resend cannot fix. Unknown errors are transient.
func (c *Classifier) Classify(err error) domain.FailureKind {
	switch {
	case err == nil:
		return domain.FailureNone
	case errors.Is(err, ErrAlreadyClosed):
		return domain.FailureAlreadyClosed
	case errors.Is(err, ErrPoolNotTrading):
		return domain.FailureFatal
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, solbc.ErrConfirmationTimeout),
		errors.Is(err, launchpad.ErrPoolNotFound),
		rpcpool.IsRetryableError(err):
		return domain.FailureTransient
	}

	analysis := c.analyzer.Analyze(err)
	if analysis.Anchor != nil && isFatalAnchorCode(analysis.Anchor.Code) {
		return domain.FailureFatal
	}

	text := analysis.Text() + "\n" + strings.ToLower(err.Error())
	for _, m := range fatalMarkers {
		if strings.Contains(text, m) {
			return domain.FailureFatal
		}
	}
	if rpcpool.IsCriticalError(err) {
		return domain.FailureFatal
	}
	for _, m := range transientMarkers {
		if strings.Contains(text, m) {
			return domain.FailureTransient
		}
	}
	return domain.FailureTransient
}

// Anchor framework codes: 100-1999 instruction/IDL, 2000-2999 constraints,
// 3000-3999 accounts. Program-defined codes start at 6000.
func isFatalAnchorCode(code int) bool {
	return code >= 100 && code < 4000
}
