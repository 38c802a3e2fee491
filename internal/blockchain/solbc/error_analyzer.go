package solbc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/rovshanmuradov/solana-copybot/internal/blockchain"
	"go.uber.org/zap"
)

// AnchorError represents an error from Anchor framework
type AnchorError struct {
	Code int    `json:"code"`
	Name string `json:"name"`
	Msg  string `json:"msg"`
}

// Analysis is the structured view of a failed submission or landed transaction.
type Analysis struct {
	Type             string       `json:"type"`
	Code             int          `json:"code,omitempty"`
	Message          string       `json:"message"`
	SimulationFailed bool         `json:"simulation_failed,omitempty"`
	Logs             []string     `json:"logs,omitempty"`
	Anchor           *AnchorError `json:"anchor_error,omitempty"`
	InstructionError interface{}  `json:"instruction_error,omitempty"`
	CustomCode       *uint32      `json:"custom_code,omitempty"`
}

// Text joins everything the analysis knows into one lowercase string for matching.
func (a *Analysis) Text() string {
	var b strings.Builder
	b.WriteString(a.Message)
	for _, l := range a.Logs {
		b.WriteByte('\n')
		b.WriteString(l)
	}
	if a.Anchor != nil {
		b.WriteByte('\n')
		b.WriteString(a.Anchor.Name)
		b.WriteByte(' ')
		b.WriteString(a.Anchor.Msg)
	}
	if a.InstructionError != nil {
		if raw, err := json.Marshal(a.InstructionError); err == nil {
			b.WriteByte('\n')
			b.Write(raw)
		}
	}
	return strings.ToLower(b.String())
}

// ErrorAnalyzer provides methods to analyze Solana transaction errors
type ErrorAnalyzer struct {
	logger *zap.Logger
}

// NewErrorAnalyzer creates a new ErrorAnalyzer instance
func NewErrorAnalyzer(logger *zap.Logger) *ErrorAnalyzer {
	return &ErrorAnalyzer{
		logger: logger.Named("error-analyzer"),
	}
}

// Analyze extracts RPC, simulation and on-chain details from err.
func (ea *ErrorAnalyzer) Analyze(err error) *Analysis {
	if err == nil {
		return &Analysis{Type: "none", Message: "no error provided"}
	}

	var txErr *blockchain.TxError
	if errors.As(err, &txErr) {
		res := &Analysis{Type: "transaction_error", Message: err.Error(), InstructionError: txErr.Err}
		res.CustomCode = customCode(txErr.Err)
		return res
	}

	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) {
		return &Analysis{Type: "generic_error", Message: err.Error()}
	}

	result := &Analysis{
		Type:    "rpc_error",
		Code:    rpcErr.Code,
		Message: rpcErr.Message,
	}

	if !strings.Contains(rpcErr.Message, "Transaction simulation failed") {
		return result
	}
	result.SimulationFailed = true

	dataMap, ok := rpcErr.Data.(map[string]interface{})
	if !ok {
		return result
	}

	if logs, ok := dataMap["logs"].([]interface{}); ok {
		for _, entry := range logs {
			logStr, ok := entry.(string)
			if !ok {
				continue
			}
			result.Logs = append(result.Logs, logStr)
			if anchorErr, ok := ParseAnchorErrorLog(logStr); ok {
				result.Anchor = &anchorErr
				ea.logger.Warn("Anchor error detected",
					zap.Int("code", anchorErr.Code),
					zap.String("name", anchorErr.Name),
					zap.String("message", anchorErr.Msg))
			}
		}
	}

	if instrErr, ok := dataMap["err"]; ok && instrErr != nil {
		result.InstructionError = instrErr
		result.CustomCode = customCode(instrErr)
	}

	return result
}

// ParseAnchorErrorLog parses an Anchor error log string
// Example: "Program log: AnchorError occurred. Error Code: InstructionFallbackNotFound. Error Number: 101. Error Message: Fallback functions are not supported."
func ParseAnchorErrorLog(logStr string) (AnchorError, bool) {
	if !strings.Contains(logStr, "AnchorError") {
		return AnchorError{}, false
	}
	result := AnchorError{}

	if _, rest, ok := strings.Cut(logStr, "Error Number:"); ok {
		num, _, _ := strings.Cut(rest, ".")
		result.Code, _ = strconv.Atoi(strings.TrimSpace(num))
	}
	if _, rest, ok := strings.Cut(logStr, "Error Code:"); ok {
		name, _, _ := strings.Cut(rest, ".")
		result.Name = strings.TrimSpace(name)
	}
	if _, rest, ok := strings.Cut(logStr, "Error Message:"); ok {
		result.Msg = strings.TrimSuffix(strings.TrimSpace(rest), ".")
	}

	return result, result.Name != "" || result.Code != 0
}

// customCode digs {"InstructionError":[idx,{"Custom":N}]} out of an RPC error value.
func customCode(v interface{}) *uint32 {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	pair, ok := m["InstructionError"].([]interface{})
	if !ok || len(pair) != 2 {
		return nil
	}
	inner, ok := pair[1].(map[string]interface{})
	if !ok {
		return nil
	}
	switch n := inner["Custom"].(type) {
	case float64:
		c := uint32(n)
		return &c
	case json.Number:
		if i, err := n.Int64(); err == nil {
			c := uint32(i)
			return &c
		}
	}
	return nil
}

// FormatErrorAnalysis formats the error analysis for logging or display
func (ea *ErrorAnalyzer) FormatErrorAnalysis(analysis *Analysis) string {
	jsonBytes, err := json.MarshalIndent(analysis, "", "  ")
	if err != nil {
		return fmt.Sprintf("Error formatting analysis: %v", err)
	}
	return string(jsonBytes)
}
