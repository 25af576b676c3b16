package blockchain

import (
	"strings"
)

// TxError represents a human-readable transaction error
type TxError struct {
	Code    int
	Raw     string
	Message string
	Action  string
}

func (e *TxError) Error() string {
	return e.Message
}

// ParseTxError converts an RPC error to a human-readable message
func ParseTxError(err error) *TxError {
	if err == nil {
		return nil
	}

	raw := err.Error()
	txErr := &TxError{Raw: raw}

	if rpcErr, ok := err.(*RPCError); ok {
		txErr.Code = rpcErr.Code
	}

	switch {
	case contains(raw, "no record of a prior credit"):
		txErr.Message = "insufficient balance - wallet has 0 SOL"
		txErr.Action = "fund wallet with SOL"

	case contains(raw, "insufficient funds"), contains(raw, "insufficient lamports"):
		txErr.Message = "insufficient balance - not enough SOL for trade + fees"
		txErr.Action = "add more SOL to wallet"

	case contains(raw, "slippage"), contains(raw, "ExceededSlippage"):
		txErr.Message = "slippage exceeded - price moved too much"
		txErr.Action = "increase slippage_bps in config"

	case contains(raw, "blockhash not found"), contains(raw, "block height exceeded"):
		txErr.Message = "transaction expired - blockhash too old"
		txErr.Action = "retry immediately"

	case contains(raw, "429"), contains(raw, "rate limit"):
		txErr.Message = "rate limited - RPC throttled"
		txErr.Action = "wait and retry"

	case contains(raw, "account not found"), contains(raw, "AccountNotFound"):
		txErr.Message = "token account not found"
		txErr.Action = "check token balance, ATA may need creation"

	case contains(raw, "custom program error"):
		txErr.Message = "program error - venue rejected the swap"
		txErr.Action = "check token liquidity"

	case contains(raw, "connection refused"):
		txErr.Message = "RPC connection failed"
		txErr.Action = "check RPC endpoint"

	case contains(raw, "timeout"):
		txErr.Message = "RPC timeout - network slow"
		txErr.Action = "retry"

	default:
		txErr.Message = "transaction failed"
		txErr.Action = "check raw error"
	}

	return txErr
}

// HumanError returns a human-readable error string
func HumanError(err error) string {
	if err == nil {
		return ""
	}
	return ParseTxError(err).Message
}

func contains(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
