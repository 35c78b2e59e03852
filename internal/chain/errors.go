package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	ErrInvalidPrivateKey   = errors.New("chain: invalid private key")
	ErrInvalidAddress      = errors.New("chain: invalid address")
	ErrRPCConnection       = errors.New("chain: RPC connection failed")
	ErrTransactionFailed   = errors.New("chain: transaction failed")
	ErrTimeout             = errors.New("chain: confirmation timed out")
	ErrNoMaintenanceRecord = errors.New("chain: asset has no completed maintenance")
	ErrNotFilingTx         = errors.New("chain: transaction is not a fault report")
)

// Kind classifies ledger failures so callers branch on a value instead of
// parsing revert text.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransient
	KindTimeout
	KindReverted
	KindInvalidTransition
	KindAlreadyPaid
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindTimeout:
		return "timeout"
	case KindReverted:
		return "reverted"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindAlreadyPaid:
		return "already_paid"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Error is the only error type the ledger client returns for RPC and
// contract failures.
type Error struct {
	Kind   Kind
	Op     string // contract method or RPC step
	TxHash string // set once a transaction was broadcast
	Reason string // decoded revert reason, if any
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "chain: %s %s", e.Op, e.Kind)
	if e.TxHash != "" {
		fmt.Fprintf(&b, " (tx: %s)", e.TxHash)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	} else if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind from err, or KindUnknown.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// IsTransient reports whether a retry on a later cycle can succeed.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindTimeout:
		return true
	}
	return false
}

// ReasonOf returns the decoded revert reason carried by err, if any.
func ReasonOf(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return ""
}

// revertKinds maps contract require() messages to kinds. Matching is by
// lower-cased substring; first match wins.
var revertKinds = []struct {
	fragment string
	kind     Kind
}{
	{"already paid", KindAlreadyPaid},
	{"payment already", KindAlreadyPaid},
	{"not ready for payment", KindInvalidTransition},
	{"not operational", KindInvalidTransition},
	{"not broken", KindInvalidTransition},
	{"not under maintenance", KindInvalidTransition},
	{"invalid status", KindInvalidTransition},
	{"no active fault", KindInvalidTransition},
	{"only admin", KindUnauthorized},
	{"only technician", KindUnauthorized},
	{"not authorized", KindUnauthorized},
	{"banned", KindUnauthorized},
}

func kindForReason(reason string) Kind {
	r := strings.ToLower(reason)
	for _, rk := range revertKinds {
		if strings.Contains(r, rk.fragment) {
			return rk.kind
		}
	}
	return KindReverted
}

// classify turns a raw RPC error into an *Error.
func classify(op, txHash string, err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Op: op, TxHash: txHash, Err: err}
	}
	if reason, ok := revertReason(err); ok {
		return &Error{Kind: kindForReason(reason), Op: op, TxHash: txHash, Reason: reason, Err: err}
	}
	return &Error{Kind: KindTransient, Op: op, TxHash: txHash, Err: err}
}

// revertReason decodes the Error(string) payload attached to an
// execution-reverted RPC error.
func revertReason(err error) (string, bool) {
	var de rpc.DataError
	if errors.As(err, &de) {
		if s, ok := de.ErrorData().(string); ok {
			if data, derr := hexutil.Decode(s); derr == nil {
				if reason, uerr := abi.UnpackRevert(data); uerr == nil {
					return reason, true
				}
			}
		}
	}
	msg := err.Error()
	const prefix = "execution reverted"
	if i := strings.Index(msg, prefix); i >= 0 {
		rest := strings.TrimPrefix(msg[i+len(prefix):], ":")
		return strings.TrimSpace(rest), true
	}
	return "", false
}
