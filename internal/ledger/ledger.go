// Package ledger abstracts the remote ledger RPC endpoint: chain head, the
// on-chain clock, block lookups and the submit-and-watch primitive. The
// Manager owns the single shared connection and its reconnect discipline.
package ledger

import (
	"context"
	"errors"
	"math/big"
)

var (
	ErrConnectionUnavailable = errors.New("ledger connection unavailable")
	ErrSubmitFailed          = errors.New("failed to submit record")
)

// BlockRef identifies a block by hash and number.
type BlockRef struct {
	Hash   string
	Number uint64
}

// ChainInfo describes the connected chain, surfaced on the status API.
type ChainInfo struct {
	Chain         string `json:"chain"`
	NodeName      string `json:"nodeName"`
	NodeVersion   string `json:"nodeVersion"`
	TokenSymbol   string `json:"tokenSymbol"`
	TokenDecimals int    `json:"tokenDecimals"`
}

// SignedRecord is a signed payload ready for submission, with the tip amount
// attached as a priority bid.
type SignedRecord struct {
	Payload   []byte
	Signature []byte
	Signer    string
	Tip       *big.Int
}

type SubmitEventType int

const (
	// EventBroadcast: accepted into the node's pool, not yet in a block.
	EventBroadcast SubmitEventType = iota
	// EventInBlock: included in a block.
	EventInBlock
	// EventFinalized: included in a finalized block.
	EventFinalized
	// EventDispatchError: the ledger rejected the transaction logic.
	EventDispatchError
)

func (t SubmitEventType) String() string {
	switch t {
	case EventBroadcast:
		return "broadcast"
	case EventInBlock:
		return "in_block"
	case EventFinalized:
		return "finalized"
	case EventDispatchError:
		return "dispatch_error"
	}
	return "unknown"
}

// Included reports whether the event is an inclusion-class event. The first
// such event is treated as authoritative by the submission pipeline.
func (t SubmitEventType) Included() bool {
	return t == EventInBlock || t == EventFinalized
}

// SubmitEvent is one dispatch-outcome notification for a submitted record.
type SubmitEvent struct {
	Type   SubmitEventType
	TxHash string
	Block  BlockRef
	Err    string
}

// RPC is a live connection to the remote ledger. All calls may block on the
// network and honor their context.
type RPC interface {
	BestBlock(ctx context.Context) (BlockRef, error)
	OnChainTimeMs(ctx context.Context) (int64, error)
	BlockHashAt(ctx context.Context, number uint64) (string, error)
	BlockAuthor(ctx context.Context, blockHash string) (string, error)
	ChainInfo(ctx context.Context) (ChainInfo, error)
	SubmitAndWatch(ctx context.Context, rec SignedRecord) (<-chan SubmitEvent, error)
	Ping(ctx context.Context) error
	Close() error
}
