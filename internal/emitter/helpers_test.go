package emitter

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ord-network/emitter/internal/emitter/store"
	"github.com/ord-network/emitter/internal/ledger"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeEmissionStore records every state-machine call for assertions.
type fakeEmissionStore struct {
	mu sync.Mutex

	reserveResult bool
	reserveErr    error
	reserved      []int64

	submittedPeriod int64
	submittedTxHash string
	submittedRecord string
	submittedCalls  int
	submitErr       error

	includedPeriod int64
	includedHash   string
	includedNumber uint64
	includedCalls  int

	confirmedPeriod int64
	confirmedDepth  uint64
	confirmedAuthor string
	confirmedCalls  int

	failedPeriods  []int64
	skippedPeriods []int64

	listResult []*store.Emission

	counts     map[store.Status]int64
	spentToday *big.Int
}

func (f *fakeEmissionStore) Reserve(_ context.Context, _ string, periodID int64, _ *big.Int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reserveErr != nil {
		return false, f.reserveErr
	}
	f.reserved = append(f.reserved, periodID)
	return f.reserveResult, nil
}

func (f *fakeEmissionStore) MarkSubmitted(_ context.Context, _ string, periodID int64, txHash, payloadRecord string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submittedPeriod = periodID
	f.submittedTxHash = txHash
	f.submittedRecord = payloadRecord
	f.submittedCalls++
	return nil
}

func (f *fakeEmissionStore) MarkIncluded(_ context.Context, _ string, periodID int64, blockHash string, blockNumber uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.includedPeriod = periodID
	f.includedHash = blockHash
	f.includedNumber = blockNumber
	f.includedCalls++
	return nil
}

func (f *fakeEmissionStore) MarkConfirmed(_ context.Context, _ string, periodID int64, confirmationDepth uint64, blockAuthor string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmedPeriod = periodID
	f.confirmedDepth = confirmationDepth
	f.confirmedAuthor = blockAuthor
	f.confirmedCalls++
	return nil
}

func (f *fakeEmissionStore) MarkFailed(_ context.Context, _ string, periodID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failedPeriods = append(f.failedPeriods, periodID)
	return nil
}

func (f *fakeEmissionStore) RecordSkipped(_ context.Context, _ string, periodID int64, _ *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.skippedPeriods = append(f.skippedPeriods, periodID)
	return nil
}

func (f *fakeEmissionStore) SumSpent(_ context.Context, _ string, _ time.Time) (*big.Int, error) {
	if f.spentToday != nil {
		return f.spentToday, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeEmissionStore) Get(_ context.Context, _ string, _ int64) (*store.Emission, error) {
	return nil, store.ErrNotFound
}

func (f *fakeEmissionStore) Latest(_ context.Context, _ string) (*store.Emission, error) {
	return nil, store.ErrNotFound
}

func (f *fakeEmissionStore) List(_ context.Context, _ string, _ store.ListFilter) ([]*store.Emission, error) {
	return f.listResult, nil
}

func (f *fakeEmissionStore) CountByStatus(_ context.Context, _ string) (map[store.Status]int64, error) {
	if f.counts != nil {
		return f.counts, nil
	}
	return map[store.Status]int64{}, nil
}

func (f *fakeEmissionStore) Ping(_ context.Context) error  { return nil }
func (f *fakeEmissionStore) Close(_ context.Context) error { return nil }

func (f *fakeEmissionStore) confirmations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.confirmedCalls
}

func (f *fakeEmissionStore) failures() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64{}, f.failedPeriods...)
}

// fakeRPC is a canned ledger connection.
type fakeRPC struct {
	mu sync.Mutex

	bestBlocks []ledger.BlockRef // consumed one per call, last repeats
	bestErr    error

	onChainTimeMs int64
	timeErr       error

	hashAt map[uint64]string

	author string

	submitEvents []ledger.SubmitEvent
	submitErr    error
	submitCalls  int
}

func (f *fakeRPC) BestBlock(_ context.Context) (ledger.BlockRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bestErr != nil {
		return ledger.BlockRef{}, f.bestErr
	}
	if len(f.bestBlocks) == 0 {
		return ledger.BlockRef{}, ledger.ErrConnectionUnavailable
	}
	head := f.bestBlocks[0]
	if len(f.bestBlocks) > 1 {
		f.bestBlocks = f.bestBlocks[1:]
	}
	return head, nil
}

func (f *fakeRPC) OnChainTimeMs(_ context.Context) (int64, error) {
	if f.timeErr != nil {
		return 0, f.timeErr
	}
	return f.onChainTimeMs, nil
}

func (f *fakeRPC) BlockHashAt(_ context.Context, number uint64) (string, error) {
	hash, ok := f.hashAt[number]
	if !ok {
		return "", ledger.ErrConnectionUnavailable
	}
	return hash, nil
}

func (f *fakeRPC) BlockAuthor(_ context.Context, _ string) (string, error) {
	return f.author, nil
}

func (f *fakeRPC) ChainInfo(_ context.Context) (ledger.ChainInfo, error) {
	return ledger.ChainInfo{Chain: "ord-testnet"}, nil
}

func (f *fakeRPC) SubmitAndWatch(_ context.Context, _ ledger.SignedRecord) (<-chan ledger.SubmitEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls++
	if f.submitErr != nil {
		return nil, f.submitErr
	}

	events := make(chan ledger.SubmitEvent, len(f.submitEvents))
	for _, ev := range f.submitEvents {
		events <- ev
	}
	close(events)
	return events, nil
}

func (f *fakeRPC) Ping(_ context.Context) error { return nil }
func (f *fakeRPC) Close() error                 { return nil }

func (f *fakeRPC) submissions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitCalls
}

// fakeConns hands out a single fakeRPC. failFirst makes the first N
// acquisitions fail as if the node were unreachable.
type fakeConns struct {
	mu        sync.Mutex
	rpc       *fakeRPC
	err       error
	failFirst int
}

func (f *fakeConns) Acquire(_ context.Context) (ledger.RPC, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFirst > 0 {
		f.failFirst--
		return nil, ledger.ErrConnectionUnavailable
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.rpc, nil
}

// fakeTracking records StartTracking handoffs.
type fakeTracking struct {
	mu        sync.Mutex
	periods   []int64
	inclusion ledger.BlockRef
}

func (f *fakeTracking) StartTracking(periodID int64, inclusion ledger.BlockRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.periods = append(f.periods, periodID)
	f.inclusion = inclusion
}

func (f *fakeTracking) started() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64{}, f.periods...)
}

// fakePublisher captures published events per topic.
type fakePublisher struct {
	mu     sync.Mutex
	topics []string
}

func (f *fakePublisher) Publish(subj string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, subj)
	return nil
}

func (f *fakePublisher) published() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.topics...)
}
