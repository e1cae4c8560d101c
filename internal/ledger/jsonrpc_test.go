package ledger

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type rpcStub struct {
	mu       sync.Mutex
	statuses []recordStatusResult
	calls    []string
}

func (s *rpcStub) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		s.mu.Lock()
		s.calls = append(s.calls, req.Method)
		s.mu.Unlock()

		var result any
		switch req.Method {
		case "system_health":
			result = map[string]any{"ok": true}
		case "chain_head":
			result = blockRefResult{Hash: "0xhead", Number: 510}
		case "timestamp_now":
			result = int64(300_000)
		case "chain_blockHash":
			result = "0xblock500"
		case "chain_blockAuthor":
			result = "0xauthor"
		case "system_info":
			result = ChainInfo{Chain: "testnet", NodeName: "node", NodeVersion: "1.0", TokenSymbol: "AI3", TokenDecimals: 18}
		case "author_submitRecord":
			result = "0xtxhash"
		case "author_recordStatus":
			s.mu.Lock()
			status := s.statuses[0]
			if len(s.statuses) > 1 {
				s.statuses = s.statuses[1:]
			}
			s.mu.Unlock()
			result = status
		default:
			t.Fatalf("unexpected method %s", req.Method)
		}

		raw, err := json.Marshal(result)
		require.NoError(t, err)
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  json.RawMessage(raw),
		}))
	}
}

func TestClientQueries(t *testing.T) {
	// given
	stub := &rpcStub{}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	client := NewClient(srv.URL, slog.Default())
	ctx := context.Background()

	// when then
	require.NoError(t, client.Ping(ctx))

	head, err := client.BestBlock(ctx)
	require.NoError(t, err)
	require.Equal(t, BlockRef{Hash: "0xhead", Number: 510}, head)

	tsMs, err := client.OnChainTimeMs(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(300_000), tsMs)

	hash, err := client.BlockHashAt(ctx, 500)
	require.NoError(t, err)
	require.Equal(t, "0xblock500", hash)

	author, err := client.BlockAuthor(ctx, "0xblock500")
	require.NoError(t, err)
	require.Equal(t, "0xauthor", author)

	info, err := client.ChainInfo(ctx)
	require.NoError(t, err)
	require.Equal(t, "AI3", info.TokenSymbol)
}

func TestClientPingFailsWhenEndpointDown(t *testing.T) {
	// given
	client := NewClient("http://127.0.0.1:1", slog.Default())

	// when
	err := client.Ping(context.Background())

	// then
	require.ErrorIs(t, err, ErrConnectionUnavailable)
}

func TestSubmitAndWatchInclusion(t *testing.T) {
	// given
	stub := &rpcStub{statuses: []recordStatusResult{
		{Status: "pending"},
		{Status: "inBlock", BlockHash: "0xblock500", BlockNumber: 500},
	}}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	client := NewClient(srv.URL, slog.Default(), WithWatchPollInterval(5*time.Millisecond))

	// when
	events, err := client.SubmitAndWatch(context.Background(), SignedRecord{
		Payload:   []byte("ORD:v1;period=1000;tip=4;digest=ab"),
		Signature: []byte{0x01},
		Signer:    "0xsigner",
		Tip:       big.NewInt(4),
	})
	require.NoError(t, err)

	// then
	first := <-events
	require.Equal(t, EventBroadcast, first.Type)
	require.Equal(t, "0xtxhash", first.TxHash)

	second := <-events
	require.Equal(t, EventInBlock, second.Type)
	require.Equal(t, BlockRef{Hash: "0xblock500", Number: 500}, second.Block)

	_, open := <-events
	require.False(t, open)
}

func TestSubmitAndWatchDispatchError(t *testing.T) {
	// given
	stub := &rpcStub{statuses: []recordStatusResult{
		{Status: "invalid", Error: "insufficient funds"},
	}}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	client := NewClient(srv.URL, slog.Default(), WithWatchPollInterval(5*time.Millisecond))

	// when
	events, err := client.SubmitAndWatch(context.Background(), SignedRecord{Tip: big.NewInt(4)})
	require.NoError(t, err)

	<-events // broadcast

	// then
	ev := <-events
	require.Equal(t, EventDispatchError, ev.Type)
	require.Equal(t, "insufficient funds", ev.Err)
}
