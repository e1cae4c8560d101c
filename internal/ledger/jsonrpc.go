package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

const (
	requestTimeoutDefault    = 10 * time.Second
	watchPollIntervalDefault = 2 * time.Second

	// the watch loop gives up once a record has not reached a block within
	// this many polls, five minutes at the default interval. The record's
	// on-chain fate is unknown at that point: the submitter records the
	// attempt as failed and the tx hash is logged for manual verification,
	// since a late inclusion would make the daily spend undercount the tip.
	watchPollLimit = 150
)

var (
	ErrRPCFault       = errors.New("rpc fault")
	ErrRecordNotFound = errors.New("record not found")
)

// Client speaks JSON-RPC 2.0 over HTTP to one ledger endpoint. Subscriptions
// are deliberately not used: dispatch outcomes are observed by polling, which
// survives reconnects that silently drop push subscriptions.
type Client struct {
	addr       string
	httpClient *http.Client
	logger     *slog.Logger
	reqID      atomic.Int64

	watchPollInterval time.Duration
}

type ClientOption func(*Client)

func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

func WithWatchPollInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.watchPollInterval = d
	}
}

func NewClient(addr string, logger *slog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		addr:              addr,
		httpClient:        &http.Client{Timeout: requestTimeoutDefault},
		logger:            logger.With(slog.String("module", "ledger-rpc"), slog.String("addr", addr)),
		watchPollInterval: watchPollIntervalDefault,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// NewDialer adapts NewClient to the Manager's Dialer signature.
func NewDialer(logger *slog.Logger, opts ...ClientOption) Dialer {
	return func(_ context.Context, addr string) (RPC, error) {
		return NewClient(addr, logger, opts...), nil
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.reqID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.addr, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Join(ErrConnectionUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return errors.Join(ErrConnectionUnavailable, fmt.Errorf("%s: unexpected status %d", method, res.StatusCode))
	}

	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return errors.Join(ErrConnectionUnavailable, err)
	}

	var rpcRes rpcResponse
	err = json.Unmarshal(resBody, &rpcRes)
	if err != nil {
		return fmt.Errorf("%s: malformed response: %w", method, err)
	}

	if rpcRes.Error != nil {
		return errors.Join(ErrRPCFault, fmt.Errorf("%s: %d %s", method, rpcRes.Error.Code, rpcRes.Error.Message))
	}

	if result != nil {
		err = json.Unmarshal(rpcRes.Result, result)
		if err != nil {
			return fmt.Errorf("%s: malformed result: %w", method, err)
		}
	}

	return nil
}

type blockRefResult struct {
	Hash   string `json:"hash"`
	Number uint64 `json:"number"`
}

func (c *Client) BestBlock(ctx context.Context) (BlockRef, error) {
	var res blockRefResult
	err := c.call(ctx, "chain_head", nil, &res)
	if err != nil {
		return BlockRef{}, err
	}

	return BlockRef{Hash: res.Hash, Number: res.Number}, nil
}

func (c *Client) OnChainTimeMs(ctx context.Context) (int64, error) {
	var tsMs int64
	err := c.call(ctx, "timestamp_now", nil, &tsMs)
	if err != nil {
		return 0, err
	}

	return tsMs, nil
}

func (c *Client) BlockHashAt(ctx context.Context, number uint64) (string, error) {
	var hash string
	err := c.call(ctx, "chain_blockHash", []any{number}, &hash)
	if err != nil {
		return "", err
	}

	return hash, nil
}

func (c *Client) BlockAuthor(ctx context.Context, blockHash string) (string, error) {
	var author string
	err := c.call(ctx, "chain_blockAuthor", []any{blockHash}, &author)
	if err != nil {
		return "", err
	}

	return author, nil
}

func (c *Client) ChainInfo(ctx context.Context) (ChainInfo, error) {
	var res ChainInfo
	err := c.call(ctx, "system_info", nil, &res)
	if err != nil {
		return ChainInfo{}, err
	}

	return res, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, "system_health", nil, nil)
}

func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

type submitParams struct {
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
	Signer    string `json:"signer"`
	Tip       string `json:"tip"`
}

type recordStatusResult struct {
	Status      string `json:"status"` // pending | inBlock | finalized | invalid
	BlockHash   string `json:"blockHash"`
	BlockNumber uint64 `json:"blockNumber"`
	Error       string `json:"error"`
}

// SubmitAndWatch submits a signed record and streams dispatch outcomes until
// the first inclusion-class or error event, after which the channel closes.
func (c *Client) SubmitAndWatch(ctx context.Context, rec SignedRecord) (<-chan SubmitEvent, error) {
	tip := "0"
	if rec.Tip != nil {
		tip = rec.Tip.String()
	}

	var txHash string
	err := c.call(ctx, "author_submitRecord", submitParams{
		Payload:   hex.EncodeToString(rec.Payload),
		Signature: hex.EncodeToString(rec.Signature),
		Signer:    rec.Signer,
		Tip:       tip,
	}, &txHash)
	if err != nil {
		return nil, errors.Join(ErrSubmitFailed, err)
	}

	events := make(chan SubmitEvent, 4)
	events <- SubmitEvent{Type: EventBroadcast, TxHash: txHash}

	go c.watch(ctx, txHash, events)

	return events, nil
}

func (c *Client) watch(ctx context.Context, txHash string, events chan<- SubmitEvent) {
	defer close(events)

	ticker := time.NewTicker(c.watchPollInterval)
	defer ticker.Stop()

	for polls := 0; polls < watchPollLimit; polls++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var status recordStatusResult
		err := c.call(ctx, "author_recordStatus", []any{txHash}, &status)
		if err != nil {
			// transient: the next poll observes the same status endpoint
			c.logger.Warn("record status poll failed", slog.String("txHash", txHash), slog.String("err", err.Error()))
			continue
		}

		switch status.Status {
		case "inBlock":
			events <- SubmitEvent{
				Type:   EventInBlock,
				TxHash: txHash,
				Block:  BlockRef{Hash: status.BlockHash, Number: status.BlockNumber},
			}
			return
		case "finalized":
			events <- SubmitEvent{
				Type:   EventFinalized,
				TxHash: txHash,
				Block:  BlockRef{Hash: status.BlockHash, Number: status.BlockNumber},
			}
			return
		case "invalid":
			events <- SubmitEvent{Type: EventDispatchError, TxHash: txHash, Err: status.Error}
			return
		}
	}

	c.logger.Warn("record not included within watch window, verify its fate on chain",
		slog.String("txHash", txHash),
		slog.Duration("window", time.Duration(watchPollLimit)*c.watchPollInterval),
	)
}
