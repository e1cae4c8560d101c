// Package api exposes the emitter's read-only status surface over HTTP. All
// endpoints are GETs; the emission pipeline is never driven through the API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ord-network/emitter/internal/amounts"
	"github.com/ord-network/emitter/internal/cache"
	"github.com/ord-network/emitter/internal/emitter"
	"github.com/ord-network/emitter/internal/emitter/store"
	"github.com/ord-network/emitter/internal/ledger"
	"github.com/ord-network/emitter/internal/version"
)

const (
	chainInfoCacheKey = "chain-info"
	chainInfoCacheTTL = 5 * time.Minute

	listLimitDefault = 50
	listLimitMax     = 500
)

// SchedulerStatus reports whether the emission loop is active.
type SchedulerStatus interface {
	Running() bool
}

type Handler struct {
	store     store.EmissionStore
	conns     emitter.ConnectionSource
	scheduler SchedulerStatus
	cache     cache.Store
	logger    *slog.Logger

	ledgerID        string
	intervalSeconds int64
	tipShannons     *big.Int
	dailyCap        *big.Int
	confirmations   uint64
	paused          bool
	signerAddress   string
	startedAt       time.Time
}

type HandlerOption func(*Handler)

func WithPaused(paused bool) HandlerOption {
	return func(h *Handler) {
		h.paused = paused
	}
}

func WithSignerAddress(address string) HandlerOption {
	return func(h *Handler) {
		h.signerAddress = address
	}
}

func NewHandler(
	s store.EmissionStore,
	conns emitter.ConnectionSource,
	scheduler SchedulerStatus,
	cacheStore cache.Store,
	logger *slog.Logger,
	ledgerID string,
	intervalSeconds int64,
	tipShannons, dailyCap *big.Int,
	confirmations uint64,
	opts ...HandlerOption,
) *Handler {
	h := &Handler{
		store:           s,
		conns:           conns,
		scheduler:       scheduler,
		cache:           cacheStore,
		logger:          logger.With(slog.String("module", "api")),
		ledgerID:        ledgerID,
		intervalSeconds: intervalSeconds,
		tipShannons:     tipShannons,
		dailyCap:        dailyCap,
		confirmations:   confirmations,
		startedAt:       time.Now(),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	v1 := e.Group("/v1")
	v1.GET("/health", h.GetHealth)
	v1.GET("/info", h.GetInfo)
	v1.GET("/config", h.GetConfig)
	v1.GET("/scheduler", h.GetScheduler)
	v1.GET("/budget", h.GetBudget)
	v1.GET("/emissions", h.GetEmissions)
	v1.GET("/emissions/latest", h.GetLatestEmission)
	v1.GET("/emissions/:periodId", h.GetEmission)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	OK    bool       `json:"ok"`
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

func respondOK(ctx echo.Context, status int, data any) error {
	return ctx.JSON(status, envelope{OK: true, Data: data})
}

func respondError(ctx echo.Context, status int, code, message string) error {
	return ctx.JSON(status, envelope{OK: false, Error: &errorBody{Code: code, Message: message}})
}

type healthResponse struct {
	Status        string `json:"status"`
	DBOk          bool   `json:"dbOk"`
	LedgerOk      bool   `json:"ledgerOk"`
	Version       string `json:"version"`
	Commit        string `json:"commit"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
}

func (h *Handler) GetHealth(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()

	resp := healthResponse{
		Status:        "ok",
		DBOk:          true,
		LedgerOk:      true,
		Version:       version.Version,
		Commit:        version.Commit,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	}

	err := h.store.Ping(reqCtx)
	if err != nil {
		resp.DBOk = false
	}

	rpc, err := h.conns.Acquire(reqCtx)
	if err != nil {
		resp.LedgerOk = false
	} else if rpc.Ping(reqCtx) != nil {
		resp.LedgerOk = false
	}

	if !resp.DBOk || !resp.LedgerOk {
		// ok must agree with the 503; the probe results stay in the body so
		// operators can see which dependency is down
		resp.Status = "degraded"
		return ctx.JSON(http.StatusServiceUnavailable, envelope{OK: false, Data: resp})
	}

	return respondOK(ctx, http.StatusOK, resp)
}

func (h *Handler) GetInfo(ctx echo.Context) error {
	info, err := h.chainInfo(ctx.Request().Context())
	if err != nil {
		return respondError(ctx, http.StatusServiceUnavailable, "ledger_unavailable", err.Error())
	}

	return respondOK(ctx, http.StatusOK, info)
}

// chainInfo memoizes the ledger's static chain metadata.
func (h *Handler) chainInfo(ctx context.Context) (*ledger.ChainInfo, error) {
	cached, err := h.cache.Get(chainInfoCacheKey)
	if err == nil {
		info := &ledger.ChainInfo{}
		err = json.Unmarshal(cached, info)
		if err == nil {
			return info, nil
		}
	}

	rpc, err := h.conns.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	info, err := rpc.ChainInfo(ctx)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(info)
	if err == nil {
		err = h.cache.Set(chainInfoCacheKey, data, chainInfoCacheTTL)
		if err != nil {
			h.logger.Warn("failed to cache chain info", slog.String("err", err.Error()))
		}
	}

	return &info, nil
}

type configResponse struct {
	LedgerID        string `json:"ledgerId"`
	IntervalSeconds int64  `json:"intervalSeconds"`
	TipAI3          string `json:"tipAi3"`
	DailyCapAI3     string `json:"dailyCapAi3"`
	Confirmations   uint64 `json:"confirmations"`
	Paused          bool   `json:"paused"`
	SignerAddress   string `json:"signerAddress,omitempty"`
}

func (h *Handler) GetConfig(ctx echo.Context) error {
	return respondOK(ctx, http.StatusOK, configResponse{
		LedgerID:        h.ledgerID,
		IntervalSeconds: h.intervalSeconds,
		TipAI3:          amounts.FormatAI3(h.tipShannons),
		DailyCapAI3:     amounts.FormatAI3(h.dailyCap),
		Confirmations:   h.confirmations,
		Paused:          h.paused,
		SignerAddress:   h.signerAddress,
	})
}

func (h *Handler) GetScheduler(ctx echo.Context) error {
	return respondOK(ctx, http.StatusOK, map[string]bool{"running": h.scheduler.Running()})
}

type budgetResponse struct {
	DailyCapShannons   string `json:"dailyCapShannons"`
	SpentTodayShannons string `json:"spentTodayShannons"`
	RemainingShannons  string `json:"remainingShannons"`
	DailyCapAI3        string `json:"dailyCapAi3"`
	SpentTodayAI3      string `json:"spentTodayAi3"`
	RemainingAI3       string `json:"remainingAi3"`
	SecondsUntilReset  int64  `json:"secondsUntilReset"`
}

func (h *Handler) GetBudget(ctx echo.Context) error {
	now := time.Now().UTC()
	dayStart := emitter.StartOfUTCDay(now)

	spent, err := h.store.SumSpent(ctx.Request().Context(), h.ledgerID, dayStart)
	if err != nil {
		return respondError(ctx, http.StatusInternalServerError, "store_error", err.Error())
	}

	remaining := new(big.Int).Sub(h.dailyCap, spent)
	if remaining.Sign() < 0 {
		remaining.SetInt64(0)
	}

	return respondOK(ctx, http.StatusOK, budgetResponse{
		DailyCapShannons:   h.dailyCap.String(),
		SpentTodayShannons: spent.String(),
		RemainingShannons:  remaining.String(),
		DailyCapAI3:        amounts.FormatAI3(h.dailyCap),
		SpentTodayAI3:      amounts.FormatAI3(spent),
		RemainingAI3:       amounts.FormatAI3(remaining),
		SecondsUntilReset:  int64(dayStart.Add(24 * time.Hour).Sub(now).Seconds()),
	})
}

func (h *Handler) GetEmissions(ctx echo.Context) error {
	filter, err := parseListFilter(ctx)
	if err != nil {
		return respondError(ctx, http.StatusBadRequest, "invalid_query", err.Error())
	}

	rows, err := h.store.List(ctx.Request().Context(), h.ledgerID, filter)
	if err != nil {
		return respondError(ctx, http.StatusInternalServerError, "store_error", err.Error())
	}

	return respondOK(ctx, http.StatusOK, rows)
}

func (h *Handler) GetEmission(ctx echo.Context) error {
	periodID, err := strconv.ParseInt(ctx.Param("periodId"), 10, 64)
	if err != nil {
		return respondError(ctx, http.StatusBadRequest, "invalid_period", "periodId must be an integer")
	}

	row, err := h.store.Get(ctx.Request().Context(), h.ledgerID, periodID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return respondError(ctx, http.StatusNotFound, "not_found", "no emission for period")
		}
		return respondError(ctx, http.StatusInternalServerError, "store_error", err.Error())
	}

	return respondOK(ctx, http.StatusOK, row)
}

func (h *Handler) GetLatestEmission(ctx echo.Context) error {
	row, err := h.store.Latest(ctx.Request().Context(), h.ledgerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return respondError(ctx, http.StatusNotFound, "not_found", "no emissions recorded yet")
		}
		return respondError(ctx, http.StatusInternalServerError, "store_error", err.Error())
	}

	return respondOK(ctx, http.StatusOK, row)
}

func parseListFilter(ctx echo.Context) (store.ListFilter, error) {
	filter := store.ListFilter{
		Limit:   listLimitDefault,
		OrderBy: ctx.QueryParam("order_by"),
	}

	if raw := ctx.QueryParam("status"); raw != "" {
		status := store.Status(raw)
		if !status.Valid() {
			return filter, errors.New("unknown status: " + raw)
		}
		filter.Status = status
	}

	if raw := ctx.QueryParam("period_from"); raw != "" {
		from, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filter, errors.New("period_from must be an integer")
		}
		filter.PeriodFrom = &from
	}

	if raw := ctx.QueryParam("period_to"); raw != "" {
		to, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filter, errors.New("period_to must be an integer")
		}
		filter.PeriodTo = &to
	}

	if raw := ctx.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return filter, errors.New("limit must be a positive integer")
		}
		if limit > listLimitMax {
			limit = listLimitMax
		}
		filter.Limit = limit
	}

	if raw := ctx.QueryParam("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return filter, errors.New("offset must be a non-negative integer")
		}
		filter.Offset = offset
	}

	return filter, nil
}
