package postgresql

import (
	"database/sql"
	"errors"
	"fmt"
	"math/big"

	"github.com/ord-network/emitter/internal/emitter/store"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEmission(row rowScanner) (*store.Emission, error) {
	var (
		emission    store.Emission
		status      string
		emittedAt   sql.NullTime
		confirmedAt sql.NullTime
		payload     sql.NullString
		tip         string
		txHash      sql.NullString
		blockHash   sql.NullString
		blockNumber sql.NullInt64
		depth       sql.NullInt64
		author      sql.NullString
	)

	err := row.Scan(
		&emission.LedgerID,
		&emission.PeriodID,
		&status,
		&emission.ScheduledAt,
		&emittedAt,
		&confirmedAt,
		&payload,
		&tip,
		&txHash,
		&blockHash,
		&blockNumber,
		&depth,
		&author,
	)
	if err != nil {
		return nil, err
	}

	emission.Status = store.Status(status)
	emission.PayloadRecord = payload.String
	emission.TxHash = txHash.String
	emission.InclusionBlockHash = blockHash.String
	emission.BlockAuthor = author.String

	if emittedAt.Valid {
		t := emittedAt.Time.UTC()
		emission.EmittedAt = &t
	}
	if confirmedAt.Valid {
		t := confirmedAt.Time.UTC()
		emission.ConfirmedAt = &t
	}
	if blockNumber.Valid {
		n := uint64(blockNumber.Int64)
		emission.InclusionBlockNumber = &n
	}
	if depth.Valid {
		d := uint64(depth.Int64)
		emission.ConfirmationDepth = &d
	}

	tipShannons, ok := new(big.Int).SetString(tip, 10)
	if !ok {
		return nil, errors.Join(ErrMalformedAmount, fmt.Errorf("tip: %q", tip))
	}
	emission.TipShannons = tipShannons
	emission.ScheduledAt = emission.ScheduledAt.UTC()

	return &emission, nil
}

func orderByClause(orderBy string) (string, error) {
	switch orderBy {
	case "", "period_id_desc":
		return "period_id DESC", nil
	case "period_id_asc":
		return "period_id ASC", nil
	case "emitted_at_asc":
		return "emitted_at ASC, period_id ASC", nil
	case "emitted_at_desc":
		return "emitted_at DESC, period_id DESC", nil
	case "scheduled_at_asc":
		return "scheduled_at ASC, period_id ASC", nil
	case "scheduled_at_desc":
		return "scheduled_at DESC, period_id DESC", nil
	}

	return "", fmt.Errorf("unknown order: %s", orderBy)
}
