package postgresql

import (
	"context"
	"math/big"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/ord-network/emitter/internal/emitter/store"
)

const ledgerID = "ord-testnet"

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func newMockStore(t *testing.T) (*PostgreSQL, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return &PostgreSQL{db: db, now: func() time.Time { return fixedNow }}, mock
}

func TestReserve(t *testing.T) {
	tt := []struct {
		name         string
		rowsAffected int64

		expected bool
	}{
		{
			name:         "row created, reservation acquired",
			rowsAffected: 1,

			expected: true,
		},
		{
			name:         "row already existed",
			rowsAffected: 0,

			expected: false,
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			// given
			p, mock := newMockStore(t)
			mock.ExpectExec(regexp.QuoteMeta("INSERT INTO emitter.emissions")).
				WithArgs(ledgerID, int64(1000), fixedNow, "400000000").
				WillReturnResult(sqlmock.NewResult(0, tc.rowsAffected))

			// when
			reserved, err := p.Reserve(context.Background(), ledgerID, 1000, big.NewInt(400000000))

			// then
			require.NoError(t, err)
			require.Equal(t, tc.expected, reserved)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestMarkSubmitted(t *testing.T) {
	// given
	p, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'submitted'")).
		WithArgs(ledgerID, int64(1000), fixedNow, "0xtxhash", "ORD:v1;period=1000;tip=4;digest=ab").
		WillReturnResult(sqlmock.NewResult(0, 1))

	// when
	err := p.MarkSubmitted(context.Background(), ledgerID, 1000, "0xtxhash", "ORD:v1;period=1000;tip=4;digest=ab")

	// then
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSubmittedInvalidTransition(t *testing.T) {
	// given: the row exists but has already moved past scheduled
	p, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'submitted'")).
		WithArgs(ledgerID, int64(1000), fixedNow, "0xtxhash", "payload").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM emitter.emissions")).
		WithArgs(ledgerID, int64(1000)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("confirmed"))

	// when
	err := p.MarkSubmitted(context.Background(), ledgerID, 1000, "0xtxhash", "payload")

	// then
	require.ErrorIs(t, err, store.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSubmittedNotFound(t *testing.T) {
	// given
	p, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'submitted'")).
		WithArgs(ledgerID, int64(1000), fixedNow, "0xtxhash", "payload").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM emitter.emissions")).
		WithArgs(ledgerID, int64(1000)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}))

	// when
	err := p.MarkSubmitted(context.Background(), ledgerID, 1000, "0xtxhash", "payload")

	// then
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestMarkConfirmedRequiresSubmitted(t *testing.T) {
	// given: markConfirmed fired against a scheduled row
	p, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'confirmed'")).
		WithArgs(ledgerID, int64(1000), fixedNow, int64(12), "0xauthor").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM emitter.emissions")).
		WithArgs(ledgerID, int64(1000)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("scheduled"))

	// when
	err := p.MarkConfirmed(context.Background(), ledgerID, 1000, 12, "0xauthor")

	// then
	require.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestMarkIncluded(t *testing.T) {
	// given
	p, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("SET inclusion_block_hash = $3, inclusion_block_number = $4")).
		WithArgs(ledgerID, int64(1000), "0xblock500", int64(500)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// when
	err := p.MarkIncluded(context.Background(), ledgerID, 1000, "0xblock500", 500)

	// then
	require.NoError(t, err)
}

func TestRecordSkippedInsertsAndAnnotates(t *testing.T) {
	// given
	p, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("VALUES ($1, $2, $3, $4, 'skipped_budget')")).
		WithArgs(ledgerID, int64(1000), fixedNow, "400000000").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'skipped_budget'")).
		WithArgs(ledgerID, int64(1000)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// when
	err := p.RecordSkipped(context.Background(), ledgerID, 1000, big.NewInt(400000000))

	// then
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSumSpent(t *testing.T) {
	// given
	p, mock := newMockStore(t)
	since := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("COALESCE(SUM(tip_shannons), 0)")).
		WithArgs(ledgerID, since).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow("700000000000000000"))

	// when
	spent, err := p.SumSpent(context.Background(), ledgerID, since)

	// then
	require.NoError(t, err)
	require.Equal(t, "700000000000000000", spent.String())
}

func emissionRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"ledger_id", "period_id", "status", "scheduled_at", "emitted_at", "confirmed_at",
		"payload_record", "tip_shannons", "tx_hash", "inclusion_block_hash",
		"inclusion_block_number", "confirmation_depth", "block_author",
	})
}

func TestGet(t *testing.T) {
	// given
	p, mock := newMockStore(t)
	emitted := fixedNow.Add(2 * time.Second)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE ledger_id = $1 AND period_id = $2")).
		WithArgs(ledgerID, int64(1000)).
		WillReturnRows(emissionRows().AddRow(
			ledgerID, int64(1000), "submitted", fixedNow, emitted, nil,
			"ORD:v1;period=1000;tip=4;digest=ab", "4", "0xtxhash", "0xblock500",
			int64(500), nil, nil,
		))

	// when
	emission, err := p.Get(context.Background(), ledgerID, 1000)

	// then
	require.NoError(t, err)
	require.Equal(t, store.StatusSubmitted, emission.Status)
	require.Equal(t, "0xtxhash", emission.TxHash)
	require.Equal(t, big.NewInt(4), emission.TipShannons)
	require.NotNil(t, emission.InclusionBlockNumber)
	require.Equal(t, uint64(500), *emission.InclusionBlockNumber)
	require.Nil(t, emission.ConfirmationDepth)
}

func TestGetNotFound(t *testing.T) {
	// given
	p, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE ledger_id = $1 AND period_id = $2")).
		WithArgs(ledgerID, int64(9999)).
		WillReturnRows(emissionRows())

	// when
	_, err := p.Get(context.Background(), ledgerID, 9999)

	// then
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestListRejectsUnknownOrder(t *testing.T) {
	// given
	p, _ := newMockStore(t)

	// when
	_, err := p.List(context.Background(), ledgerID, store.ListFilter{OrderBy: "tip_desc"})

	// then
	require.Error(t, err)
}

func TestCountByStatus(t *testing.T) {
	// given
	p, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY status")).
		WithArgs(ledgerID).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("confirmed", int64(40)).
			AddRow("submitted", int64(2)))

	// when
	counts, err := p.CountByStatus(context.Background(), ledgerID)

	// then
	require.NoError(t, err)
	require.Equal(t, int64(40), counts[store.StatusConfirmed])
	require.Equal(t, int64(2), counts[store.StatusSubmitted])
}

func TestPingReleasesConnection(t *testing.T) {
	// given
	p, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1;")).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1)).
		RowsWillBeClosed()

	// when
	err := p.Ping(context.Background())

	// then
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
