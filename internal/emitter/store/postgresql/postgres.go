package postgresql

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/ord-network/emitter/internal/emitter/store"
)

const postgresDriverName = "postgres"

//go:embed migrations/*.sql
var migrations embed.FS

var ErrMalformedAmount = errors.New("malformed amount read from store")

type PostgreSQL struct {
	db  *sql.DB
	now func() time.Time
}

func WithNow(nowFunc func() time.Time) func(*PostgreSQL) {
	return func(p *PostgreSQL) {
		p.now = nowFunc
	}
}

func New(dbInfo string, idleConns int, maxOpenConns int, opts ...func(*PostgreSQL)) (*PostgreSQL, error) {
	db, err := sql.Open(postgresDriverName, dbInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres DB: %w", err)
	}

	db.SetMaxIdleConns(idleConns)
	db.SetMaxOpenConns(maxOpenConns)

	p := &PostgreSQL{
		db:  db,
		now: time.Now,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// Migrate applies pending schema migrations.
func (p *PostgreSQL) Migrate() error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}

	driver, err := migratepostgres.WithInstance(p.db, &migratepostgres.Config{
		MigrationsTable: "emitter_schema_migrations",
	})
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", source, postgresDriverName, driver)
	if err != nil {
		return err
	}

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}

func (p *PostgreSQL) Reserve(ctx context.Context, ledgerID string, periodID int64, tipShannons *big.Int) (bool, error) {
	q := `
		INSERT INTO emitter.emissions (ledger_id, period_id, scheduled_at, tip_shannons, status)
		VALUES ($1, $2, $3, $4, 'scheduled')
		ON CONFLICT (ledger_id, period_id) DO NOTHING
	`

	res, err := p.db.ExecContext(ctx, q, ledgerID, periodID, p.now().UTC(), tipShannons.String())
	if err != nil {
		return false, err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows == 1, nil
}

func (p *PostgreSQL) MarkSubmitted(ctx context.Context, ledgerID string, periodID int64, txHash, payloadRecord string) error {
	q := `
		UPDATE emitter.emissions
		SET status = 'submitted', emitted_at = $3, tx_hash = $4, payload_record = $5
		WHERE ledger_id = $1 AND period_id = $2 AND status = 'scheduled'
	`

	res, err := p.db.ExecContext(ctx, q, ledgerID, periodID, p.now().UTC(), txHash, payloadRecord)
	if err != nil {
		return err
	}

	return p.checkTransition(ctx, res, ledgerID, periodID, store.StatusSubmitted)
}

func (p *PostgreSQL) MarkIncluded(ctx context.Context, ledgerID string, periodID int64, blockHash string, blockNumber uint64) error {
	q := `
		UPDATE emitter.emissions
		SET inclusion_block_hash = $3, inclusion_block_number = $4
		WHERE ledger_id = $1 AND period_id = $2 AND status = 'submitted'
	`

	res, err := p.db.ExecContext(ctx, q, ledgerID, periodID, blockHash, int64(blockNumber))
	if err != nil {
		return err
	}

	return p.checkTransition(ctx, res, ledgerID, periodID, store.StatusSubmitted)
}

func (p *PostgreSQL) MarkConfirmed(ctx context.Context, ledgerID string, periodID int64, confirmationDepth uint64, blockAuthor string) error {
	q := `
		UPDATE emitter.emissions
		SET status = 'confirmed', confirmed_at = $3, confirmation_depth = $4, block_author = NULLIF($5, '')
		WHERE ledger_id = $1 AND period_id = $2 AND status = 'submitted'
	`

	res, err := p.db.ExecContext(ctx, q, ledgerID, periodID, p.now().UTC(), int64(confirmationDepth), blockAuthor)
	if err != nil {
		return err
	}

	return p.checkTransition(ctx, res, ledgerID, periodID, store.StatusConfirmed)
}

func (p *PostgreSQL) MarkFailed(ctx context.Context, ledgerID string, periodID int64) error {
	q := `
		UPDATE emitter.emissions
		SET status = 'failed'
		WHERE ledger_id = $1 AND period_id = $2 AND status IN ('scheduled', 'submitted')
	`

	res, err := p.db.ExecContext(ctx, q, ledgerID, periodID)
	if err != nil {
		return err
	}

	return p.checkTransition(ctx, res, ledgerID, periodID, store.StatusFailed)
}

func (p *PostgreSQL) RecordSkipped(ctx context.Context, ledgerID string, periodID int64, tipShannons *big.Int) error {
	qInsert := `
		INSERT INTO emitter.emissions (ledger_id, period_id, scheduled_at, tip_shannons, status)
		VALUES ($1, $2, $3, $4, 'skipped_budget')
		ON CONFLICT (ledger_id, period_id) DO NOTHING
	`

	_, err := p.db.ExecContext(ctx, qInsert, ledgerID, periodID, p.now().UTC(), tipShannons.String())
	if err != nil {
		return err
	}

	// annotate a pre-existing scheduled row; rows further along stay untouched
	qUpdate := `
		UPDATE emitter.emissions
		SET status = 'skipped_budget'
		WHERE ledger_id = $1 AND period_id = $2 AND status = 'scheduled'
	`

	_, err = p.db.ExecContext(ctx, qUpdate, ledgerID, periodID)
	return err
}

func (p *PostgreSQL) SumSpent(ctx context.Context, ledgerID string, since time.Time) (*big.Int, error) {
	q := `
		SELECT COALESCE(SUM(tip_shannons), 0)::text
		FROM emitter.emissions
		WHERE ledger_id = $1
		  AND status IN ('submitted', 'confirmed')
		  AND emitted_at >= $2
	`

	var sum string
	err := p.db.QueryRowContext(ctx, q, ledgerID, since.UTC()).Scan(&sum)
	if err != nil {
		return nil, err
	}

	spent, ok := new(big.Int).SetString(sum, 10)
	if !ok {
		return nil, errors.Join(ErrMalformedAmount, fmt.Errorf("sum: %q", sum))
	}

	return spent, nil
}

const emissionColumns = `
	ledger_id
	,period_id
	,status
	,scheduled_at
	,emitted_at
	,confirmed_at
	,payload_record
	,tip_shannons::text
	,tx_hash
	,inclusion_block_hash
	,inclusion_block_number
	,confirmation_depth
	,block_author
`

func (p *PostgreSQL) Get(ctx context.Context, ledgerID string, periodID int64) (*store.Emission, error) {
	q := `SELECT ` + emissionColumns + `
		FROM emitter.emissions
		WHERE ledger_id = $1 AND period_id = $2`

	emission, err := scanEmission(p.db.QueryRowContext(ctx, q, ledgerID, periodID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return emission, nil
}

func (p *PostgreSQL) Latest(ctx context.Context, ledgerID string) (*store.Emission, error) {
	q := `SELECT ` + emissionColumns + `
		FROM emitter.emissions
		WHERE ledger_id = $1
		ORDER BY period_id DESC
		LIMIT 1`

	emission, err := scanEmission(p.db.QueryRowContext(ctx, q, ledgerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return emission, nil
}

func (p *PostgreSQL) List(ctx context.Context, ledgerID string, filter store.ListFilter) ([]*store.Emission, error) {
	where := "WHERE ledger_id = $1"
	args := []any{ledgerID}

	if filter.Status != "" {
		if !filter.Status.Valid() {
			return nil, fmt.Errorf("unknown status filter: %s", filter.Status)
		}
		args = append(args, string(filter.Status))
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.PeriodFrom != nil {
		args = append(args, *filter.PeriodFrom)
		where += fmt.Sprintf(" AND period_id >= $%d", len(args))
	}
	if filter.PeriodTo != nil {
		args = append(args, *filter.PeriodTo)
		where += fmt.Sprintf(" AND period_id <= $%d", len(args))
	}

	orderBy, err := orderByClause(filter.OrderBy)
	if err != nil {
		return nil, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	args = append(args, limit, offset)
	q := fmt.Sprintf(`SELECT %s FROM emitter.emissions %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		emissionColumns, where, orderBy, len(args)-1, len(args))

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var emissions []*store.Emission
	for rows.Next() {
		emission, err := scanEmission(rows)
		if err != nil {
			return nil, err
		}
		emissions = append(emissions, emission)
	}

	return emissions, rows.Err()
}

func (p *PostgreSQL) CountByStatus(ctx context.Context, ledgerID string) (map[store.Status]int64, error) {
	q := `
		SELECT status, COUNT(*)
		FROM emitter.emissions
		WHERE ledger_id = $1
		GROUP BY status
	`

	rows, err := p.db.QueryContext(ctx, q, ledgerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[store.Status]int64{}
	for rows.Next() {
		var status string
		var count int64
		err = rows.Scan(&status, &count)
		if err != nil {
			return nil, err
		}
		counts[store.Status(status)] = count
	}

	return counts, rows.Err()
}

func (p *PostgreSQL) Ping(ctx context.Context) error {
	r, err := p.db.QueryContext(ctx, "SELECT 1;")
	if err != nil {
		return err
	}

	return r.Close()
}

func (p *PostgreSQL) Close(_ context.Context) error {
	return p.db.Close()
}

// checkTransition turns a zero-row UPDATE into the loud error the state
// machine requires: ErrNotFound when the row does not exist at all,
// ErrInvalidTransition when it exists in a different state.
func (p *PostgreSQL) checkTransition(ctx context.Context, res sql.Result, ledgerID string, periodID int64, target store.Status) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 1 {
		return nil
	}

	var current string
	err = p.db.QueryRowContext(ctx,
		`SELECT status FROM emitter.emissions WHERE ledger_id = $1 AND period_id = $2`,
		ledgerID, periodID,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}

	return errors.Join(store.ErrInvalidTransition,
		fmt.Errorf("period %d: cannot reach %s from %s", periodID, target, current))
}
