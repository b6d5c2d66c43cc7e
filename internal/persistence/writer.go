package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Ithil-protocol/liquidation-bot/internal/event"
)

// OutcomeRow is a row in liquidator.dispatch_outcomes.
type OutcomeRow struct {
	IntentID    string
	Strategy    string
	PositionID  string // decimal, stored as NUMERIC(78,0)
	Status      string
	TxHash      sql.NullString
	BlockNumber sql.NullInt64
	Error       sql.NullString
	CompletedAt time.Time
}

const outcomeColumns = 8

// NewOutcomeRow flattens an outcome for storage.
func NewOutcomeRow(o event.LiquidationOutcome) OutcomeRow {
	row := OutcomeRow{
		IntentID:    o.Intent.IntentID.String(),
		Strategy:    o.Intent.StrategyAddress.Hex(),
		PositionID:  o.Intent.PositionID.Dec(),
		Status:      o.Status.String(),
		CompletedAt: o.CompletedAt.UTC(),
	}
	if o.TxHash != ([32]byte{}) {
		row.TxHash = sql.NullString{String: o.TxHash.Hex(), Valid: true}
	}
	if o.BlockNumber > 0 {
		row.BlockNumber = sql.NullInt64{Int64: int64(o.BlockNumber), Valid: true}
	}
	if o.Error != "" {
		row.Error = sql.NullString{String: o.Error, Valid: true}
	}
	return row
}

// OutcomeWriter writes dispatch outcomes using multi-row INSERT. Rows are
// keyed by intent id, so rewriting a batch after a partial failure is a
// no-op for rows that already landed.
type OutcomeWriter struct {
	db *sql.DB
}

func NewOutcomeWriter(db *sql.DB) *OutcomeWriter {
	return &OutcomeWriter{db: db}
}

// WriteBatch inserts rows in one statement.
func (w *OutcomeWriter) WriteBatch(ctx context.Context, rows []OutcomeRow) error {
	if len(rows) == 0 {
		return nil
	}
	query, args := buildInsert(rows)
	_, err := w.db.ExecContext(ctx, query, args...)
	return err
}

func buildInsert(rows []OutcomeRow) (string, []interface{}) {
	var b strings.Builder
	b.WriteString(`INSERT INTO liquidator.dispatch_outcomes
		(intent_id, strategy, position_id, status, tx_hash, block_number, error, completed_at)
		VALUES `)

	args := make([]interface{}, 0, len(rows)*outcomeColumns)
	for i, r := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		base := i * outcomeColumns
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8)
		args = append(args,
			r.IntentID, r.Strategy, r.PositionID, r.Status,
			r.TxHash, r.BlockNumber, r.Error, r.CompletedAt,
		)
	}
	b.WriteString(" ON CONFLICT (intent_id) DO NOTHING")
	return b.String(), args
}

// CountByStatus returns the number of stored outcomes per status.
func (w *OutcomeWriter) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := w.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM liquidator.dispatch_outcomes GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
