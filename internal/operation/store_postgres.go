package operation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/cambio-core/internal/money"
	"github.com/example/cambio-core/internal/store"
)

// PostgresStore implements Store over pgx. All mutating methods join the
// transaction in the context when one is open.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates the pgx-backed operation store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const operationColumns = `
	code,
	client_id,
	client_document,
	user_id,
	assigned_operator_id,
	operation_type,
	amount_usd::text,
	exchange_rate::text,
	amount_pen::text,
	source_account,
	destination_account,
	status,
	origen,
	created_at,
	updated_at,
	in_process_since,
	payment_proof_url,
	matched_usd::text,
	cancellation_reason,
	notes_read_by`

func (ps *PostgresStore) Create(ctx context.Context, op *Operation) error {
	q := store.QuerierFrom(ctx, ps.pool)
	_, err := q.Exec(ctx, `
		INSERT INTO operations (
			code, client_id, client_document, user_id, assigned_operator_id,
			operation_type, amount_usd, exchange_rate, amount_pen,
			source_account, destination_account, status, origen,
			created_at, updated_at, matched_usd, cancellation_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 0, '')
	`, op.Code, op.ClientID, op.ClientDocument, op.UserID, op.AssignedOperatorID,
		string(op.Type),
		op.AmountUSD.Decimal().StringFixed(2),
		op.Rate.Decimal().StringFixed(4),
		op.AmountPEN.Decimal().StringFixed(2),
		op.SourceAccount, op.DestinationAccount,
		string(op.Status), string(op.Origin),
		op.CreatedAt, op.UpdatedAt,
	)
	if err != nil {
		if constraint, ok := store.IsUniqueViolation(err); ok {
			return &ConstraintViolationError{Constraint: constraint, Detail: op.Code}
		}
		return fmt.Errorf("failed to create operation %s: %w", op.Code, err)
	}
	return nil
}

func (ps *PostgresStore) Get(ctx context.Context, code string) (*Operation, error) {
	q := store.QuerierFrom(ctx, ps.pool)
	row := q.QueryRow(ctx, `SELECT `+operationColumns+` FROM operations WHERE code = $1`, code)
	op, err := scanOperation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{OperationCode: code}
	}
	if err != nil {
		return nil, err
	}
	if err := ps.loadCollections(ctx, q, op); err != nil {
		return nil, err
	}
	return op, nil
}

func (ps *PostgresStore) GetForUpdate(ctx context.Context, code string) (*Operation, error) {
	tx := store.TxFrom(ctx)
	if tx == nil {
		return nil, fmt.Errorf("GetForUpdate requires an open transaction")
	}
	row := tx.QueryRow(ctx, `SELECT `+operationColumns+` FROM operations WHERE code = $1 FOR UPDATE`, code)
	op, err := scanOperation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{OperationCode: code}
	}
	if err != nil {
		return nil, err
	}
	if err := ps.loadCollections(ctx, tx, op); err != nil {
		return nil, err
	}
	return op, nil
}

func (ps *PostgresStore) Update(ctx context.Context, op *Operation) error {
	q := store.QuerierFrom(ctx, ps.pool)
	tag, err := q.Exec(ctx, `
		UPDATE operations
		SET assigned_operator_id = $2,
		    status = $3,
		    updated_at = $4,
		    in_process_since = $5,
		    payment_proof_url = $6,
		    matched_usd = $7,
		    cancellation_reason = $8
		WHERE code = $1
	`, op.Code, op.AssignedOperatorID, string(op.Status), op.UpdatedAt,
		op.InProcessSince, op.PaymentProofURL,
		op.MatchedUSD.Decimal().StringFixed(2),
		op.CancellationReason,
	)
	if err != nil {
		return fmt.Errorf("failed to update operation %s: %w", op.Code, err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{OperationCode: op.Code}
	}
	return nil
}

func (ps *PostgresStore) AppendLog(ctx context.Context, entry *ModificationLog) error {
	q := store.QuerierFrom(ctx, ps.pool)
	_, err := q.Exec(ctx, `
		INSERT INTO operation_logs (id, operation_code, from_status, to_status, actor, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.OperationCode, string(entry.FromStatus), string(entry.ToStatus),
		entry.Actor, entry.Reason, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append log for %s: %w", entry.OperationCode, err)
	}
	return nil
}

func (ps *PostgresStore) AppendEvidence(ctx context.Context, code string, rec *EvidenceRecord) error {
	q := store.QuerierFrom(ctx, ps.pool)
	_, err := q.Exec(ctx, `
		INSERT INTO operation_evidence (id, operation_code, kind, actor, amount_usd, file_ref, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.ID, code, string(rec.Kind), rec.Actor,
		rec.Amount.Decimal().StringFixed(2), rec.FileRef, rec.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append evidence for %s: %w", code, err)
	}
	return nil
}

func (ps *PostgresStore) AppendNote(ctx context.Context, code string, note *Note) error {
	q := store.QuerierFrom(ctx, ps.pool)
	_, err := q.Exec(ctx, `
		INSERT INTO operation_notes (id, operation_code, author, body, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, note.ID, code, note.Author, note.Body, note.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append note for %s: %w", code, err)
	}
	return nil
}

func (ps *PostgresStore) SetNotesReadBy(ctx context.Context, code string, readers []string) error {
	q := store.QuerierFrom(ctx, ps.pool)
	tag, err := q.Exec(ctx, `UPDATE operations SET notes_read_by = $2 WHERE code = $1`, code, readers)
	if err != nil {
		return fmt.Errorf("failed to set note readers for %s: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{OperationCode: code}
	}
	return nil
}

func (ps *PostgresStore) ListExpirable(ctx context.Context, cutoff time.Time) ([]string, error) {
	q := store.QuerierFrom(ctx, ps.pool)
	rows, err := q.Query(ctx, `
		SELECT code FROM operations
		WHERE status IN ('Pendiente', 'En proceso')
		  AND payment_proof_url IS NULL
		  AND created_at <= $1
		ORDER BY created_at
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query expirable operations: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func (ps *PostgresStore) loadCollections(ctx context.Context, q store.Querier, op *Operation) error {
	if err := ps.loadEvidence(ctx, q, op); err != nil {
		return err
	}
	if err := ps.loadLogs(ctx, q, op); err != nil {
		return err
	}
	return ps.loadNotes(ctx, q, op)
}

func (ps *PostgresStore) loadEvidence(ctx context.Context, q store.Querier, op *Operation) error {
	rows, err := q.Query(ctx, `
		SELECT id, kind, actor, amount_usd::text, file_ref, recorded_at
		FROM operation_evidence WHERE operation_code = $1 ORDER BY recorded_at
	`, op.Code)
	if err != nil {
		return fmt.Errorf("failed to load evidence for %s: %w", op.Code, err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec EvidenceRecord
		var kind, amount string
		if err := rows.Scan(&rec.ID, &kind, &rec.Actor, &amount, &rec.FileRef, &rec.RecordedAt); err != nil {
			return err
		}
		rec.Kind = EvidenceKind(kind)
		if rec.Amount, err = money.New(amount, money.USD); err != nil {
			return err
		}
		switch rec.Kind {
		case EvidenceClientDeposit:
			op.ClientDeposits = append(op.ClientDeposits, rec)
		case EvidenceClientPayment:
			op.ClientPayments = append(op.ClientPayments, rec)
		case EvidenceOperatorProof:
			op.OperatorProofs = append(op.OperatorProofs, rec)
		}
	}
	return rows.Err()
}

func (ps *PostgresStore) loadLogs(ctx context.Context, q store.Querier, op *Operation) error {
	rows, err := q.Query(ctx, `
		SELECT id, from_status, to_status, actor, reason, created_at
		FROM operation_logs WHERE operation_code = $1 ORDER BY created_at
	`, op.Code)
	if err != nil {
		return fmt.Errorf("failed to load logs for %s: %w", op.Code, err)
	}
	defer rows.Close()

	for rows.Next() {
		entry := ModificationLog{OperationCode: op.Code}
		var from, to string
		if err := rows.Scan(&entry.ID, &from, &to, &entry.Actor, &entry.Reason, &entry.CreatedAt); err != nil {
			return err
		}
		entry.FromStatus = Status(from)
		entry.ToStatus = Status(to)
		op.ModificationLogs = append(op.ModificationLogs, entry)
	}
	return rows.Err()
}

func (ps *PostgresStore) loadNotes(ctx context.Context, q store.Querier, op *Operation) error {
	rows, err := q.Query(ctx, `
		SELECT id, author, body, created_at
		FROM operation_notes WHERE operation_code = $1 ORDER BY created_at
	`, op.Code)
	if err != nil {
		return fmt.Errorf("failed to load notes for %s: %w", op.Code, err)
	}
	defer rows.Close()

	for rows.Next() {
		var note Note
		if err := rows.Scan(&note.ID, &note.Author, &note.Body, &note.CreatedAt); err != nil {
			return err
		}
		op.Notes = append(op.Notes, note)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (*Operation, error) {
	var op Operation
	var opType, status, origin string
	var amountUSD, rate, amountPEN, matchedUSD string
	err := row.Scan(
		&op.Code, &op.ClientID, &op.ClientDocument, &op.UserID, &op.AssignedOperatorID,
		&opType, &amountUSD, &rate, &amountPEN,
		&op.SourceAccount, &op.DestinationAccount, &status, &origin,
		&op.CreatedAt, &op.UpdatedAt, &op.InProcessSince, &op.PaymentProofURL,
		&matchedUSD, &op.CancellationReason, &op.NotesReadBy,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan operation: %w", err)
	}

	op.Type = Type(opType)
	op.Status = Status(status)
	op.Origin = Origin(origin)
	if op.AmountUSD, err = money.New(amountUSD, money.USD); err != nil {
		return nil, err
	}
	if op.Rate, err = money.NewRate(rate); err != nil {
		return nil, err
	}
	if op.AmountPEN, err = money.New(amountPEN, money.PEN); err != nil {
		return nil, err
	}
	if op.MatchedUSD, err = money.New(matchedUSD, money.USD); err != nil {
		return nil, err
	}
	return &op, nil
}
