package operation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/cambio-core/internal/audit"
	"github.com/example/cambio-core/internal/notify"
)

// Store is the persistence contract for operations. Every cross-entity
// mutation happens through explicit methods here, never through hidden
// model hooks.
type Store interface {
	Create(ctx context.Context, op *Operation) error
	Get(ctx context.Context, code string) (*Operation, error)
	// GetForUpdate reads the operation under a row lock. Must be called
	// inside a transaction opened by TxManager.
	GetForUpdate(ctx context.Context, code string) (*Operation, error)
	Update(ctx context.Context, op *Operation) error
	AppendLog(ctx context.Context, entry *ModificationLog) error
	AppendEvidence(ctx context.Context, code string, rec *EvidenceRecord) error
	AppendNote(ctx context.Context, code string, note *Note) error
	SetNotesReadBy(ctx context.Context, code string, readers []string) error
	// ListExpirable returns codes of operations still Pendiente or En proceso,
	// with no payment proof, created at or before the cutoff.
	ListExpirable(ctx context.Context, cutoff time.Time) ([]string, error)
}

// TxManager wraps a function in one store transaction. The transaction
// travels in the context so the stores can share it.
type TxManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// BalanceApplier applies a completed operation to the bank balance ledger.
// Implemented by the ledger service; runs inside the completion transaction.
type BalanceApplier interface {
	ApplyCompletion(ctx context.Context, op *Operation) error
}

// Matcher attempts accounting matches for a freshly completed operation.
// Runs inside the completion transaction.
type Matcher interface {
	MatchCompleted(ctx context.Context, op *Operation) error
}

// EventPublisher delivers lifecycle events. Best-effort: failures are
// logged by the service and never roll back the triggering transition.
type EventPublisher interface {
	Publish(ctx context.Context, event notify.Event) error
}

// AssignPolicy picks an operator for a new operation. Returning ok=false
// leaves the operation Pendiente awaiting manual assignment.
type AssignPolicy func(ctx context.Context, op *Operation) (operatorID string, ok bool)

// Service owns the operation lifecycle: creation, assignment, evidence,
// completion with ledger and matching side effects, cancellation, expiry.
type Service struct {
	store    Store
	tx       TxManager
	ledger   BalanceApplier
	matcher  Matcher
	notifier EventPublisher
	policy   AssignPolicy
	trail    *audit.Chain
	log      *slog.Logger
	clock    func() time.Time
}

// NewService creates the lifecycle service. notifier may be nil to disable
// fan-out; logger may be nil.
func NewService(store Store, tx TxManager, ledger BalanceApplier, matcher Matcher, notifier EventPublisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		tx:       tx,
		ledger:   ledger,
		matcher:  matcher,
		notifier: notifier,
		log:      logger,
		clock:    time.Now,
	}
}

// SetAssignPolicy installs the pluggable auto-assignment policy.
func (s *Service) SetAssignPolicy(policy AssignPolicy) {
	s.policy = policy
}

// SetAuditTrail installs the hash-chained audit trail for modification logs.
func (s *Service) SetAuditTrail(trail *audit.Chain) {
	s.trail = trail
}

// SetClock overrides the wall clock. For tests.
func (s *Service) SetClock(clock func() time.Time) {
	s.clock = clock
}

// CreateRequest carries the fields a channel handler supplies when opening
// an operation. The handler has already authenticated the channel and
// generated a unique code.
type CreateRequest struct {
	Code               string
	ClientID           string
	ClientDocument     string
	UserID             *string
	Type               Type
	AmountUSD          string
	Rate               string
	SourceAccount      string
	DestinationAccount string
	Origin             Origin
}

// Create opens a new operation in Pendiente and consults the assignment
// policy. AmountPEN is derived from AmountUSD and the rate at creation time
// and stored, never recomputed. If auto-assignment fails the operation still
// exists in Pendiente and is returned together with the error.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Operation, error) {
	if req.Code == "" {
		return nil, fmt.Errorf("operation code is required")
	}
	if req.ClientID == "" {
		return nil, fmt.Errorf("client id is required")
	}
	if req.Type != TypeCompra && req.Type != TypeVenta {
		return nil, fmt.Errorf("unknown operation type: %s", req.Type)
	}
	if !ValidOrigin(req.Origin) {
		return nil, fmt.Errorf("unknown origin: %s", req.Origin)
	}

	amountUSD, err := parseUSD(req.AmountUSD)
	if err != nil {
		return nil, err
	}
	if !amountUSD.IsPositive() {
		return nil, fmt.Errorf("amount_usd must be positive, got %s", amountUSD)
	}
	rate, err := parseRate(req.Rate)
	if err != nil {
		return nil, err
	}
	amountPEN, err := rate.Convert(amountUSD)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	op := &Operation{
		Code:               req.Code,
		ClientID:           req.ClientID,
		ClientDocument:     req.ClientDocument,
		UserID:             req.UserID,
		Type:               req.Type,
		AmountUSD:          amountUSD,
		Rate:               rate,
		AmountPEN:          amountPEN,
		SourceAccount:      req.SourceAccount,
		DestinationAccount: req.DestinationAccount,
		Status:             StatusPendiente,
		Origin:             req.Origin,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, op); err != nil {
			return err
		}
		return s.appendLog(ctx, op, "", StatusPendiente, actorOrSystem(req.UserID), "operation created")
	})
	if err != nil {
		return nil, err
	}

	if s.policy != nil {
		if operatorID, ok := s.policy(ctx, op); ok {
			assigned, err := s.Assign(ctx, op.Code, operatorID, "auto-assignment")
			if err != nil {
				// The operation exists in Pendiente; the caller gets it back
				// alongside the assignment failure.
				return op, fmt.Errorf("operation %s created but auto-assignment failed: %w", op.Code, err)
			}
			return assigned, nil
		}
	}

	return op, nil
}

// Assign moves a Pendiente operation to En proceso, setting the operator
// atomically with the transition and starting the in-process clock.
func (s *Service) Assign(ctx context.Context, code, operatorID, actor string) (*Operation, error) {
	if operatorID == "" {
		return nil, fmt.Errorf("operator id is required")
	}

	var out *Operation
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		op, err := s.store.GetForUpdate(ctx, code)
		if err != nil {
			return err
		}
		if err := validateTransition(op, StatusPendiente, StatusEnProceso); err != nil {
			return err
		}

		now := s.clock()
		op.Status = StatusEnProceso
		op.AssignedOperatorID = &operatorID
		op.InProcessSince = &now
		op.UpdatedAt = now
		if err := s.store.Update(ctx, op); err != nil {
			return err
		}
		if err := s.appendLog(ctx, op, StatusPendiente, StatusEnProceso, actor, "operator assigned: "+operatorID); err != nil {
			return err
		}
		out = op
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, notify.EventOperationAssigned, out)
	return out, nil
}

// Complete moves an En proceso operation to Completada, applying the bank
// balance update and attempting accounting matches in the same transaction.
// A concurrent completion loses its status guard and gets StaleStateError;
// an insufficient balance aborts the whole transaction and the operation
// stays En proceso.
func (s *Service) Complete(ctx context.Context, code, actor string) (*Operation, error) {
	var out *Operation
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		op, err := s.store.GetForUpdate(ctx, code)
		if err != nil {
			return err
		}
		if err := validateTransition(op, StatusEnProceso, StatusCompletada); err != nil {
			return err
		}
		if !op.EvidenceCoversAmount() {
			return fmt.Errorf("operation %s has no recorded evidence covering %s", op.Code, op.AmountUSD)
		}

		now := s.clock()
		op.Status = StatusCompletada
		op.UpdatedAt = now
		if err := s.store.Update(ctx, op); err != nil {
			return err
		}
		if err := s.appendLog(ctx, op, StatusEnProceso, StatusCompletada, actor, "operation completed"); err != nil {
			return err
		}
		if err := s.ledger.ApplyCompletion(ctx, op); err != nil {
			return err
		}
		if err := s.matcher.MatchCompleted(ctx, op); err != nil {
			return err
		}
		out = op
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, notify.EventOperationStatusChanged, out)
	return out, nil
}

// Cancel aborts any non-terminal operation. Staff action; a reason is required.
func (s *Service) Cancel(ctx context.Context, code, actor, reason string) (*Operation, error) {
	if reason == "" {
		return nil, fmt.Errorf("cancellation reason is required")
	}

	var out *Operation
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		op, err := s.store.GetForUpdate(ctx, code)
		if err != nil {
			return err
		}
		if IsTerminal(op.Status) {
			return &InvalidTransitionError{OperationCode: op.Code, From: op.Status, To: StatusCancelado}
		}

		from := op.Status
		op.Status = StatusCancelado
		op.CancellationReason = reason
		op.UpdatedAt = s.clock()
		if err := s.store.Update(ctx, op); err != nil {
			return err
		}
		if err := s.appendLog(ctx, op, from, StatusCancelado, actor, reason); err != nil {
			return err
		}
		out = op
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, notify.EventOperationStatusChanged, out)
	return out, nil
}

// CancelByClient is the client-facing cancellation. Only the owning client
// may abort, and only before completion; it converges on the same transition
// as staff cancellation.
func (s *Service) CancelByClient(ctx context.Context, code, clientID, reason string) (*Operation, error) {
	op, err := s.store.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if op.ClientID != clientID {
		return nil, fmt.Errorf("operation %s does not belong to client %s", code, clientID)
	}
	if reason == "" {
		reason = "cancelado por el cliente"
	}
	return s.Cancel(ctx, code, "client:"+clientID, reason)
}

// Expire transitions a stale unconfirmed operation to Expirada. Fired only
// by the expiration scheduler: the guards make a re-scan of already-expired
// operations a no-op.
func (s *Service) Expire(ctx context.Context, code string, cutoff time.Time) (*Operation, error) {
	var out *Operation
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		op, err := s.store.GetForUpdate(ctx, code)
		if err != nil {
			return err
		}
		if op.Status != StatusPendiente && op.Status != StatusEnProceso {
			return &StaleStateError{OperationCode: op.Code, Expected: StatusPendiente, Actual: op.Status}
		}
		if op.HasPaymentProof() {
			return fmt.Errorf("operation %s has a payment proof, not expirable", op.Code)
		}
		if op.CreatedAt.After(cutoff) {
			return fmt.Errorf("operation %s is inside the timeout window", op.Code)
		}

		from := op.Status
		op.Status = StatusExpirada
		op.UpdatedAt = s.clock()
		if err := s.store.Update(ctx, op); err != nil {
			return err
		}
		if err := s.appendLog(ctx, op, from, StatusExpirada, "scheduler", "auto-expired after timeout"); err != nil {
			return err
		}
		out = op
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, notify.EventOperationExpired, out)
	return out, nil
}

// ListExpirable returns the codes eligible for the next expiration sweep.
func (s *Service) ListExpirable(ctx context.Context, cutoff time.Time) ([]string, error) {
	return s.store.ListExpirable(ctx, cutoff)
}

// AttachClientDeposit records a client deposit on a non-terminal operation.
func (s *Service) AttachClientDeposit(ctx context.Context, code, actor, amount, fileRef string) (*Operation, error) {
	return s.attachEvidence(ctx, code, EvidenceClientDeposit, actor, amount, fileRef)
}

// AttachClientPayment records a client payment on a non-terminal operation.
func (s *Service) AttachClientPayment(ctx context.Context, code, actor, amount, fileRef string) (*Operation, error) {
	return s.attachEvidence(ctx, code, EvidenceClientPayment, actor, amount, fileRef)
}

// AttachOperatorProof records an operator's payment proof.
func (s *Service) AttachOperatorProof(ctx context.Context, code, actor, amount, fileRef string) (*Operation, error) {
	return s.attachEvidence(ctx, code, EvidenceOperatorProof, actor, amount, fileRef)
}

func (s *Service) attachEvidence(ctx context.Context, code string, kind EvidenceKind, actor, amount, fileRef string) (*Operation, error) {
	amt, err := parseUSD(amount)
	if err != nil {
		return nil, err
	}

	var out *Operation
	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		op, err := s.store.GetForUpdate(ctx, code)
		if err != nil {
			return err
		}
		if IsTerminal(op.Status) {
			return fmt.Errorf("cannot attach evidence to operation %s in terminal state %q", op.Code, op.Status)
		}

		rec := &EvidenceRecord{
			ID:         uuid.New().String(),
			Kind:       kind,
			Actor:      actor,
			Amount:     amt,
			FileRef:    fileRef,
			RecordedAt: s.clock(),
		}
		if err := s.store.AppendEvidence(ctx, code, rec); err != nil {
			return err
		}
		switch kind {
		case EvidenceClientDeposit:
			op.ClientDeposits = append(op.ClientDeposits, *rec)
		case EvidenceClientPayment:
			op.ClientPayments = append(op.ClientPayments, *rec)
		case EvidenceOperatorProof:
			op.OperatorProofs = append(op.OperatorProofs, *rec)
		}

		// First file attached becomes the payment proof, which shields the
		// operation from the expiration sweep.
		if fileRef != "" && !op.HasPaymentProof() {
			op.PaymentProofURL = &rec.FileRef
			op.UpdatedAt = rec.RecordedAt
			if err := s.store.Update(ctx, op); err != nil {
				return err
			}
		}
		out = op
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetPaymentProof records the payment proof URL directly.
func (s *Service) SetPaymentProof(ctx context.Context, code, url, actor string) error {
	if url == "" {
		return fmt.Errorf("proof url is required")
	}
	return s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		op, err := s.store.GetForUpdate(ctx, code)
		if err != nil {
			return err
		}
		if IsTerminal(op.Status) {
			return fmt.Errorf("cannot attach proof to operation %s in terminal state %q", op.Code, op.Status)
		}
		op.PaymentProofURL = &url
		op.UpdatedAt = s.clock()
		return s.store.Update(ctx, op)
	})
}

// AppendNote adds a staff note and resets the read set to its author.
func (s *Service) AppendNote(ctx context.Context, code, author, body string) error {
	if body == "" {
		return fmt.Errorf("note body is required")
	}
	note := &Note{
		ID:        uuid.New().String(),
		Author:    author,
		Body:      body,
		CreatedAt: s.clock(),
	}
	return s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.store.GetForUpdate(ctx, code); err != nil {
			return err
		}
		if err := s.store.AppendNote(ctx, code, note); err != nil {
			return err
		}
		return s.store.SetNotesReadBy(ctx, code, []string{author})
	})
}

// AcknowledgeNotes marks the latest note as read by userID.
func (s *Service) AcknowledgeNotes(ctx context.Context, code, userID string) error {
	return s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		op, err := s.store.GetForUpdate(ctx, code)
		if err != nil {
			return err
		}
		if op.HasAcknowledgedNotes(userID) {
			return nil
		}
		return s.store.SetNotesReadBy(ctx, code, append(op.NotesReadBy, userID))
	})
}

// Get fetches one operation with its collections.
func (s *Service) Get(ctx context.Context, code string) (*Operation, error) {
	return s.store.Get(ctx, code)
}

func (s *Service) appendLog(ctx context.Context, op *Operation, from, to Status, actor, reason string) error {
	entry := &ModificationLog{
		ID:            uuid.New().String(),
		OperationCode: op.Code,
		FromStatus:    from,
		ToStatus:      to,
		Actor:         actor,
		Reason:        reason,
		CreatedAt:     s.clock(),
	}
	if err := s.store.AppendLog(ctx, entry); err != nil {
		return err
	}
	op.ModificationLogs = append(op.ModificationLogs, *entry)
	if s.trail != nil {
		s.trail.Append(fmt.Sprintf("%s|%s->%s|%s|%s", entry.OperationCode, from, to, actor, reason))
	}
	return nil
}

// publish emits a lifecycle event. Delivery is best-effort: failures are
// logged and never surfaced to the caller.
func (s *Service) publish(ctx context.Context, eventType notify.EventType, op *Operation) {
	if s.notifier == nil || op == nil {
		return
	}
	event := notify.Event{
		Type:           eventType,
		OperationCode:  op.Code,
		ClientID:       op.ClientID,
		ClientDocument: op.ClientDocument,
		NewStatus:      string(op.Status),
		Timestamp:      s.clock(),
		AmountUSD:      op.AmountUSD.Display(),
		OperationType:  string(op.Type),
	}
	if op.AssignedOperatorID != nil {
		event.OperatorID = *op.AssignedOperatorID
	}
	if err := s.notifier.Publish(ctx, event); err != nil {
		s.log.Warn("notification delivery failed",
			"event", string(eventType),
			"operation", op.Code,
			"error", err,
		)
	}
}

func actorOrSystem(userID *string) string {
	if userID != nil && *userID != "" {
		return *userID
	}
	return "sistema"
}
