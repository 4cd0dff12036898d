package operation

import (
	"time"

	"github.com/example/cambio-core/internal/money"
)

// Status is the lifecycle state of an operation. The Spanish values are
// stored verbatim and cross-checked against database constraints.
type Status string

const (
	StatusPendiente  Status = "Pendiente"
	StatusEnProceso  Status = "En proceso"
	StatusCompletada Status = "Completada"
	StatusCancelado  Status = "Cancelado"
	StatusExpirada   Status = "Expirada"
)

// Origin is the channel an operation was created through. Immutable after creation.
type Origin string

const (
	OriginSistema    Origin = "sistema"
	OriginPlataforma Origin = "plataforma"
	OriginApp        Origin = "app"
	OriginWeb        Origin = "web"
)

// ValidOrigin reports whether o is one of the known creation channels.
func ValidOrigin(o Origin) bool {
	switch o {
	case OriginSistema, OriginPlataforma, OriginApp, OriginWeb:
		return true
	}
	return false
}

// Type says which side of the exchange the house takes.
type Type string

const (
	// TypeCompra: the house buys USD from the client.
	TypeCompra Type = "Compra"
	// TypeVenta: the house sells USD to the client.
	TypeVenta Type = "Venta"
)

// EvidenceKind discriminates the three evidence collections.
type EvidenceKind string

const (
	EvidenceClientDeposit EvidenceKind = "client_deposit"
	EvidenceClientPayment EvidenceKind = "client_payment"
	EvidenceOperatorProof EvidenceKind = "operator_proof"
)

// EvidenceRecord is one append-only deposit/payment/proof entry.
type EvidenceRecord struct {
	ID         string
	Kind       EvidenceKind
	Actor      string
	Amount     money.Money
	FileRef    string
	RecordedAt time.Time
}

// ModificationLog is one append-only audit entry for a status change.
// The trail is never truncated or summarized.
type ModificationLog struct {
	ID            string
	OperationCode string
	FromStatus    Status
	ToStatus      Status
	Actor         string
	Reason        string
	CreatedAt     time.Time
}

// Note is a free-text staff note. Appending a note clears the read set.
type Note struct {
	ID        string
	Author    string
	Body      string
	CreatedAt time.Time
}

// Operation is a single buy/sell currency-exchange request tracked end-to-end.
type Operation struct {
	// Code is the human-readable sequential identifier, e.g. "EXP-1134".
	// It is generated externally; this core only enforces uniqueness.
	Code string

	ClientID       string
	ClientDocument string
	// UserID is the staff creator; nil means created by an external channel.
	UserID             *string
	AssignedOperatorID *string

	Type               Type
	AmountUSD          money.Money
	Rate               money.Rate
	// AmountPEN is computed as AmountUSD × Rate at creation time and stored.
	// It is never revalidated after later rate changes.
	AmountPEN          money.Money
	SourceAccount      string
	DestinationAccount string

	Status          Status
	Origin          Origin
	CreatedAt       time.Time
	UpdatedAt       time.Time
	InProcessSince  *time.Time
	PaymentProofURL *string

	ClientDeposits []EvidenceRecord
	ClientPayments []EvidenceRecord
	OperatorProofs []EvidenceRecord

	ModificationLogs []ModificationLog
	Notes            []Note
	NotesReadBy      []string

	// MatchedUSD accumulates the USD amount consumed by accounting matches.
	// It is never decremented; annulling a match does not restore remainder.
	MatchedUSD money.Money

	CancellationReason string
}

// UnmatchedUSD is the remainder available to the accounting match engine.
func (o *Operation) UnmatchedUSD() money.Money {
	rem, err := o.AmountUSD.Sub(o.MatchedUSD)
	if err != nil {
		return money.Zero(money.USD)
	}
	return rem
}

// HasPaymentProof reports whether a payment proof URL was recorded.
// Operations with proof are excluded from expiration sweeps.
func (o *Operation) HasPaymentProof() bool {
	return o.PaymentProofURL != nil && *o.PaymentProofURL != ""
}

// evidenceTotalUSD sums the USD amounts across client deposits and payments.
func (o *Operation) evidenceTotalUSD() money.Money {
	total := money.Zero(money.USD)
	for _, rec := range append(append([]EvidenceRecord{}, o.ClientDeposits...), o.ClientPayments...) {
		if rec.Amount.Currency() != money.USD {
			continue
		}
		if sum, err := total.Add(rec.Amount); err == nil {
			total = sum
		}
	}
	return total
}

// EvidenceCoversAmount reports whether recorded client evidence is consistent
// with the operation amount: at least one record, totalling at least AmountUSD.
func (o *Operation) EvidenceCoversAmount() bool {
	if len(o.ClientDeposits)+len(o.ClientPayments) == 0 {
		return false
	}
	return o.evidenceTotalUSD().Cmp(o.AmountUSD) >= 0
}

// HasAcknowledgedNotes reports whether userID acknowledged the latest note.
func (o *Operation) HasAcknowledgedNotes(userID string) bool {
	for _, id := range o.NotesReadBy {
		if id == userID {
			return true
		}
	}
	return false
}
