package log

import "feeledger/internal/core"

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldError       = "error"
	FieldErrorKind   = "error_kind"
	FieldOperation   = "operation"
	FieldPaymentID   = "payment_id"
	FieldStudentID   = "student_id"
	FieldReceipt     = "receipt_number"
	FieldAmountCents = "amount_cents"
	FieldMethod      = "method"
	FieldAttempt     = "attempt"
	FieldDay         = "day"
	FieldEventType   = "event_type"
	FieldSheetsRef   = "sheets_ref"
	FieldDuration    = "duration_ms"
	FieldCount       = "count"
)

// Components defines standard component names
const (
	ComponentApp        = "app"
	ComponentAllocator  = "allocator"
	ComponentRecorder   = "recorder"
	ComponentAggregator = "aggregator"
	ComponentCatalog    = "catalog"
	ComponentStorage    = "storage"
	ComponentAMQP       = "amqp"
	ComponentWorker     = "worker"
	ComponentSheets     = "sheets"
	ComponentCache      = "cache"
	ComponentBackend    = "backend"
	ComponentCLI        = "cli"
)

// Operations defines standard operation names
const (
	OpRecord    = "record"
	OpPrint     = "print"
	OpVoid      = "void"
	OpSummarize = "summarize"
	OpAllocate  = "allocate"
	OpExport    = "export"
	OpSeed      = "seed"
	OpShutdown  = "shutdown"
	OpStartup   = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithError adds the error and its classification.
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
		f[FieldErrorKind] = string(core.Classify(err))
	}
	return f
}

// WithPayment adds the identifying fields of a payment.
func (f LogFields) WithPayment(p core.Payment) LogFields {
	f[FieldPaymentID] = p.ID
	f[FieldStudentID] = p.StudentID
	f[FieldReceipt] = string(p.ReceiptNumber)
	f[FieldAmountCents] = p.Amount.Cents
	return f
}

func (f LogFields) WithStudent(id string) LogFields {
	f[FieldStudentID] = id
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
