package domain

import (
	"errors"
	"strings"
)

var (
	// ErrOrderIDRequired: у заказа или события отсутствует идентификатор.
	ErrOrderIDRequired = errors.New("order_id is required")
	// ErrItemsRequired: заказ без позиций невалиден и никогда не сохраняется.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// ErrAmountMismatch: сумма заказа не совпадает с суммой позиций (допуск 0.01).
	ErrAmountMismatch = errors.New("order total does not match items sum")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrOrderAlreadyExists: заказ с таким идентификатором уже сохранён.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrOrderNoConflict: номер заказа уже занят (нарушение уникальности).
	ErrOrderNoConflict = errors.New("order number already assigned")
	// ErrTransitionPremature: событие опережает состояние заказа, можно повторить позже.
	ErrTransitionPremature = errors.New("transition is ahead of order state")
	// ErrTransitionStale: событие относится к уже пройденному этапу.
	ErrTransitionStale = errors.New("transition is behind order state")
	// ErrItemStatusRegression: попытка перевести позицию назад по жизненному циклу.
	ErrItemStatusRegression = errors.New("item status can only move forward")
	// ErrOutboxRecordNotFound возвращается при отметке несуществующей outbox записи.
	ErrOutboxRecordNotFound = errors.New("outbox record not found")
	// ErrFaultNotFound возвращается, если fault запись не найдена.
	ErrFaultNotFound = errors.New("fault record not found")
	// ErrFaultAlreadyExists: fault запись пишется один раз.
	ErrFaultAlreadyExists = errors.New("fault record already exists")
	// ErrIdempotencyKeyRequired: пустой ключ идемпотентности.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired: пустой хэш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists: запрос с таким ключом уже принят.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch: ключ переиспользован для другого запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound: ключ не найден.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// ValidationError собирает нарушения бизнес-правил заказа.
// Такие ошибки не повторяются и возвращаются вызывающему как есть.
type ValidationError struct {
	Problems []string
}

// NewValidationError создаёт ValidationError из списка сообщений.
func NewValidationError(problems ...string) *ValidationError {
	return &ValidationError{Problems: append([]string(nil), problems...)}
}

func (e *ValidationError) Error() string {
	return "Validation failed: " + strings.Join(e.Problems, "; ")
}

// TransientError помечает ошибку инфраструктуры (БД, брокер), которую можно повторить.
type TransientError struct {
	Op  string
	Err error
}

// Transient оборачивает err как временную ошибку операции op.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

func (e *TransientError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsNotFound проверяет, что заказ не найден.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound)
}

// IsValidation проверяет, что ошибка относится к нарушению бизнес-правил.
func IsValidation(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}

// IsTransient проверяет, что ошибку имеет смысл повторить.
func IsTransient(err error) bool {
	var tErr *TransientError
	return errors.As(err, &tErr) || errors.Is(err, ErrTransitionPremature)
}
