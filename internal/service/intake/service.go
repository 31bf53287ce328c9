// Package intake принимает запросы на создание заказа: валидирует граф заказа,
// выдаёт номер и в одной транзакции сохраняет заказ вместе с outbox записью
// OrderCreated.
package intake

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/streamflow/internal/domain"
	"github.com/vladislavdragonenkov/streamflow/internal/events"
	"github.com/vladislavdragonenkov/streamflow/internal/metrics"
	"github.com/vladislavdragonenkov/streamflow/internal/service/routing"
)

const (
	// DefaultOrderNoFloor: номер первого заказа.
	DefaultOrderNoFloor int64 = 1000
	// DefaultIdempotencyTTL: срок хранения ответа по correlation id.
	DefaultIdempotencyTTL = 24 * time.Hour
)

// orderIDNamespace: пространство имён для идентификаторов заказов,
// выведенных из correlation id.
var orderIDNamespace = uuid.MustParse("5b6f0c52-3d0e-4f61-9a3c-7e2d8f4a1b90")

// ErrRequestInFlight: запрос с тем же correlation id ещё обрабатывается.
var ErrRequestInFlight = errors.New("request with the same correlation id is already processing")

// Config параметры приёма заказов.
type Config struct {
	OrderNoFloor   int64
	IdempotencyTTL time.Duration
}

// Deps: хранилища, с которыми работает сервис.
type Deps struct {
	Transactor  domain.Transactor
	Outbox      domain.OutboxRepository
	Orders      domain.OrderRepository
	Timeline    domain.TimelineRepository
	Idempotency domain.IdempotencyRepository
}

// Service: приём и чтение заказов.
type Service struct {
	deps      Deps
	cfg       Config
	router    *routing.Router
	validator *Validator
	clock     clockwork.Clock
	metrics   *metrics.SagaMetrics
	logger    *log.Entry
}

// NewService создаёт сервис. router, clock, m и logger могут быть nil.
func NewService(deps Deps, cfg Config, router *routing.Router, clock clockwork.Clock, m *metrics.SagaMetrics, logger *log.Entry) *Service {
	if cfg.OrderNoFloor <= 0 {
		cfg.OrderNoFloor = DefaultOrderNoFloor
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = DefaultIdempotencyTTL
	}
	if router == nil {
		router = routing.NewRouter(nil)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = log.WithField("component", "intake")
	}
	return &Service{
		deps:      deps,
		cfg:       cfg,
		router:    router,
		validator: NewValidator(),
		clock:     clock,
		metrics:   m,
		logger:    logger,
	}
}

// CreateOrder создаёт заказ. Ошибка возвращается только для сбоев, которые
// имеет смысл повторить; отказ валидации — это успешный ответ с
// IsSuccessfullyCreated=false.
func (s *Service) CreateOrder(ctx context.Context, req events.CreateOrderRequest) (events.CreateOrderResponse, error) {
	if s.deps.Idempotency == nil || strings.TrimSpace(req.CorrelationID) == "" {
		return s.createOrder(ctx, req)
	}

	key := strings.TrimSpace(req.CorrelationID)
	hash, err := requestHash(req.Order)
	if err != nil {
		return events.CreateOrderResponse{}, fmt.Errorf("hash create order request: %w", err)
	}

	record, err := s.deps.Idempotency.CreateProcessing(ctx, key, hash, s.clock.Now().UTC().Add(s.cfg.IdempotencyTTL))
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		return s.replay(record)
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return events.CreateOrderResponse{
			IsSuccessfullyCreated: false,
			ErrorMessage:          "Correlation id is already used for a different order",
			CorrelationID:         key,
		}, nil
	default:
		return events.CreateOrderResponse{}, domain.Transient("idempotency.create", err)
	}

	resp, err := s.createOrder(ctx, req)
	if err != nil {
		// Ключ освобождается, чтобы повторная доставка могла выполнить запрос заново.
		if delErr := s.deps.Idempotency.Delete(ctx, key); delErr != nil {
			s.logger.WithError(delErr).WithField("correlation_id", key).Warn("failed to release idempotency key")
		}
		return resp, err
	}

	body, err := json.Marshal(resp)
	if err == nil {
		err = s.deps.Idempotency.MarkDone(ctx, key, body)
	}
	if err != nil {
		s.releaseKey(ctx, key, err)
	}
	return resp, nil
}

// releaseKey удаляет ключ, ответ по которому не удалось сохранить. Ключ в
// статусе processing до истечения TTL отвечал бы на каждую повторную
// доставку ErrRequestInFlight. Повтор после удаления находит уже созданный
// заказ по идентификатору и correlation id.
func (s *Service) releaseKey(ctx context.Context, key string, cause error) {
	entry := s.logger.WithError(cause).WithField("correlation_id", key)
	if err := s.deps.Idempotency.Delete(ctx, key); err != nil {
		entry.WithField("release_error", err.Error()).Error("failed to store idempotent response, key stays processing until ttl")
		return
	}
	entry.Warn("failed to store idempotent response, key released")
}

func (s *Service) replay(record domain.IdempotencyRecord) (events.CreateOrderResponse, error) {
	if record.Status != domain.IdempotencyStatusDone {
		return events.CreateOrderResponse{}, domain.Transient("idempotency.replay", ErrRequestInFlight)
	}
	var resp events.CreateOrderResponse
	if err := json.Unmarshal(record.Response, &resp); err != nil {
		return events.CreateOrderResponse{}, fmt.Errorf("decode stored response: %w", err)
	}
	s.logger.WithFields(log.Fields{
		"correlation_id": record.Key,
		"order_no":       resp.OrderNo,
	}).Info("replaying stored create order response")
	return resp, nil
}

func (s *Service) createOrder(ctx context.Context, req events.CreateOrderRequest) (events.CreateOrderResponse, error) {
	correlationID := strings.TrimSpace(req.CorrelationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	entry := s.logger.WithField("correlation_id", correlationID)

	if problems := s.validator.Validate(req.Order); len(problems) > 0 {
		return s.reject(ctx, entry, req.Order, correlationID, problems)
	}

	now := s.clock.Now().UTC()
	order := s.buildOrder(req.Order, correlationID, now)
	priority := s.router.Priority(order.ShippingAddress.Country, order.OrderType)

	err := s.deps.Transactor.InTx(ctx, func(ctx context.Context, tx domain.OrderTx) error {
		orderNo, err := tx.NextOrderNo(ctx, s.cfg.OrderNoFloor)
		if err != nil {
			return err
		}
		order.OrderNo = orderNo

		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}

		created := events.NewOrderCreated(order, priority)
		payload, err := events.Encode(created)
		if err != nil {
			return err
		}
		_, err = tx.EnqueueOutbox(ctx, domain.OutboxRecord{
			MessageType:   string(created.Type()),
			AggregateID:   order.ID,
			CorrelationID: correlationID,
			Priority:      priority,
			Payload:       payload,
			CreatedAt:     now,
		})
		return err
	})
	switch {
	case errors.Is(err, domain.ErrOrderAlreadyExists):
		if existing, ok := s.createdEarlier(ctx, order.ID, correlationID); ok {
			entry.WithFields(log.Fields{
				"order_id": existing.ID,
				"order_no": existing.OrderNo,
			}).Info("order already created for this correlation id")
			return events.CreateOrderResponse{
				OrderNo:               existing.OrderNo,
				IsSuccessfullyCreated: true,
				CorrelationID:         correlationID,
			}, nil
		}
		entry.WithField("order_id", order.ID).Warn("order id already exists")
		return events.CreateOrderResponse{
			IsSuccessfullyCreated: false,
			ErrorMessage:          fmt.Sprintf("Order %s already exists", order.ID),
			CorrelationID:         correlationID,
		}, nil
	case errors.Is(err, domain.ErrOrderNoConflict):
		return events.CreateOrderResponse{}, domain.Transient("intake.create", err)
	case err != nil:
		entry.WithError(err).Error("failed to create order")
		return events.CreateOrderResponse{}, err
	}

	s.metrics.RecordOrderCreated()
	s.appendTimeline(ctx, entry, domain.TimelineEvent{
		OrderID:  order.ID,
		State:    domain.OrderStateCreated,
		Reason:   "order accepted",
		Occurred: now,
	})
	entry.WithFields(log.Fields{
		"order_id":   order.ID,
		"order_no":   order.OrderNo,
		"order_type": order.OrderType,
		"priority":   priority,
	}).Info("order created")

	return events.CreateOrderResponse{
		OrderNo:               order.OrderNo,
		IsSuccessfullyCreated: true,
		CorrelationID:         correlationID,
	}, nil
}

// createdEarlier находит заказ, уже сохранённый этим же запросом.
func (s *Service) createdEarlier(ctx context.Context, id, correlationID string) (domain.Order, bool) {
	if s.deps.Orders == nil {
		return domain.Order{}, false
	}
	existing, err := s.deps.Orders.Get(ctx, id)
	if err != nil || existing.CorrelationID != correlationID {
		return domain.Order{}, false
	}
	return existing, true
}

// reject публикует OrderInvalid через outbox вне транзакции заказа.
func (s *Service) reject(ctx context.Context, entry *log.Entry, payload events.OrderPayload, correlationID string, problems []string) (events.CreateOrderResponse, error) {
	reason := domain.NewValidationError(problems...).Error()
	now := s.clock.Now().UTC()

	orderJSON, err := json.Marshal(payload)
	if err != nil {
		orderJSON = []byte("{}")
	}
	invalid := events.OrderInvalid{
		OrderID:          payload.OrderID,
		CorrelationID:    correlationID,
		InvalidatedAt:    now,
		Reason:           reason,
		ValidationErrors: problems,
		OrderJSON:        string(orderJSON),
	}
	body, err := events.Encode(invalid)
	if err != nil {
		return events.CreateOrderResponse{}, err
	}
	if _, err := s.deps.Outbox.Enqueue(ctx, domain.OutboxRecord{
		MessageType:   string(invalid.Type()),
		AggregateID:   payload.OrderID,
		CorrelationID: correlationID,
		Priority:      events.PriorityStandard,
		Payload:       body,
		CreatedAt:     now,
	}); err != nil {
		return events.CreateOrderResponse{}, fmt.Errorf("enqueue order invalid: %w", err)
	}

	s.metrics.RecordOrderRejected()
	entry.WithField("validation_errors", problems).Warn("order rejected by validation")
	return events.CreateOrderResponse{
		IsSuccessfullyCreated: false,
		ErrorMessage:          reason,
		CorrelationID:         correlationID,
	}, nil
}

func (s *Service) buildOrder(p events.OrderPayload, correlationID string, now time.Time) domain.Order {
	// Один и тот же запрос всегда получает один и тот же идентификатор заказа.
	id := p.OrderID
	if id == "" {
		id = uuid.NewSHA1(orderIDNamespace, []byte(correlationID)).String()
	}

	items := make([]domain.OrderItem, 0, len(p.Items))
	for _, item := range p.Items {
		items = append(items, domain.OrderItem{
			SKU:         strings.TrimSpace(item.SKU),
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   item.UnitPrice.Mul(decimal.NewFromInt32(item.Quantity)),
			Status:      domain.ItemStatusPending,
		})
	}

	return domain.Order{
		ID:            id,
		CorrelationID: correlationID,
		State:         domain.OrderStateCreated,
		OrderType:     s.router.OrderType(p.ShippingAddress.Country),
		TotalAmount:   p.TotalAmount,
		Customer: domain.Customer{
			ID:           p.Customer.CustomerID,
			FirstName:    p.Customer.FirstName,
			LastName:     p.Customer.LastName,
			Email:        p.Customer.Email,
			CustomerType: p.Customer.CustomerType,
		},
		ShippingAddress: domain.ShippingAddress{
			Street:     p.ShippingAddress.Street,
			City:       p.ShippingAddress.City,
			PostalCode: p.ShippingAddress.PostalCode,
			State:      p.ShippingAddress.State,
			Country:    strings.ToUpper(strings.TrimSpace(p.ShippingAddress.Country)),
		},
		Payment: domain.Payment{
			Method:        p.Payment.Method,
			Status:        p.Payment.Status,
			TransactionID: p.Payment.TransactionID,
			Currency:      p.Payment.Currency,
			Amount:        p.Payment.Amount,
			PaidAt:        p.Payment.PaidAt,
		},
		Items:     items,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Service) appendTimeline(ctx context.Context, entry *log.Entry, event domain.TimelineEvent) {
	if s.deps.Timeline == nil {
		return
	}
	if err := s.deps.Timeline.Append(ctx, event); err != nil {
		entry.WithError(err).Warn("failed to append timeline event")
		return
	}
	s.metrics.RecordTimelineEvent()
}

// OrderView: заказ и история его статусов для трекинга.
type OrderView struct {
	Order   domain.Order
	History []domain.TimelineEvent
}

// GetOrder возвращает заказ по идентификатору вместе с историей статусов.
func (s *Service) GetOrder(ctx context.Context, id string) (OrderView, error) {
	order, err := s.deps.Orders.Get(ctx, id)
	if err != nil {
		return OrderView{}, err
	}
	return s.view(ctx, order)
}

// GetOrderByNo возвращает заказ по номеру.
func (s *Service) GetOrderByNo(ctx context.Context, orderNo int64) (OrderView, error) {
	order, err := s.deps.Orders.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return OrderView{}, err
	}
	return s.view(ctx, order)
}

func (s *Service) view(ctx context.Context, order domain.Order) (OrderView, error) {
	view := OrderView{Order: order}
	if s.deps.Timeline == nil {
		return view, nil
	}
	history, err := s.deps.Timeline.List(ctx, order.ID)
	if err != nil {
		return OrderView{}, err
	}
	view.History = history
	return view, nil
}

// requestHash: отпечаток графа заказа для проверки повторного использования correlation id.
func requestHash(order events.OrderPayload) (string, error) {
	body, err := json.Marshal(order)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}
