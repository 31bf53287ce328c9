// Package grpcsvc — gRPC поверхность приёма заказов: сервис
// streamflow.intake.v1.OrderIntake с JSON codec вместо protobuf.
package grpcsvc

import (
	"context"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/streamflow/internal/domain"
	"github.com/vladislavdragonenkov/streamflow/internal/events"
	"github.com/vladislavdragonenkov/streamflow/internal/service/intake"
)

const (
	// ServiceName: полное имя gRPC сервиса.
	ServiceName = "streamflow.intake.v1.OrderIntake"

	methodCreateOrder = "/" + ServiceName + "/CreateOrder"
	methodGetOrder    = "/" + ServiceName + "/GetOrder"
)

// IntakeServer: серверная сторона OrderIntake.
type IntakeServer interface {
	CreateOrder(ctx context.Context, req *events.CreateOrderRequest) (*events.CreateOrderResponse, error)
	GetOrder(ctx context.Context, req *GetOrderRequest) (*GetOrderResponse, error)
}

// RegisterIntakeServer регистрирует реализацию в gRPC сервере.
func RegisterIntakeServer(registrar grpc.ServiceRegistrar, srv IntakeServer) {
	registrar.RegisterService(&intakeServiceDesc, srv)
}

var intakeServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IntakeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateOrder", Handler: createOrderHandler},
		{MethodName: "GetOrder", Handler: getOrderHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "streamflow/intake/v1/intake",
}

func createOrderHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(events.CreateOrderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IntakeServer).CreateOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodCreateOrder}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IntakeServer).CreateOrder(ctx, req.(*events.CreateOrderRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getOrderHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetOrderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IntakeServer).GetOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetOrder}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IntakeServer).GetOrder(ctx, req.(*GetOrderRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// OrderIntakeService реализует IntakeServer поверх intake.Service.
type OrderIntakeService struct {
	service *intake.Service
	logger  *log.Entry
}

// NewOrderIntakeService конструирует сервис.
func NewOrderIntakeService(service *intake.Service, logger *log.Entry) *OrderIntakeService {
	if logger == nil {
		logger = log.WithField("component", "grpc-intake")
	}
	return &OrderIntakeService{service: service, logger: logger}
}

// CreateOrder принимает заказ. Отказ валидации возвращается в теле ответа,
// а не статусом: так ответ совпадает с ответом брокерного канала.
func (s *OrderIntakeService) CreateOrder(ctx context.Context, req *events.CreateOrderRequest) (*events.CreateOrderResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	resp, err := s.service.CreateOrder(ctx, *req)
	if err != nil {
		return nil, s.toStatus(err, "CreateOrder")
	}
	return &resp, nil
}

// GetOrder возвращает заказ и историю его статусов.
func (s *OrderIntakeService) GetOrder(ctx context.Context, req *GetOrderRequest) (*GetOrderResponse, error) {
	if req == nil || (strings.TrimSpace(req.OrderID) == "" && req.OrderNo <= 0) {
		return nil, status.Error(codes.InvalidArgument, "order_id or order_no is required")
	}

	var (
		view intake.OrderView
		err  error
	)
	if id := strings.TrimSpace(req.OrderID); id != "" {
		view, err = s.service.GetOrder(ctx, id)
	} else {
		view, err = s.service.GetOrderByNo(ctx, req.OrderNo)
	}
	if err != nil {
		return nil, s.toStatus(err, "GetOrder")
	}
	return toGetOrderResponse(view), nil
}

func (s *OrderIntakeService) toStatus(err error, operation string) error {
	switch {
	case domain.IsNotFound(err):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	case domain.IsTransient(err):
		s.logger.WithError(err).WithField("operation", operation).Warn("transient failure, client may retry")
		return status.Error(codes.Unavailable, err.Error())
	default:
		s.logger.WithError(err).WithField("operation", operation).Error("request failed")
		return status.Error(codes.Internal, "internal error")
	}
}
