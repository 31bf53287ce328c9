package grpcsvc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/vladislavdragonenkov/streamflow/internal/events"
)

// IntakeClient: клиент OrderIntake, использующий JSON codec.
type IntakeClient struct {
	conn grpc.ClientConnInterface
}

// NewIntakeClient создаёт клиента поверх установленного соединения.
func NewIntakeClient(conn grpc.ClientConnInterface) *IntakeClient {
	return &IntakeClient{conn: conn}
}

// CreateOrder вызывает OrderIntake/CreateOrder.
func (c *IntakeClient) CreateOrder(ctx context.Context, req *events.CreateOrderRequest, opts ...grpc.CallOption) (*events.CreateOrderResponse, error) {
	out := new(events.CreateOrderResponse)
	if err := c.conn.Invoke(ctx, methodCreateOrder, req, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetOrder вызывает OrderIntake/GetOrder.
func (c *IntakeClient) GetOrder(ctx context.Context, req *GetOrderRequest, opts ...grpc.CallOption) (*GetOrderResponse, error) {
	out := new(GetOrderResponse)
	if err := c.conn.Invoke(ctx, methodGetOrder, req, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}
