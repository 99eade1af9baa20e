package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rl1809/cart-sync/internal/core/domain"
	"github.com/rl1809/cart-sync/internal/core/pricing"
	"github.com/rl1809/cart-sync/internal/core/service"
	"github.com/rl1809/cart-sync/internal/core/signal"
)

const CartServiceName = "cartsync.v1.CartService"

// CartServer is the gRPC face of the cart. Messages are generic structs
// carrying the same JSON shapes as the HTTP API; session and tab travel
// in the request or as x-session-id / x-tab-id metadata.
type CartServer interface {
	GetCart(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AddItem(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetQuantity(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemoveItem(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ClearCart(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Watch(*structpb.Struct, grpc.ServerStream) error
}

var CartServiceDesc = grpc.ServiceDesc{
	ServiceName: CartServiceName,
	HandlerType: (*CartServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetCart", Handler: unary("GetCart", CartServer.GetCart)},
		{MethodName: "AddItem", Handler: unary("AddItem", CartServer.AddItem)},
		{MethodName: "SetQuantity", Handler: unary("SetQuantity", CartServer.SetQuantity)},
		{MethodName: "RemoveItem", Handler: unary("RemoveItem", CartServer.RemoveItem)},
		{MethodName: "ClearCart", Handler: unary("ClearCart", CartServer.ClearCart)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "cartsync/v1/cart.proto",
}

func RegisterCartServer(s grpc.ServiceRegistrar, srv CartServer) {
	s.RegisterService(&CartServiceDesc, srv)
}

type unaryCall func(CartServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(method string, call unaryCall) grpc.MethodHandler {
	fullMethod := "/" + CartServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CartServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(CartServer), ctx, req.(*structpb.Struct))
		})
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(CartServer).Watch(in, stream)
}

type GRPCHandler struct {
	carts     *service.CartService
	prefs     *service.PreferenceService
	inventory *service.InventoryPoller
	signals   *signal.Hub
	log       *zap.Logger
}

func NewGRPCHandler(carts *service.CartService, prefs *service.PreferenceService, inventory *service.InventoryPoller, signals *signal.Hub, log *zap.Logger) *GRPCHandler {
	return &GRPCHandler{carts: carts, prefs: prefs, inventory: inventory, signals: signals, log: log}
}

func (h *GRPCHandler) GetCart(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	scope, err := grpcScope(ctx, req)
	if err != nil {
		return nil, err
	}
	return cartStruct(h.carts.Get(ctx, scope.Session))
}

func (h *GRPCHandler) AddItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	scope, err := grpcScope(ctx, req)
	if err != nil {
		return nil, err
	}

	unit, err := domain.ParseUnit(stringField(req, "unit"))
	if err != nil {
		return nil, grpcError(err)
	}
	item := domain.CartItem{
		Key:   stringField(req, "key"),
		Name:  stringField(req, "name"),
		Price: int64(numberField(req, "price")),
		Unit:  unit,
		Image: stringField(req, "image"),
	}
	if item.Key == "" && item.Name == "" {
		return nil, status.Error(codes.InvalidArgument, "missing item key or name")
	}
	item, err = catalogItem(h.inventory.Snapshot(), h.prefs.Language(ctx, scope.Session), item)
	if err != nil {
		return nil, grpcError(err)
	}

	quantity := int(numberField(req, "quantity"))
	if _, ok := req.GetFields()["quantity"]; !ok {
		quantity = 1
	}

	cart, err := h.carts.Add(ctx, scope, item, quantity)
	if err != nil {
		return nil, grpcError(err)
	}
	return cartStruct(cart)
}

func (h *GRPCHandler) SetQuantity(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	scope, err := grpcScope(ctx, req)
	if err != nil {
		return nil, err
	}
	cart, err := h.carts.SetQuantity(ctx, scope, domain.Identity(stringField(req, "id")), int(numberField(req, "quantity")))
	if err != nil {
		return nil, grpcError(err)
	}
	return cartStruct(cart)
}

func (h *GRPCHandler) RemoveItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	scope, err := grpcScope(ctx, req)
	if err != nil {
		return nil, err
	}
	cart, err := h.carts.Remove(ctx, scope, domain.Identity(stringField(req, "id")))
	if err != nil {
		return nil, grpcError(err)
	}
	return cartStruct(cart)
}

func (h *GRPCHandler) ClearCart(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	scope, err := grpcScope(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := h.carts.Clear(ctx, scope); err != nil {
		return nil, grpcError(err)
	}
	return cartStruct(domain.Cart{})
}

// Watch streams the tab's signals until the client cancels.
func (h *GRPCHandler) Watch(req *structpb.Struct, stream grpc.ServerStream) error {
	scope, err := grpcScope(stream.Context(), req)
	if err != nil {
		return err
	}

	for sig := range h.signals.Watch(stream.Context(), scope) {
		msg, err := toStruct(sig)
		if err != nil {
			return status.Error(codes.Internal, err.Error())
		}
		if err := stream.SendMsg(msg); err != nil {
			h.log.Debug("watch stream closed", zap.String("tab", scope.Tab), zap.Error(err))
			return err
		}
	}
	return nil
}

func grpcScope(ctx context.Context, req *structpb.Struct) (domain.Scope, error) {
	scope := domain.Scope{
		Session: stringField(req, "session"),
		Tab:     stringField(req, "tab"),
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if scope.Session == "" {
			scope.Session = firstValue(md, "x-session-id")
		}
		if scope.Tab == "" {
			scope.Tab = firstValue(md, "x-tab-id")
		}
	}
	if scope.Session == "" || scope.Tab == "" {
		return scope, status.Error(codes.InvalidArgument, "session and tab are required")
	}
	return scope, nil
}

func firstValue(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

func stringField(s *structpb.Struct, name string) string {
	return s.GetFields()[name].GetStringValue()
}

func numberField(s *structpb.Struct, name string) float64 {
	return s.GetFields()[name].GetNumberValue()
}

func cartStruct(cart domain.Cart) (*structpb.Struct, error) {
	items := cart.Items
	if items == nil {
		items = []domain.CartItem{}
	}
	msg, err := toStruct(CartResponse{Items: items, Quote: pricing.CartQuote(cart)})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return msg, nil
}

// toStruct goes through JSON so gRPC clients see the HTTP field names.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("not an object: %w", err)
	}
	return structpb.NewStruct(m)
}

func grpcError(err error) error {
	code, message := errorStatus(err)
	switch code {
	case http.StatusBadRequest:
		return status.Error(codes.InvalidArgument, message)
	case http.StatusNotFound:
		return status.Error(codes.NotFound, message)
	case http.StatusConflict:
		return status.Error(codes.Aborted, message)
	case http.StatusUnprocessableEntity:
		return status.Error(codes.FailedPrecondition, message)
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return status.Error(codes.Unavailable, message)
	}
	return status.Error(codes.Internal, message)
}
