package handler

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-plt-auth/internal/logger"
	"github.com/pesio-ai/be-plt-auth/internal/service"
)

const ServiceName = "pesio.auth.v1.AuthService"

// SessionService is the part of service.AuthService the transport needs
type SessionService interface {
	Login(ctx context.Context, req service.LoginRequest) (*service.AuthResult, error)
	Refresh(ctx context.Context, req service.RefreshRequest) (*service.AuthResult, error)
	Logout(ctx context.Context, req service.LogoutRequest) error
	GetProfile(ctx context.Context, userID string) (*service.Profile, error)
}

// AuthServer is the gRPC surface of the session service
type AuthServer interface {
	Login(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Refresh(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Logout(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetProfile(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// GRPCHandler implements AuthServer over a SessionService
type GRPCHandler struct {
	service SessionService
	log     *logger.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(svc SessionService, log *logger.Logger) *GRPCHandler {
	return &GRPCHandler{
		service: svc,
		log:     log,
	}
}

// Register adds the auth service to a gRPC server
func Register(server grpc.ServiceRegistrar, srv AuthServer) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*AuthServer)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "Login", Handler: unary("Login", AuthServer.Login)},
			{MethodName: "Refresh", Handler: unary("Refresh", AuthServer.Refresh)},
			{MethodName: "Logout", Handler: unary("Logout", AuthServer.Logout)},
			{MethodName: "GetProfile", Handler: unary("GetProfile", AuthServer.GetProfile)},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "pesio/auth/v1/auth.proto",
	}, srv)
}

func unary(method string, call func(AuthServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + ServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AuthServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AuthServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Login handles login requests
func (h *GRPCHandler) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	email, password := strings.TrimSpace(field(req, "email")), field(req, "password")
	if email == "" || password == "" {
		return nil, status.Error(codes.InvalidArgument, "email and password are required")
	}

	res, err := h.service.Login(ctx, service.LoginRequest{
		Email:    email,
		Password: password,
		ClientIP: clientIP(ctx),
	})
	if err != nil {
		return nil, h.toStatus("Login", err)
	}
	return tokenResponse(res)
}

// Refresh handles refresh token requests
func (h *GRPCHandler) Refresh(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	token := strings.TrimSpace(field(req, "refresh_token"))
	if token == "" {
		return nil, status.Error(codes.InvalidArgument, "refresh_token is required")
	}

	res, err := h.service.Refresh(ctx, service.RefreshRequest{RefreshToken: token, ClientIP: clientIP(ctx)})
	if err != nil {
		return nil, h.toStatus("Refresh", err)
	}
	return tokenResponse(res)
}

// Logout always reports success unless the store fails
func (h *GRPCHandler) Logout(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	err := h.service.Logout(ctx, service.LogoutRequest{RefreshToken: field(req, "refresh_token"), ClientIP: clientIP(ctx)})
	if err != nil {
		return nil, h.toStatus("Logout", err)
	}
	return structpb.NewStruct(map[string]any{"success": true})
}

// GetProfile handles profile requests
func (h *GRPCHandler) GetProfile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID := strings.TrimSpace(field(req, "user_id"))
	if userID == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id is required")
	}

	p, err := h.service.GetProfile(ctx, userID)
	if err != nil {
		return nil, h.toStatus("GetProfile", err)
	}

	roles := make([]any, 0, len(p.Roles))
	for _, r := range p.Roles {
		roles = append(roles, r)
	}
	resp, err := structpb.NewStruct(map[string]any{
		"id":        p.ID,
		"email":     p.Email,
		"full_name": p.FullName,
		"roles":     roles,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

// toStatus maps service errors onto gRPC codes. Internal causes are logged
// and never sent to the caller.
func (h *GRPCHandler) toStatus(method string, err error) error {
	switch service.KindOf(err) {
	case service.KindInvalidCredentials:
		return status.Error(codes.Unauthenticated, "invalid credentials")
	case service.KindAccountLocked:
		return status.Error(codes.PermissionDenied, "account is locked")
	case service.KindInvalidRefreshToken:
		return status.Error(codes.Unauthenticated, "invalid refresh token")
	case service.KindUserNotFound:
		return status.Error(codes.NotFound, "user not found")
	}

	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	}

	h.log.Error().Err(err).Str("method", method).Msg("Request failed")
	return status.Error(codes.Internal, "internal error")
}

func tokenResponse(res *service.AuthResult) (*structpb.Struct, error) {
	resp, err := structpb.NewStruct(map[string]any{
		"access_token":             res.AccessToken,
		"access_token_expires_at":  res.AccessTokenExpiresAt.UTC().Format(time.RFC3339),
		"refresh_token":            res.RefreshToken,
		"refresh_token_expires_at": res.RefreshTokenExpiresAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

func field(req *structpb.Struct, name string) string {
	v := req.GetFields()[name]
	if v == nil {
		return ""
	}
	return v.GetStringValue()
}

// clientIP prefers the first x-forwarded-for entry and falls back to the peer address
func clientIP(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if fwd := md.Get("x-forwarded-for"); len(fwd) > 0 {
			if first := strings.TrimSpace(strings.Split(fwd[0], ",")[0]); first != "" {
				return first
			}
		}
	}
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		return p.Addr.String()
	}
	return host
}

// UnaryLogging logs each call with its status code and duration
func UnaryLogging(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		log.Info().
			Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Dur("duration", time.Since(start)).
			Msg("gRPC request")
		return resp, err
	}
}
