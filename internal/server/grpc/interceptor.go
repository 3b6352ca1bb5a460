package grpc

import (
	"context"
	"time"

	"github.com/dmitrijs2005/tontineledger/internal/common"
	"github.com/dmitrijs2005/tontineledger/internal/server/auth"
	"github.com/dmitrijs2005/tontineledger/internal/server/services"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ctxKey string

const metaKey ctxKey = "requestMeta"

func firstValue(md metadata.MD, key string) string {
	if values := md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}

// accessTokenInterceptor authenticates every call and stores the caller's
// RequestMeta in the context. The correlation id is generated when the
// client sends none.
func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	md, _ := metadata.FromIncomingContext(ctx)

	accessToken := firstValue(md, common.AccessTokenHeaderName)
	if len(accessToken) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	actorID, err := auth.GetActorIDFromToken(accessToken, s.jwtSecret)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}

	meta := services.RequestMeta{
		ActorID:        actorID,
		IdempotencyKey: firstValue(md, common.IdempotencyKeyHeaderName),
		CorrelationID:  firstValue(md, common.CorrelationIDHeaderName),
	}
	if meta.CorrelationID == "" {
		meta.CorrelationID = uuid.NewString()
	}

	return handler(context.WithValue(ctx, metaKey, meta), req)
}

func metaFromContext(ctx context.Context) (services.RequestMeta, bool) {
	meta, ok := ctx.Value(metaKey).(services.RequestMeta)
	return meta, ok
}

func (s *GRPCServer) loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	code := status.Code(err)

	args := []any{"method", info.FullMethod, "code", code.String(), "duration", time.Since(start)}
	switch code {
	case codes.OK:
		s.logger.Info(ctx, "request served", args...)
	case codes.Internal, codes.DataLoss, codes.Unknown:
		s.logger.Error(ctx, "request failed", args...)
	default:
		s.logger.Warn(ctx, "request rejected", args...)
	}
	return resp, err
}
