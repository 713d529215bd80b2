package sidecar

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/arturoeanton/go-pitwall-ollama/internal/port"
)

// Server serves an encoder over the sidecar protocol.
type Server struct {
	encoder port.TextEncoder
	dim     int
}

// NewServer wraps encoder. dim is reported by Info and may be zero if unknown.
func NewServer(encoder port.TextEncoder, dim int) *Server {
	return &Server{encoder: encoder, dim: dim}
}

// GRPCServer builds a grpc.Server with this service registered.
func (s *Server) GRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(logUnary))
	g := grpc.NewServer(opts...)
	Register(g, s)
	return g
}

// EmbedBatch implements EncoderService.
func (s *Server) EmbedBatch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	texts, err := textsFrom(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	vecs, err := s.encoder.EmbedBatch(ctx, texts)
	if err != nil {
		if port.IsRetryable(err) {
			return nil, status.Error(codes.Unavailable, err.Error())
		}
		if ctx.Err() != nil {
			return nil, status.FromContextError(ctx.Err()).Err()
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"model":      structpb.NewStringValue(s.encoder.ModelName()),
		"embeddings": embeddingsValue(vecs),
	}}, nil
}

// Info implements EncoderService.
func (s *Server) Info(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"model":     structpb.NewStringValue(s.encoder.ModelName()),
		"dimension": structpb.NewNumberValue(float64(s.dim)),
	}}, nil
}

func logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		slog.Warn("⚠️ encoder rpc failed", "method", info.FullMethod, "error", err, "duration", time.Since(start))
	} else {
		slog.Debug("encoder rpc", "method", info.FullMethod, "duration", time.Since(start))
	}
	return resp, err
}
