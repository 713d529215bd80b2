// Package sidecar exposes a port.TextEncoder over gRPC so a single process
// can hold the model while several pitwall processes share it.
//
// Messages are google.protobuf.Struct values:
//
//	EmbedBatch  {"texts": [string...]}  -> {"model": string, "embeddings": [[number...]...]}
//	Info        {}                      -> {"model": string, "dimension": number}
package sidecar

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName      = "pitwall.encoder.v1.Encoder"
	embedBatchMethod = "/" + serviceName + "/EmbedBatch"
	infoMethod       = "/" + serviceName + "/Info"
)

// EncoderService is the server side of the sidecar protocol.
type EncoderService interface {
	EmbedBatch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Info(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*EncoderService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "EmbedBatch", Handler: embedBatchHandler},
		{MethodName: "Info", Handler: infoHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pitwall/encoder/v1/encoder.proto",
}

// Register attaches svc to s.
func Register(s grpc.ServiceRegistrar, svc EncoderService) {
	s.RegisterService(&serviceDesc, svc)
}

func embedBatchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EncoderService).EmbedBatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: embedBatchMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EncoderService).EmbedBatch(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func infoHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EncoderService).Info(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: infoMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EncoderService).Info(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func textsFrom(req *structpb.Struct) ([]string, error) {
	field, ok := req.GetFields()["texts"]
	if !ok {
		return nil, fmt.Errorf("missing field: texts")
	}
	list := field.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("texts must be a list")
	}
	texts := make([]string, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		s, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, fmt.Errorf("texts[%d] is not a string", i)
		}
		texts = append(texts, s.StringValue)
	}
	return texts, nil
}

func embeddingsValue(vecs [][]float32) *structpb.Value {
	rows := make([]*structpb.Value, len(vecs))
	for i, vec := range vecs {
		cols := make([]*structpb.Value, len(vec))
		for j, x := range vec {
			cols[j] = structpb.NewNumberValue(float64(x))
		}
		rows[i] = structpb.NewListValue(&structpb.ListValue{Values: cols})
	}
	return structpb.NewListValue(&structpb.ListValue{Values: rows})
}

func embeddingsFrom(resp *structpb.Struct) ([][]float32, error) {
	list := resp.GetFields()["embeddings"].GetListValue()
	if list == nil {
		return nil, fmt.Errorf("response has no embeddings list")
	}
	out := make([][]float32, len(list.GetValues()))
	for i, row := range list.GetValues() {
		cols := row.GetListValue()
		if cols == nil {
			return nil, fmt.Errorf("embeddings[%d] is not a list", i)
		}
		vec := make([]float32, len(cols.GetValues()))
		for j, c := range cols.GetValues() {
			n, ok := c.GetKind().(*structpb.Value_NumberValue)
			if !ok {
				return nil, fmt.Errorf("embeddings[%d][%d] is not a number", i, j)
			}
			vec[j] = float32(n.NumberValue)
		}
		out[i] = vec
	}
	return out, nil
}
