package sidecar

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/arturoeanton/go-pitwall-ollama/internal/port"
)

// Client implements port.TextEncoder against a remote sidecar.
type Client struct {
	addr  string
	conn  *grpc.ClientConn
	model string
}

// Dial connects to the sidecar at addr. Extra options are appended after
// insecure transport credentials.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{addr: addr, conn: conn, model: "sidecar"}, nil
}

// Close shuts down the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Info asks the sidecar which model it serves and caches the name.
func (c *Client) Info(ctx context.Context) (model string, dim int, err error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, infoMethod, &structpb.Struct{}, out); err != nil {
		return "", 0, c.wrap(err)
	}
	model = out.GetFields()["model"].GetStringValue()
	dim = int(out.GetFields()["dimension"].GetNumberValue())
	if model != "" {
		c.model = model
	}
	return model, dim, nil
}

// ModelName returns the model reported by the last Info call.
func (c *Client) ModelName() string { return c.model }

// Embed encodes one text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("sidecar embed: empty response")
	}
	return vecs[0], nil
}

// EmbedBatch encodes texts in one RPC.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	items := make([]any, len(texts))
	for i, t := range texts {
		items[i] = t
	}
	req, err := structpb.NewStruct(map[string]any{"texts": items})
	if err != nil {
		return nil, fmt.Errorf("sidecar embed: build request: %w", err)
	}

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, embedBatchMethod, req, out); err != nil {
		return nil, c.wrap(err)
	}
	vecs, err := embeddingsFrom(out)
	if err != nil {
		return nil, fmt.Errorf("sidecar embed: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("sidecar embed: got %d embeddings for %d inputs", len(vecs), len(texts))
	}
	return vecs, nil
}

// wrap classifies RPC failures: transport problems and deadlines become
// *port.ConnectivityError, everything else stays a plain error.
func (c *Client) wrap(err error) error {
	switch status.Code(err) {
	case codes.Unavailable:
		return &port.ConnectivityError{Service: "encoder-sidecar", Endpoint: c.addr, Err: err}
	case codes.DeadlineExceeded:
		return &port.ConnectivityError{Service: "encoder-sidecar", Endpoint: c.addr, Err: fmt.Errorf("%w: %v", context.DeadlineExceeded, err)}
	default:
		return fmt.Errorf("sidecar rpc: %w", err)
	}
}
