package broadcaster

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
)

// jsonCodec lets grpc carry our plain Go structs without generated
// protobuf bindings for a service whose .proto is owned by the external
// broadcaster (out of scope per spec §1) — the same bypass-the-generated-
// decoder idea as the teacher's raw gRPC fallback connection in
// internal/flow/client.go, just using JSON instead of JSON-CDC.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// GRPCClient is the thin gRPC transport to the external broadcaster
// service. The core never interprets the broadcaster's own scheduling or
// bundle-ordering logic (MEV strategy is an explicit non-goal); it only
// submits requests and listens for terminal outcomes.
type GRPCClient struct {
	conn     *grpc.ClientConn
	outcomes chan Outcome
	cancel   context.CancelFunc
}

// DialGRPC connects to the broadcaster at target and starts the outcome
// stream in the background.
func DialGRPC(ctx context.Context, target string) (*GRPCClient, error) {
	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodec{}.Name())),
	)
	if err != nil {
		return nil, fmt.Errorf("dial broadcaster %s: %w", target, err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	c := &GRPCClient{conn: conn, outcomes: make(chan Outcome, 256), cancel: cancel}
	go c.streamOutcomes(streamCtx)
	return c, nil
}

// Submit hands one transaction request to the broadcaster's unary Submit
// RPC.
func (c *GRPCClient) Submit(ctx context.Context, req TransactionRequest) error {
	var reply struct{}
	if err := c.conn.Invoke(ctx, "/broadcaster.Broadcaster/Submit", &req, &reply); err != nil {
		return fmt.Errorf("broadcaster submit: %w", err)
	}
	return nil
}

// streamOutcomes maintains the broadcaster's server-streaming Outcomes
// RPC, retrying on disconnect the same way the teacher's listen loop
// reopens a dropped subscription.
func (c *GRPCClient) streamOutcomes(ctx context.Context) {
	defer close(c.outcomes)
	for {
		if ctx.Err() != nil {
			return
		}
		stream, err := c.conn.NewStream(ctx, &grpc.StreamDesc{ServerStreams: true}, "/broadcaster.Broadcaster/Outcomes")
		if err != nil {
			log.Printf("[broadcaster] open outcome stream: %v", err)
			continue
		}
		for {
			var out Outcome
			if err := stream.RecvMsg(&out); err != nil {
				log.Printf("[broadcaster] outcome stream closed: %v", err)
				break
			}
			select {
			case c.outcomes <- out:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *GRPCClient) Outcomes() <-chan Outcome { return c.outcomes }

func (c *GRPCClient) Close() error {
	c.cancel()
	return c.conn.Close()
}

var _ Broadcaster = (*GRPCClient)(nil)
