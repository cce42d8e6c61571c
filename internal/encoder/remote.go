package encoder

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// EncodeMethod is the full gRPC method name served by a remote encoder.
const EncodeMethod = "/gridzone.encoder.v1.GraphEncoder/Encode"

// #region remote-client

// Remote calls a GraphEncoder service. Requests and responses are
// google.protobuf.Struct values:
//
//	request:  {"node_features": [[...]], "edge_features": [[...]], "edges": [[from, to]]}
//	response: {"nodes": [[...]], "global": [...]}
type Remote struct {
	conn    *grpc.ClientConn
	dim     int
	timeout time.Duration
}

// NewRemote connects to the encoder service at addr. dim is the embedding
// width the service must return.
func NewRemote(addr string, dim int, timeout time.Duration, opts ...grpc.DialOption) (*Remote, error) {
	if dim < 1 {
		return nil, fmt.Errorf("remote encoder: dim must be positive, got %d", dim)
	}
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Remote{conn: conn, dim: dim, timeout: timeout}, nil
}

// Close shuts down the gRPC connection.
func (r *Remote) Close() error {
	return r.conn.Close()
}

// Dim returns the expected embedding width.
func (r *Remote) Dim() int { return r.dim }

// Encode sends g to the service and validates the returned shapes.
func (r *Remote) Encode(ctx context.Context, g Graph) (Embedding, error) {
	req, err := graphToStruct(g)
	if err != nil {
		return Embedding{}, fmt.Errorf("encode request: %w", err)
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	resp := new(structpb.Struct)
	if err := r.conn.Invoke(ctx, EncodeMethod, req, resp); err != nil {
		return Embedding{}, fmt.Errorf("encode rpc: %w", err)
	}
	emb, err := structToEmbedding(resp)
	if err != nil {
		return Embedding{}, fmt.Errorf("encode response: %w", err)
	}
	if len(emb.Nodes) != len(g.NodeFeatures) {
		return Embedding{}, fmt.Errorf("encode response: %d node rows for %d buses", len(emb.Nodes), len(g.NodeFeatures))
	}
	if len(emb.Global) != r.dim {
		return Embedding{}, fmt.Errorf("encode response: global width %d, want %d", len(emb.Global), r.dim)
	}
	for i, row := range emb.Nodes {
		if len(row) != r.dim {
			return Embedding{}, fmt.Errorf("encode response: node %d width %d, want %d", i, len(row), r.dim)
		}
	}
	return emb, nil
}

// #endregion remote-client

// #region remote-server

// Server is the handler side of the GraphEncoder service.
type Server interface {
	Encode(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the GraphEncoder service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "gridzone.encoder.v1.GraphEncoder",
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Encode", Handler: encodeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gridzone/encoder/v1/encoder.proto",
}

func encodeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Encode(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: EncodeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).Encode(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Serve adapts a local Encoder to the GraphEncoder service.
func Serve(enc Encoder) Server {
	return &localServer{enc: enc}
}

// RegisterServer registers srv on s.
func RegisterServer(s *grpc.Server, srv Server) {
	s.RegisterService(&ServiceDesc, srv)
}

type localServer struct {
	enc Encoder
}

func (l *localServer) Encode(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	g, err := structToGraph(req)
	if err != nil {
		return nil, err
	}
	emb, err := l.enc.Encode(ctx, g)
	if err != nil {
		return nil, err
	}
	return embeddingToStruct(emb)
}

// #endregion remote-server

// #region wire

func graphToStruct(g Graph) (*structpb.Struct, error) {
	edges := make([]any, len(g.Edges))
	for i, e := range g.Edges {
		edges[i] = []any{float64(e[0]), float64(e[1])}
	}
	return structpb.NewStruct(map[string]any{
		"node_features": matrixToAny(g.NodeFeatures),
		"edge_features": matrixToAny(g.EdgeFeatures),
		"edges":         edges,
	})
}

func structToGraph(s *structpb.Struct) (Graph, error) {
	m := s.AsMap()
	nodes, err := anyToMatrix(m["node_features"])
	if err != nil {
		return Graph{}, fmt.Errorf("node_features: %w", err)
	}
	edgeFeat, err := anyToMatrix(m["edge_features"])
	if err != nil {
		return Graph{}, fmt.Errorf("edge_features: %w", err)
	}
	rawEdges, err := anyToMatrix(m["edges"])
	if err != nil {
		return Graph{}, fmt.Errorf("edges: %w", err)
	}
	edges := make([][2]int, len(rawEdges))
	for i, e := range rawEdges {
		if len(e) != 2 {
			return Graph{}, fmt.Errorf("edge %d has %d endpoints", i, len(e))
		}
		edges[i] = [2]int{int(e[0]), int(e[1])}
	}
	g := Graph{NodeFeatures: nodes, EdgeFeatures: edgeFeat, Edges: edges}
	return g, g.Validate()
}

func embeddingToStruct(e Embedding) (*structpb.Struct, error) {
	global := make([]any, len(e.Global))
	for i, v := range e.Global {
		global[i] = v
	}
	return structpb.NewStruct(map[string]any{
		"nodes":  matrixToAny(e.Nodes),
		"global": global,
	})
}

func structToEmbedding(s *structpb.Struct) (Embedding, error) {
	m := s.AsMap()
	nodes, err := anyToMatrix(m["nodes"])
	if err != nil {
		return Embedding{}, fmt.Errorf("nodes: %w", err)
	}
	global, err := anyToVector(m["global"])
	if err != nil {
		return Embedding{}, fmt.Errorf("global: %w", err)
	}
	return Embedding{Nodes: nodes, Global: global}, nil
}

func matrixToAny(m [][]float64) []any {
	out := make([]any, len(m))
	for i, row := range m {
		r := make([]any, len(row))
		for j, v := range row {
			r[j] = v
		}
		out[i] = r
	}
	return out
}

func anyToMatrix(v any) ([][]float64, error) {
	if v == nil {
		return nil, nil
	}
	rows, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected list, got %T", v)
	}
	out := make([][]float64, len(rows))
	for i, r := range rows {
		vec, err := anyToVector(r)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

func anyToVector(v any) ([]float64, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected list, got %T", v)
	}
	out := make([]float64, len(items))
	for i, it := range items {
		f, ok := it.(float64)
		if !ok {
			return nil, fmt.Errorf("item %d: expected number, got %T", i, it)
		}
		out[i] = f
	}
	return out, nil
}

// #endregion wire
