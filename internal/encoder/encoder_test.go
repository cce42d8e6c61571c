package encoder

import (
	"context"
	"math"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/gridzone/internal/env"
	"github.com/danielpatrickdp/gridzone/internal/grid"
)

// #region helpers

func case14Graph(t *testing.T) Graph {
	t.Helper()
	e, err := env.New(env.DefaultConfig())
	if err != nil {
		t.Fatalf("env.New: %v", err)
	}
	if _, err := e.Reset(grid.Case14(), 3, env.DefaultWeights(), 0); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	obs, _, _, _, err := e.Step(env.Action{Bus: 2, Partition: 0})
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	obs, _, _, _, err = e.Step(env.Action{Bus: 1, Partition: 1})
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	return BuildGraph(obs)
}

func newPropagation(t *testing.T) *Propagation {
	t.Helper()
	p, err := NewPropagation(DefaultPropagationConfig())
	if err != nil {
		t.Fatalf("NewPropagation: %v", err)
	}
	return p
}

// #endregion helpers

// #region graph-tests

func TestBuildGraphFeatures(t *testing.T) {
	g := case14Graph(t)
	if err := g.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(g.NodeFeatures) != 14 || len(g.Edges) != 20 {
		t.Fatalf("unexpected graph size %d/%d", len(g.NodeFeatures), len(g.Edges))
	}
	// Bus 3 (index 2) carries the largest load.
	if g.NodeFeatures[2][0] != 1 {
		t.Errorf("expected normalised load 1 for bus 3, got %f", g.NodeFeatures[2][0])
	}
	if g.NodeFeatures[2][3] != 1 || g.NodeFeatures[0][3] != 0 {
		t.Error("assigned flags wrong")
	}
	if g.NodeFeatures[2][4] != 1 {
		t.Error("bus 3 borders partition 1 and unassigned buses")
	}
	// Branch 2 is 2-3: endpoints now in different partitions.
	if g.EdgeFeatures[2][2] != 1 {
		t.Error("branch 2-3 should be marked coupling")
	}
	if g.EdgeFeatures[0][2] != 0 {
		t.Error("branch 1-2 has an unassigned endpoint")
	}
}

func TestValidateRejectsBadShapes(t *testing.T) {
	bad := []Graph{
		{NodeFeatures: [][]float64{{1, 2}}},
		{NodeFeatures: [][]float64{{0, 0, 0, 0, 0}}, Edges: [][2]int{{0, 3}}, EdgeFeatures: [][]float64{{0, 0, 0}}},
		{NodeFeatures: [][]float64{{0, 0, 0, 0, 0}}, Edges: [][2]int{{0, 0}}},
	}
	for i, g := range bad {
		if err := g.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

// #endregion graph-tests

// #region propagation-tests

func TestPropagationDeterministicAndBounded(t *testing.T) {
	g := case14Graph(t)
	a, err := newPropagation(t).Encode(context.Background(), g)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b, err := newPropagation(t).Encode(context.Background(), g)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("same seed produced different embeddings:\n%s", diff)
	}
	if len(a.Nodes) != 14 || len(a.Global) != 16 {
		t.Fatalf("unexpected shape %dx%d", len(a.Nodes), len(a.Global))
	}
	for i, row := range a.Nodes {
		for _, v := range row {
			if math.Abs(v) > 1 || math.IsNaN(v) {
				t.Fatalf("node %d value %f outside tanh range", i, v)
			}
		}
	}
}

func TestPropagationSeesAssignment(t *testing.T) {
	p := newPropagation(t)
	g := case14Graph(t)
	before, _ := p.Encode(context.Background(), g)
	g.NodeFeatures[5][3] = 1
	after, _ := p.Encode(context.Background(), g)
	if cmp.Equal(before.Global, after.Global) {
		t.Fatal("changing a node feature should change the global embedding")
	}
}

func TestPropagationHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newPropagation(t).Encode(ctx, case14Graph(t)); err == nil {
		t.Fatal("expected context error")
	}
}

// #endregion propagation-tests

// #region remote-tests

func startServer(t *testing.T, srv Server) *Remote {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	RegisterServer(s, srv)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	dialer := func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }
	r, err := NewRemote("passthrough:///bufnet", 16, 5*time.Second, grpc.WithContextDialer(dialer))
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRemoteMatchesLocal(t *testing.T) {
	local := newPropagation(t)
	remote := startServer(t, Serve(local))
	g := case14Graph(t)

	want, err := local.Encode(context.Background(), g)
	if err != nil {
		t.Fatalf("local Encode: %v", err)
	}
	got, err := remote.Encode(context.Background(), g)
	if err != nil {
		t.Fatalf("remote Encode: %v", err)
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Fatalf("remote embedding differs (-local +remote):\n%s", diff)
	}
}

type fixedServer struct {
	resp *structpb.Struct
	err  error
}

func (f fixedServer) Encode(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return f.resp, f.err
}

func TestRemoteRejectsWrongShape(t *testing.T) {
	resp, err := structpb.NewStruct(map[string]any{
		"nodes":  []any{[]any{1.0, 2.0}},
		"global": []any{1.0, 2.0},
	})
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	remote := startServer(t, fixedServer{resp: resp})
	if _, err := remote.Encode(context.Background(), case14Graph(t)); err == nil {
		t.Fatal("expected shape error")
	}
}

func TestRemotePropagatesServerError(t *testing.T) {
	remote := startServer(t, fixedServer{err: status.Error(codes.Unavailable, "model not loaded")})
	_, err := remote.Encode(context.Background(), case14Graph(t))
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("expected Unavailable, got %v", err)
	}
}

func TestNewRemoteRejectsBadDim(t *testing.T) {
	if _, err := NewRemote("localhost:0", 0, time.Second); err == nil {
		t.Fatal("expected error for zero dim")
	}
}

// #endregion remote-tests
