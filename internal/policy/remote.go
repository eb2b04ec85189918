package policy

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region wire-names
const (
	serviceName    = "hanabi.policy.v1.PolicyService"
	decideMethod   = "/" + serviceName + "/Decide"
	describeMethod = "/" + serviceName + "/Describe"

	fieldObservation     = "observation"
	fieldLegalActions    = "legal_actions"
	fieldAction          = "action"
	fieldScores          = "scores"
	fieldObservationSize = "observation_size"
	fieldNumActions      = "num_actions"
)

// #endregion wire-names

// #region client-struct
// Remote calls a policy hosted behind gRPC. Messages are google.protobuf.Struct
// values so the host needs no generated stubs.
type Remote struct {
	conn    grpc.ClientConnInterface
	closer  io.Closer
	timeout time.Duration
}

// #endregion client-struct

// #region constructor
// NewRemote connects to the policy host at addr. A positive timeout bounds
// each call.
func NewRemote(addr string, timeout time.Duration) (*Remote, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Remote{conn: conn, closer: conn, timeout: timeout}, nil
}

// NewRemoteWithConn wraps an existing connection. The caller keeps ownership
// of conn.
func NewRemoteWithConn(conn grpc.ClientConnInterface, timeout time.Duration) *Remote {
	return &Remote{conn: conn, timeout: timeout}
}

// Dial connects to addr and checks that the host was built for want. Zero
// fields of want are not checked.
func Dial(ctx context.Context, addr string, timeout time.Duration, want Shape) (*Remote, error) {
	r, err := NewRemote(addr, timeout)
	if err != nil {
		return nil, err
	}
	got, err := r.Describe(ctx)
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("describe policy at %s: %w", addr, err)
	}
	if (want.ObservationSize != 0 && got.ObservationSize != want.ObservationSize) ||
		(want.ActionCount != 0 && got.ActionCount != want.ActionCount) {
		_ = r.Close()
		return nil, fmt.Errorf("policy at %s expects %d observation cells and %d actions, want %d and %d",
			addr, got.ObservationSize, got.ActionCount, want.ObservationSize, want.ActionCount)
	}
	return r, nil
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection if Remote opened it.
func (r *Remote) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// #endregion close

// #region decide
func (r *Remote) Decide(ctx context.Context, observation []int, mask []float64) (Decision, error) {
	ctx, cancel := r.callContext(ctx)
	defer cancel()

	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldObservation:  intList(observation),
		fieldLegalActions: floatList(mask),
	}}
	resp := new(structpb.Struct)
	if err := r.conn.Invoke(ctx, decideMethod, req, resp); err != nil {
		return Decision{}, fmt.Errorf("decide rpc: %w", err)
	}

	action, err := intField(resp, fieldAction)
	if err != nil {
		return Decision{}, fmt.Errorf("decide response: %w", err)
	}
	var scores []float64
	if v, ok := resp.GetFields()[fieldScores]; ok {
		scores, err = floatsFrom(v)
		if err != nil {
			return Decision{}, fmt.Errorf("decide response %s: %w", fieldScores, err)
		}
	}
	return Decision{Action: action, Scores: scores}, nil
}

// #endregion decide

// #region describe
// Describe asks the host for the widths its model was built with.
func (r *Remote) Describe(ctx context.Context) (Shape, error) {
	ctx, cancel := r.callContext(ctx)
	defer cancel()

	resp := new(structpb.Struct)
	if err := r.conn.Invoke(ctx, describeMethod, &structpb.Struct{}, resp); err != nil {
		return Shape{}, fmt.Errorf("describe rpc: %w", err)
	}
	obs, err := intField(resp, fieldObservationSize)
	if err != nil {
		return Shape{}, fmt.Errorf("describe response: %w", err)
	}
	actions, err := intField(resp, fieldNumActions)
	if err != nil {
		return Shape{}, fmt.Errorf("describe response: %w", err)
	}
	return Shape{ObservationSize: obs, ActionCount: actions}, nil
}

// #endregion describe

// Reentrant reports true: a gRPC connection multiplexes concurrent calls.
func (r *Remote) Reentrant() bool { return true }

func (r *Remote) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout > 0 {
		return context.WithTimeout(ctx, r.timeout)
	}
	return context.WithCancel(ctx)
}

// #region struct-helpers

func intList(v []int) *structpb.Value {
	vals := make([]*structpb.Value, len(v))
	for i, x := range v {
		vals[i] = structpb.NewNumberValue(float64(x))
	}
	return structpb.NewListValue(&structpb.ListValue{Values: vals})
}

func floatList(v []float64) *structpb.Value {
	vals := make([]*structpb.Value, len(v))
	for i, x := range v {
		vals[i] = structpb.NewNumberValue(x)
	}
	return structpb.NewListValue(&structpb.ListValue{Values: vals})
}

func floatsFrom(v *structpb.Value) ([]float64, error) {
	list := v.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("not a list")
	}
	out := make([]float64, len(list.GetValues()))
	for i, e := range list.GetValues() {
		n, ok := e.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("element %d is not a number", i)
		}
		out[i] = n.NumberValue
	}
	return out, nil
}

func intsFrom(v *structpb.Value) ([]int, error) {
	fs, err := floatsFrom(v)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(fs))
	for i, f := range fs {
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return nil, fmt.Errorf("element %d is not finite", i)
		}
		out[i] = int(math.Trunc(f))
	}
	return out, nil
}

func intField(s *structpb.Struct, name string) (int, error) {
	v, ok := s.GetFields()[name]
	if !ok {
		return 0, fmt.Errorf("missing %s", name)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%s is not a number", name)
	}
	if n.NumberValue != math.Trunc(n.NumberValue) || math.IsInf(n.NumberValue, 0) {
		return 0, fmt.Errorf("%s is not an integer: %v", name, n.NumberValue)
	}
	return int(n.NumberValue), nil
}

// #endregion struct-helpers
