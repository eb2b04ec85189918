package policy

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region service-desc
// policyServer is the handler type for the hand-written service descriptor.
type policyServer interface {
	decide(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	describe(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*policyServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Decide", Handler: decideHandler},
		{MethodName: "Describe", Handler: describeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hanabi/policy/v1/policy.proto",
}

func decideHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(policyServer).decide(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: decideMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(policyServer).decide(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func describeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(policyServer).describe(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: describeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(policyServer).describe(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// #endregion service-desc

// #region register
type service struct {
	policy Policy
	shape  Shape
}

// RegisterService exposes p on s under the hanabi.policy.v1.PolicyService name.
func RegisterService(s grpc.ServiceRegistrar, p Policy, shape Shape) {
	s.RegisterService(&serviceDesc, &service{policy: p, shape: shape})
}

// #endregion register

// #region handlers
func (s *service) decide(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	obsVal, ok := req.GetFields()[fieldObservation]
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "missing %s", fieldObservation)
	}
	maskVal, ok := req.GetFields()[fieldLegalActions]
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "missing %s", fieldLegalActions)
	}
	obs, err := intsFrom(obsVal)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%s: %v", fieldObservation, err)
	}
	mask, err := floatsFrom(maskVal)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%s: %v", fieldLegalActions, err)
	}
	if s.shape.ObservationSize > 0 && len(obs) != s.shape.ObservationSize {
		return nil, status.Errorf(codes.InvalidArgument, "observation length %d, want %d", len(obs), s.shape.ObservationSize)
	}
	if s.shape.ActionCount > 0 && len(mask) != s.shape.ActionCount {
		return nil, status.Errorf(codes.InvalidArgument, "mask length %d, want %d", len(mask), s.shape.ActionCount)
	}

	d, err := s.policy.Decide(ctx, obs, mask)
	switch {
	case errors.Is(err, ErrNoLegalAction):
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, status.FromContextError(err).Err()
	case err != nil:
		return nil, status.Errorf(codes.Internal, "decide: %v", err)
	}

	out := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldAction: structpb.NewNumberValue(float64(d.Action)),
	}}
	if d.Scores != nil {
		out.Fields[fieldScores] = floatList(d.Scores)
	}
	return out, nil
}

func (s *service) describe(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldObservationSize: structpb.NewNumberValue(float64(s.shape.ObservationSize)),
		fieldNumActions:      structpb.NewNumberValue(float64(s.shape.ActionCount)),
	}}, nil
}

// #endregion handlers
