package grpc

import (
	"context"

	"github.com/dmitrijs2005/tontineledger/internal/server/services"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// serve runs fn with the caller's metadata and encodes its result.
func (s *GRPCServer) serve(ctx context.Context, name string, fn func(meta services.RequestMeta) (map[string]any, error)) (*structpb.Struct, error) {
	meta, ok := metaFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	out, err := fn(meta)
	if err != nil {
		if codeFor(err) == codes.Internal {
			s.logger.Error(ctx, "internal error", "method", name, "error", err.Error(), "correlation_id", meta.CorrelationID)
		}
		return nil, toStatus(err)
	}

	resp, err := structpb.NewStruct(out)
	if err != nil {
		s.logger.Error(ctx, "encode response", "method", name, "error", err.Error())
		return nil, status.Error(codes.Internal, "internal error")
	}
	return resp, nil
}

func (s *GRPCServer) CreateGroup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.serve(ctx, "CreateGroup", func(meta services.RequestMeta) (map[string]any, error) {
		in := services.CreateGroupInput{Currency: optionalString(req, "currency")}
		var err error
		if in.Name, err = stringField(req, "name"); err != nil {
			return nil, err
		}
		if in.ContributionAmount, err = decimalField(req, "contribution_amount", true); err != nil {
			return nil, err
		}
		if in.Frequency, err = stringField(req, "frequency"); err != nil {
			return nil, err
		}
		if in.MaxMembers, err = intField(req, "max_members"); err != nil {
			return nil, err
		}
		if in.SecurityCode, err = stringField(req, "security_code"); err != nil {
			return nil, err
		}

		g, err := s.tontine.CreateGroup(ctx, meta, in)
		if err != nil {
			return nil, err
		}
		return map[string]any{"group": groupMap(g)}, nil
	})
}

func (s *GRPCServer) JoinGroup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.serve(ctx, "JoinGroup", func(meta services.RequestMeta) (map[string]any, error) {
		groupID, err := stringField(req, "group_id")
		if err != nil {
			return nil, err
		}
		code, err := stringField(req, "security_code")
		if err != nil {
			return nil, err
		}
		m, err := s.tontine.JoinGroup(ctx, meta, groupID, code)
		if err != nil {
			return nil, err
		}
		return map[string]any{"member": memberMap(m)}, nil
	})
}

func (s *GRPCServer) Contribute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.serve(ctx, "Contribute", func(meta services.RequestMeta) (map[string]any, error) {
		groupID, err := stringField(req, "group_id")
		if err != nil {
			return nil, err
		}
		amount, err := decimalField(req, "amount", false)
		if err != nil {
			return nil, err
		}
		res, err := s.tontine.Contribute(ctx, meta, groupID, amount)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"cycle":            cycleMap(res.Cycle),
			"fee_amount":       money(res.Fee.FeeAmount),
			"penalty":          money(res.Penalty),
			"late":             res.Late,
			"reputation_event": string(res.Reputation),
		}, nil
	})
}

func (s *GRPCServer) RequestWithdraw(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.serve(ctx, "RequestWithdraw", func(meta services.RequestMeta) (map[string]any, error) {
		groupID, err := stringField(req, "group_id")
		if err != nil {
			return nil, err
		}
		amount, err := decimalField(req, "amount", true)
		if err != nil {
			return nil, err
		}
		code, err := stringField(req, "security_code")
		if err != nil {
			return nil, err
		}
		r, err := s.tontine.RequestWithdraw(ctx, meta, groupID, amount, code)
		if err != nil {
			return nil, err
		}
		return map[string]any{"request": requestMap(r)}, nil
	})
}

func (s *GRPCServer) Vote(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.serve(ctx, "Vote", func(meta services.RequestMeta) (map[string]any, error) {
		groupID, err := stringField(req, "group_id")
		if err != nil {
			return nil, err
		}
		requestID, err := stringField(req, "request_id")
		if err != nil {
			return nil, err
		}
		approve, err := boolField(req, "approve")
		if err != nil {
			return nil, err
		}
		out, err := s.tontine.Vote(ctx, meta, groupID, requestID, approve)
		if err != nil {
			return nil, err
		}
		resp := map[string]any{
			"request":  requestMap(out.Request),
			"votes":    len(out.Votes),
			"members":  out.Members,
			"executed": out.Executed,
		}
		if out.Cycle != nil {
			resp["cycle"] = cycleMap(out.Cycle)
		}
		return resp, nil
	})
}

func (s *GRPCServer) UpdateFrequency(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.serve(ctx, "UpdateFrequency", func(meta services.RequestMeta) (map[string]any, error) {
		groupID, err := stringField(req, "group_id")
		if err != nil {
			return nil, err
		}
		frequency, err := stringField(req, "frequency")
		if err != nil {
			return nil, err
		}
		g, err := s.tontine.UpdateFrequency(ctx, meta, groupID, frequency)
		if err != nil {
			return nil, err
		}
		return map[string]any{"group": groupMap(g)}, nil
	})
}

func (s *GRPCServer) EvaluateRisk(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.serve(ctx, "EvaluateRisk", func(meta services.RequestMeta) (map[string]any, error) {
		groupID, err := stringField(req, "group_id")
		if err != nil {
			return nil, err
		}
		a, err := s.tontine.EvaluateRisk(ctx, meta, groupID)
		if err != nil {
			return nil, err
		}
		return riskMap(a), nil
	})
}

func (s *GRPCServer) GetGroup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.serve(ctx, "GetGroup", func(services.RequestMeta) (map[string]any, error) {
		groupID, err := stringField(req, "group_id")
		if err != nil {
			return nil, err
		}
		view, err := s.tontine.GetGroup(ctx, groupID)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"group":              groupMap(view.Group),
			"members":            membersList(view.Members),
			"escrow_balance":     money(view.EscrowBalance),
			"commission_balance": money(view.CommissionBalance),
		}, nil
	})
}

func (s *GRPCServer) GetWithdrawRequest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.serve(ctx, "GetWithdrawRequest", func(services.RequestMeta) (map[string]any, error) {
		requestID, err := stringField(req, "request_id")
		if err != nil {
			return nil, err
		}
		r, votes, err := s.tontine.GetWithdrawRequest(ctx, requestID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"request": requestMap(r), "votes": votesList(votes)}, nil
	})
}

// VerifyAudit reports chain findings in the response body; a broken chain
// is not a transport error.
func (s *GRPCServer) VerifyAudit(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return s.serve(ctx, "VerifyAudit", func(services.RequestMeta) (map[string]any, error) {
		report, err := s.audit.VerifyIntegrity(ctx)
		if err != nil {
			return nil, err
		}
		return reportMap(report), nil
	})
}
