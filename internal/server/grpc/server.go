// Package grpc is the transport adapter of the ledger. The service is
// described by hand and exchanges google.protobuf.Struct messages, so no
// generated code is needed.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/tontineledger/internal/logging"
	"github.com/dmitrijs2005/tontineledger/internal/server/models"
	"github.com/dmitrijs2005/tontineledger/internal/server/services"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "tontine.v1.TontineService"

// Tontine is the part of *services.TontineService exposed over gRPC.
type Tontine interface {
	CreateGroup(ctx context.Context, meta services.RequestMeta, in services.CreateGroupInput) (*models.Group, error)
	JoinGroup(ctx context.Context, meta services.RequestMeta, groupID, code string) (*models.Member, error)
	Contribute(ctx context.Context, meta services.RequestMeta, groupID string, amount decimal.Decimal) (*services.ContributionResult, error)
	RequestWithdraw(ctx context.Context, meta services.RequestMeta, groupID string, amount decimal.Decimal, code string) (*models.WithdrawRequest, error)
	Vote(ctx context.Context, meta services.RequestMeta, groupID, requestID string, approve bool) (*services.VoteOutcome, error)
	UpdateFrequency(ctx context.Context, meta services.RequestMeta, groupID, frequency string) (*models.Group, error)
	EvaluateRisk(ctx context.Context, meta services.RequestMeta, groupID string) (*services.RiskAssessment, error)
	GetGroup(ctx context.Context, groupID string) (*services.GroupView, error)
	GetWithdrawRequest(ctx context.Context, requestID string) (*models.WithdrawRequest, []*models.Vote, error)
}

// Auditor verifies the audit chain.
type Auditor interface {
	VerifyIntegrity(ctx context.Context) (*services.IntegrityReport, error)
}

// TontineServer is the handler type registered for ServiceName.
type TontineServer interface {
	CreateGroup(context.Context, *structpb.Struct) (*structpb.Struct, error)
	JoinGroup(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Contribute(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RequestWithdraw(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Vote(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateFrequency(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EvaluateRisk(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetGroup(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetWithdrawRequest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifyAudit(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type GRPCServer struct {
	address   string
	tontine   Tontine
	audit     Auditor
	logger    logging.Logger
	jwtSecret []byte
}

func NewGRPCServer(a string, l logging.Logger, t Tontine, audit Auditor, secretKey string) *GRPCServer {
	return &GRPCServer{
		address:   a,
		logger:    l.With("module", "grpc_server"),
		tontine:   t,
		audit:     audit,
		jwtSecret: []byte(secretKey),
	}
}

type unaryCall func(s TontineServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

func method(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(TontineServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*structpb.Struct))
			})
		},
	}
}

// ServiceDesc describes tontine.v1.TontineService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TontineServer)(nil),
	Methods: []grpc.MethodDesc{
		method("CreateGroup", TontineServer.CreateGroup),
		method("JoinGroup", TontineServer.JoinGroup),
		method("Contribute", TontineServer.Contribute),
		method("RequestWithdraw", TontineServer.RequestWithdraw),
		method("Vote", TontineServer.Vote),
		method("UpdateFrequency", TontineServer.UpdateFrequency),
		method("EvaluateRisk", TontineServer.EvaluateRisk),
		method("GetGroup", TontineServer.GetGroup),
		method("GetWithdrawRequest", TontineServer.GetWithdrawRequest),
		method("VerifyAudit", TontineServer.VerifyAudit),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tontine/v1/tontine.proto",
}

// Register adds the service to srv.
func (s *GRPCServer) Register(srv *grpc.Server) {
	srv.RegisterService(&ServiceDesc, s)
}

// NewServer returns a grpc.Server with the interceptors installed and the
// service registered.
func (s *GRPCServer) NewServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor, s.accessTokenInterceptor))
	s.Register(srv)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := s.NewServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", s.address)

	// starts accepting incoming connections
	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}
