package rpc

import (
	"context"
	"errors"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/wfunc/babyfoot/apperr"
	"github.com/wfunc/babyfoot/auth"
	"github.com/wfunc/babyfoot/broadcast"
	"github.com/wfunc/babyfoot/game"
	"github.com/wfunc/babyfoot/logger"
	"github.com/wfunc/babyfoot/models"
	"github.com/wfunc/babyfoot/network"
	"github.com/wfunc/babyfoot/persistence"
	"github.com/wfunc/babyfoot/services"
)

const ServiceName = "babyfoot.Matchday"

// 调用方身份放在 metadata 中，与 HTTP 请求头同名
const (
	MetadataUserID    = "x-user-id"
	MetadataUsername  = "x-username"
	MetadataAvatarURL = "x-avatar-url"
)

// watchBuffer 超过该数量未发送的快照时断开 Watch
const watchBuffer = 64

var errNoIdentity = status.Error(codes.Unauthenticated, "missing "+MetadataUserID)

type IDRequest struct {
	ID string `json:"id"`
}

type CreateSessionRequest struct {
	Format   models.Format `json:"format"`
	VenueRef string        `json:"venueRef,omitempty"`
}

// JoinSessionRequest joins by SessionID, or by PinCode when SessionID is empty.
type JoinSessionRequest struct {
	SessionID string `json:"sessionId,omitempty"`
	PinCode   string `json:"pinCode,omitempty"`
}

type StartSessionRequest struct {
	SessionID string                `json:"sessionId"`
	Start     services.StartRequest `json:"start"`
}

type RecordGoalRequest struct {
	GameID string         `json:"gameId"`
	Goal   game.GoalInput `json:"goal"`
}

type MatchResultRequest struct {
	TournamentID string            `json:"tournamentId"`
	MatchID      string            `json:"matchId"`
	Score        models.MatchScore `json:"score"`
	WinnerTeamID string            `json:"winnerTeamId,omitempty"`
}

type WatchRequest = network.SubscribeRequest

// MatchdayServer is the server API of the Matchday service.
type MatchdayServer interface {
	CreateSession(context.Context, *CreateSessionRequest) (*models.Session, error)
	JoinSession(context.Context, *JoinSessionRequest) (*models.Session, error)
	GetSession(context.Context, *IDRequest) (*models.Session, error)
	StartSession(context.Context, *StartSessionRequest) (*services.StartResult, error)
	RecordGoal(context.Context, *RecordGoalRequest) (*models.Game, error)
	RetractLastGoal(context.Context, *IDRequest) (*models.Game, error)
	FinishGame(context.Context, *IDRequest) (*models.Game, error)
	AbandonGame(context.Context, *IDRequest) (*models.Game, error)
	GetGame(context.Context, *IDRequest) (*models.Game, error)
	GetTournament(context.Context, *IDRequest) (*models.Tournament, error)
	IngestMatchResult(context.Context, *MatchResultRequest) (*models.Tournament, error)
	Watch(*WatchRequest, grpc.ServerStream) error
}

// Service exposes the coordinator over gRPC.
type Service struct {
	coordinator *services.Coordinator
	store       persistence.Store
	verifier    *auth.Verifier
}

// NewService builds the service; verifier may be nil.
func NewService(coordinator *services.Coordinator, store persistence.Store, verifier *auth.Verifier) *Service {
	return &Service{coordinator: coordinator, store: store, verifier: verifier}
}

// player reads the caller from the "authorization" bearer token when a
// verifier is configured, otherwise from the x-user-* metadata.
func (s *Service) player(ctx context.Context) (models.Player, bool) {
	md, _ := metadata.FromIncomingContext(ctx)
	first := func(key string) string {
		if v := md.Get(key); len(v) > 0 {
			return v[0]
		}
		return ""
	}
	if s.verifier != nil {
		token, ok := auth.BearerToken(first("authorization"))
		if !ok {
			return models.Player{}, false
		}
		p, err := s.verifier.Player(token)
		if err != nil {
			logger.Log.Debugw("rejected rpc token", "error", err)
			return models.Player{}, false
		}
		return p, true
	}
	p := models.Player{
		UserID:    first(MetadataUserID),
		Username:  first(MetadataUsername),
		AvatarURL: first(MetadataAvatarURL),
	}
	if p.Username == "" {
		p.Username = p.UserID
	}
	return p, p.UserID != ""
}

// toStatus maps error kinds to gRPC codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch apperr.Kind(err) {
	case apperr.ErrNotFound:
		return status.Error(codes.NotFound, err.Error())
	case apperr.ErrConflict:
		return status.Error(codes.FailedPrecondition, err.Error())
	case apperr.ErrUnauthorized:
		return status.Error(codes.PermissionDenied, err.Error())
	case apperr.ErrStoreUnavailable:
		return status.Error(codes.Unavailable, err.Error())
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	return status.Error(codes.Internal, err.Error())
}

func (s *Service) CreateSession(ctx context.Context, req *CreateSessionRequest) (*models.Session, error) {
	p, ok := s.player(ctx)
	if !ok {
		return nil, errNoIdentity
	}
	return s.coordinator.CreateSession(ctx, p, req.VenueRef, req.Format)
}

func (s *Service) JoinSession(ctx context.Context, req *JoinSessionRequest) (*models.Session, error) {
	p, ok := s.player(ctx)
	if !ok {
		return nil, errNoIdentity
	}
	return s.coordinator.JoinSession(ctx, req.SessionID, req.PinCode, p)
}

func (s *Service) GetSession(ctx context.Context, req *IDRequest) (*models.Session, error) {
	return s.coordinator.Sessions().Get(ctx, req.ID)
}

func (s *Service) StartSession(ctx context.Context, req *StartSessionRequest) (*services.StartResult, error) {
	p, ok := s.player(ctx)
	if !ok {
		return nil, errNoIdentity
	}
	return s.coordinator.StartSession(ctx, req.SessionID, p.UserID, req.Start)
}

func (s *Service) RecordGoal(ctx context.Context, req *RecordGoalRequest) (*models.Game, error) {
	if _, ok := s.player(ctx); !ok {
		return nil, errNoIdentity
	}
	return s.coordinator.RecordGoal(ctx, req.GameID, req.Goal)
}

func (s *Service) RetractLastGoal(ctx context.Context, req *IDRequest) (*models.Game, error) {
	if _, ok := s.player(ctx); !ok {
		return nil, errNoIdentity
	}
	return s.coordinator.RetractLastGoal(ctx, req.ID)
}

func (s *Service) FinishGame(ctx context.Context, req *IDRequest) (*models.Game, error) {
	if _, ok := s.player(ctx); !ok {
		return nil, errNoIdentity
	}
	return s.coordinator.FinishGame(ctx, req.ID)
}

func (s *Service) AbandonGame(ctx context.Context, req *IDRequest) (*models.Game, error) {
	if _, ok := s.player(ctx); !ok {
		return nil, errNoIdentity
	}
	return s.coordinator.AbandonGame(ctx, req.ID)
}

func (s *Service) GetGame(ctx context.Context, req *IDRequest) (*models.Game, error) {
	return s.coordinator.Games().Get(ctx, req.ID)
}

func (s *Service) GetTournament(ctx context.Context, req *IDRequest) (*models.Tournament, error) {
	return s.coordinator.Tournaments().Get(ctx, req.ID)
}

func (s *Service) IngestMatchResult(ctx context.Context, req *MatchResultRequest) (*models.Tournament, error) {
	p, ok := s.player(ctx)
	if !ok {
		return nil, errNoIdentity
	}
	return s.coordinator.IngestMatchResult(ctx, req.TournamentID, p.UserID, req.MatchID, req.Score, req.WinnerTeamID)
}

// Watch streams the current document and then every later version.
func (s *Service) Watch(req *WatchRequest, stream grpc.ServerStream) error {
	ctx := stream.Context()
	ch := make(chan broadcast.Snapshot, watchBuffer)
	overflow := make(chan struct{})
	var once sync.Once
	cancel := s.store.Subscribe(req.Collection, req.ID, func(snap broadcast.Snapshot) {
		select {
		case ch <- snap:
		default:
			once.Do(func() { close(overflow) })
		}
	})
	defer cancel()
	monitor := s.coordinator.Monitor()
	monitor.IncLiveSubscriptions()
	defer monitor.DecLiveSubscriptions()

	doc, err := s.store.Get(ctx, req.Collection, req.ID)
	if err != nil {
		return toStatus(err)
	}
	var last int64
	send := func(snap broadcast.Snapshot) error {
		if snap.Version <= last {
			return nil
		}
		last = snap.Version
		return stream.SendMsg(&network.SnapshotMessage{
			Collection: snap.Collection,
			ID:         snap.ID,
			Version:    snap.Version,
			Data:       snap.Data,
			Deleted:    snap.Deleted,
		})
	}
	if err := send(broadcast.Snapshot{Collection: doc.Collection, ID: doc.ID, Version: doc.Version, Data: doc.Data}); err != nil {
		return err
	}

	for {
		select {
		case snap := <-ch:
			if err := send(snap); err != nil {
				return err
			}
			if snap.Deleted {
				return nil
			}
		case <-overflow:
			return status.Error(codes.ResourceExhausted, "watcher too slow")
		case <-ctx.Done():
			return nil
		}
	}
}

// unary adapts a typed service method to a grpc.MethodDesc.
func unary[Req any, Resp any](name string, call func(MatchdayServer, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				resp, err := call(srv.(MatchdayServer), ctx, req.(*Req))
				if err != nil {
					return nil, toStatus(err)
				}
				return resp, nil
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(WatchRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(MatchdayServer).Watch(in, stream)
}

// ServiceDesc 手写的服务描述，消息体使用 JSON 编码
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MatchdayServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateSession", MatchdayServer.CreateSession),
		unary("JoinSession", MatchdayServer.JoinSession),
		unary("GetSession", MatchdayServer.GetSession),
		unary("StartSession", MatchdayServer.StartSession),
		unary("RecordGoal", MatchdayServer.RecordGoal),
		unary("RetractLastGoal", MatchdayServer.RetractLastGoal),
		unary("FinishGame", MatchdayServer.FinishGame),
		unary("AbandonGame", MatchdayServer.AbandonGame),
		unary("GetGame", MatchdayServer.GetGame),
		unary("GetTournament", MatchdayServer.GetTournament),
		unary("IngestMatchResult", MatchdayServer.IngestMatchResult),
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "babyfoot/matchday",
}

func logUnary(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		logger.Log.Debugw("rpc failed", "method", info.FullMethod, "error", err)
	}
	return resp, err
}
