package rpc

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/wfunc/babyfoot/models"
	"github.com/wfunc/babyfoot/network"
	"github.com/wfunc/babyfoot/services"
)

// Client is a thin Matchday client speaking the JSON codec.
type Client struct {
	conn *grpc.ClientConn
}

func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// WithToken attaches a bearer token to outgoing calls.
func WithToken(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
}

// WithPlayer attaches the caller identity to outgoing calls.
func WithPlayer(ctx context.Context, p models.Player) context.Context {
	kv := []string{MetadataUserID, p.UserID, MetadataUsername, p.Username}
	if p.AvatarURL != "" {
		kv = append(kv, MetadataAvatarURL, p.AvatarURL)
	}
	return metadata.AppendToOutgoingContext(ctx, kv...)
}

func (c *Client) invoke(ctx context.Context, method string, in, out interface{}) error {
	return c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out)
}

func (c *Client) CreateSession(ctx context.Context, req *CreateSessionRequest) (*models.Session, error) {
	out := new(models.Session)
	if err := c.invoke(ctx, "CreateSession", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) JoinSession(ctx context.Context, req *JoinSessionRequest) (*models.Session, error) {
	out := new(models.Session)
	if err := c.invoke(ctx, "JoinSession", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) StartSession(ctx context.Context, req *StartSessionRequest) (*services.StartResult, error) {
	out := new(services.StartResult)
	if err := c.invoke(ctx, "StartSession", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) RecordGoal(ctx context.Context, req *RecordGoalRequest) (*models.Game, error) {
	out := new(models.Game)
	if err := c.invoke(ctx, "RecordGoal", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetGame(ctx context.Context, gameID string) (*models.Game, error) {
	out := new(models.Game)
	if err := c.invoke(ctx, "GetGame", &IDRequest{ID: gameID}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetTournament(ctx context.Context, tournamentID string) (*models.Tournament, error) {
	out := new(models.Tournament)
	if err := c.invoke(ctx, "GetTournament", &IDRequest{ID: tournamentID}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) IngestMatchResult(ctx context.Context, req *MatchResultRequest) (*models.Tournament, error) {
	out := new(models.Tournament)
	if err := c.invoke(ctx, "IngestMatchResult", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Watch calls fn for every snapshot until ctx ends, the document is deleted
// or the server closes the stream.
func (c *Client) Watch(ctx context.Context, req *WatchRequest, fn func(network.SnapshotMessage)) error {
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], "/"+ServiceName+"/Watch")
	if err != nil {
		return err
	}
	if err := stream.SendMsg(req); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		var snap network.SnapshotMessage
		if err := stream.RecvMsg(&snap); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		fn(snap)
	}
}
