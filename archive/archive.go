// Package archive keeps a copy of every finished game and tournament in
// object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/wfunc/babyfoot/game"
	"github.com/wfunc/babyfoot/models"
)

// Sink stores one object per key.
type Sink interface {
	Put(ctx context.Context, key string, body []byte) error
}

type S3Options struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Sink writes objects to an S3 compatible bucket (AWS, R2, MinIO).
type S3Sink struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3Sink(ctx context.Context, opts S3Options) (*S3Sink, error) {
	loaders := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.AccessKeyID != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("failed to load s3 config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3SinkFromClient(client, opts.Bucket, opts.Prefix), nil
}

func NewS3SinkFromClient(client *s3.Client, bucket, prefix string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Sink) Put(ctx context.Context, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(path.Join(s.prefix, key)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// Archiver 结束的比赛和赛事按 id 存档，重复写入覆盖旧版本
type Archiver struct {
	sink Sink
}

func New(sink Sink) *Archiver {
	return &Archiver{sink: sink}
}

type gameRecord struct {
	Game    *models.Game `json:"game"`
	Results game.Results `json:"results"`
}

type tournamentRecord struct {
	Tournament *models.Tournament          `json:"tournament"`
	Standings  []models.TournamentStanding `json:"standings"`
}

func GameKey(gameID string) string {
	return "games/" + gameID + ".json"
}

func TournamentKey(tournamentID string) string {
	return "tournaments/" + tournamentID + ".json"
}

// Game stores g together with its derived results.
func (a *Archiver) Game(ctx context.Context, g *models.Game) error {
	body, err := json.Marshal(gameRecord{Game: g, Results: game.ComputeResults(g)})
	if err != nil {
		return err
	}
	return a.sink.Put(ctx, GameKey(g.ID), body)
}

func (a *Archiver) Tournament(ctx context.Context, t *models.Tournament, standings []models.TournamentStanding) error {
	body, err := json.Marshal(tournamentRecord{Tournament: t, Standings: standings})
	if err != nil {
		return err
	}
	return a.sink.Put(ctx, TournamentKey(t.ID), body)
}
