package main

import (
	"context"

	syncservice "tzlogs/coordinator/services/sync"
	"tzlogs/pkg/fetchapi"
	"tzlogs/pkg/rpc"

	"google.golang.org/protobuf/types/known/emptypb"
)

// Server definition.
type server struct {
	sync *syncservice.SyncService
}

func (s *server) SyncRange(ctx context.Context, in *fetchapi.RangeRequest) (*fetchapi.StartReply, error) {
	reply, err := s.sync.StartRange(ctx, *in)
	return reply, rpc.ToStatus(err)
}

func (s *server) SyncMissing(ctx context.Context, in *fetchapi.MissingRequest) (*fetchapi.StartReply, error) {
	reply, err := s.sync.StartMissing(ctx, *in)
	return reply, rpc.ToStatus(err)
}

func (s *server) SyncAutoContinue(ctx context.Context, in *fetchapi.AutoRequest) (*fetchapi.StartReply, error) {
	reply, err := s.sync.StartAutoContinue(ctx, *in)
	return reply, rpc.ToStatus(err)
}

func (s *server) Abort(context.Context, *emptypb.Empty) (*fetchapi.StartReply, error) {
	if !s.sync.Abort() {
		return &fetchapi.StartReply{Accepted: false, Message: "no operation running"}, nil
	}
	return &fetchapi.StartReply{Accepted: true, Message: "abort requested"}, nil
}

func (s *server) GetProgress(context.Context, *emptypb.Empty) (*fetchapi.Progress, error) {
	progress := s.sync.Progress()
	return &progress, nil
}
