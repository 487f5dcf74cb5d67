package grpcclient

import (
	"context"
	"fmt"
	"time"

	"tzlogs/pkg/failures"
	"tzlogs/pkg/fetchapi"
	"tzlogs/pkg/rpc"

	"google.golang.org/grpc"
)

const callTimeout = 5 * time.Second

// SyncGRPCClient is the interface for the coordinator sync control calls.
type SyncGRPCClient interface {
	SyncRange(ctx context.Context, req *fetchapi.RangeRequest) (*fetchapi.StartReply, error)
	SyncMissing(ctx context.Context, req *fetchapi.MissingRequest) (*fetchapi.StartReply, error)
	SyncAutoContinue(ctx context.Context, req *fetchapi.AutoRequest) (*fetchapi.StartReply, error)
	Abort(ctx context.Context) (*fetchapi.StartReply, error)
	Progress(ctx context.Context) (*fetchapi.Progress, error)
}

type syncGRPCClient struct {
	client rpc.SyncControlClient
}

// NewSyncGRPCClient creates a new sync control client over the coordinator connection.
func NewSyncGRPCClient(conn grpc.ClientConnInterface) SyncGRPCClient {
	return &syncGRPCClient{client: rpc.NewSyncControlClient(conn)}
}

func (c *syncGRPCClient) SyncRange(ctx context.Context, req *fetchapi.RangeRequest) (*fetchapi.StartReply, error) {
	return execute(ctx, fetchapi.OperationRange, func(ctx context.Context) (*fetchapi.StartReply, error) {
		return c.client.SyncRange(ctx, req)
	})
}

func (c *syncGRPCClient) SyncMissing(ctx context.Context, req *fetchapi.MissingRequest) (*fetchapi.StartReply, error) {
	return execute(ctx, fetchapi.OperationMissing, func(ctx context.Context) (*fetchapi.StartReply, error) {
		return c.client.SyncMissing(ctx, req)
	})
}

func (c *syncGRPCClient) SyncAutoContinue(ctx context.Context, req *fetchapi.AutoRequest) (*fetchapi.StartReply, error) {
	return execute(ctx, fetchapi.OperationAuto, func(ctx context.Context) (*fetchapi.StartReply, error) {
		return c.client.SyncAutoContinue(ctx, req)
	})
}

func (c *syncGRPCClient) Abort(ctx context.Context) (*fetchapi.StartReply, error) {
	return execute(ctx, "abort", func(ctx context.Context) (*fetchapi.StartReply, error) {
		return c.client.Abort(ctx)
	})
}

func (c *syncGRPCClient) Progress(ctx context.Context) (*fetchapi.Progress, error) {
	return execute(ctx, "progress", func(ctx context.Context) (*fetchapi.Progress, error) {
		return c.client.GetProgress(ctx)
	})
}

// execute runs one call under the call timeout, keeping the error kind of the coordinator.
func execute[T any](ctx context.Context, operation string, call func(context.Context) (*T, error)) (*T, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	resp, err := call(ctx)
	if err != nil {
		return nil, failures.Wrap(failures.KindOf(err), "grpc."+operation, fmt.Errorf("couldn't execute %s: %w", operation, err))
	}
	return resp, nil
}
