package jobs

import (
	"context"
	"fmt"

	"tzlogs/pkg/failures"
	"tzlogs/pkg/fetchapi"
)

// ContinueSync asks the coordinator to fetch the ids after the highest stored one.
func (r *Runner) ContinueSync() error {
	r.logger.Info("Starting auto continue sync")

	reply, err := r.sync.SyncAutoContinue(r.ctx, &fetchapi.AutoRequest{})
	return r.started(fetchapi.OperationAuto, reply, err)
}

// RetryMissing asks the coordinator to retry every failed or timed out id.
func (r *Runner) RetryMissing() error {
	r.logger.Info("Starting missing ids retry")

	reply, err := r.sync.SyncMissing(r.ctx, &fetchapi.MissingRequest{})
	return r.started(fetchapi.OperationMissing, reply, err)
}

// started logs the coordinator answer. A busy coordinator or an empty plan is not a job failure.
func (r *Runner) started(operation string, reply *fetchapi.StartReply, err error) error {
	switch {
	case err == nil:
		r.logger.Info("Sync operation accepted", "operation", reply.Operation, "total", reply.Total)
		return nil
	case failures.Is(err, failures.KindConflict):
		r.logger.Info("Coordinator busy, skipping", "operation", operation)
		return nil
	case failures.Is(err, failures.KindValidation):
		r.logger.Info("Nothing to sync", "operation", operation, "reason", err.Error())
		return nil
	case r.ctx.Err() != nil:
		return failures.Wrap(failures.KindAbort, "jobs."+operation, context.Cause(r.ctx))
	default:
		return fmt.Errorf("couldn't start %s: %w", operation, err)
	}
}
