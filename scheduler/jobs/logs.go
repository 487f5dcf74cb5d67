package jobs

import "fmt"

// ShipLogs uploads the scheduler log file to the log bucket and truncates it.
func (r *Runner) ShipLogs() error {
	objectKey := fmt.Sprintf("scheduler/%s.log", r.now().UTC().Format("2006-01-02T15-04-05"))

	if err := r.logger.UploadToS3Bucket(r.ctx, objectKey); err != nil {
		return fmt.Errorf("couldn't ship the logs: %w", err)
	}
	r.logger.Info("Logs shipped", "key", objectKey)
	return nil
}
