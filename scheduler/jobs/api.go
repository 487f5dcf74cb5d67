package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"tzlogs/api/dto"
	"tzlogs/pkg/failures"
	"tzlogs/pkg/messages"
)

type trainReply struct {
	OK     bool            `json:"ok"`
	Result dto.TrainResult `json:"result"`
}

// TrainBotModel retrains the bot ensemble through the api, which swaps the artifact and drops the cache.
func (r *Runner) TrainBotModel() error {
	r.logger.Info("Starting bot model training")

	var reply trainReply
	if err := r.post(r.ctx, "/api/v1/admin/models/train", nil, &reply); err != nil {
		return fmt.Errorf("couldn't train the bot model: %w", err)
	}

	r.logger.Info("Bot model trained",
		"version", reply.Result.Version,
		"players", reply.Result.Players,
		"clusters", reply.Result.Clusters,
	)
	return nil
}

// DrainRawLogs stores the raw logs the workers uploaded since the last run.
func (r *Runner) DrainRawLogs() error {
	r.logger.Info("Starting raw log drain")

	query := url.Values{}
	if r.drainLimit > 0 {
		query.Set("limit", strconv.Itoa(r.drainLimit))
	}

	var summary dto.ProcessSummary
	if err := r.post(r.ctx, "/process-batch", query, &summary); err != nil {
		return fmt.Errorf("couldn't drain the raw logs: %w", err)
	}

	r.logger.Info("Raw log drain finished",
		"pending", summary.Pending,
		"stored", summary.Stored,
		"quarantined", summary.Quarantined,
		"failed", summary.Failed,
	)
	return nil
}

// post calls an api endpoint with the admin token and decodes the json answer.
func (r *Runner) post(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := r.apiURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("couldn't create the request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.adminToken)

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return failures.Wrap(failures.KindAbort, "jobs.post", err)
		}
		return failures.Wrap(failures.KindNetwork, "jobs.post", fmt.Errorf(messages.RequestFailedMsg+": %w", endpoint, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return failures.Newf(statusKind(resp.StatusCode), "jobs.post", messages.BadStatusCodeMsg, resp.StatusCode, endpoint)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("couldn't decode the reply of %s: %w", endpoint, err)
	}
	return nil
}

func statusKind(code int) failures.Kind {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return failures.KindAuth
	case http.StatusConflict:
		return failures.KindConflict
	case http.StatusNotFound:
		return failures.KindNotFound
	case http.StatusBadRequest:
		return failures.KindValidation
	default:
		return failures.KindNetwork
	}
}
