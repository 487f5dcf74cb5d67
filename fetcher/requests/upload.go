package requests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tzlogs/pkg/messages"
)

// UploadReply is the aggregator's answer to an upload.
type UploadReply struct {
	OK        bool   `json:"ok"`
	BattleID  int64  `json:"battle_id"`
	FilePath  string `json:"file_path"`
	SizeBytes int64  `json:"size_bytes"`
	Shard     int64  `json:"shard"`
}

// Uploader forwards fetched logs to the aggregator.
type Uploader struct {
	client    *http.Client
	motherURL string
}

// NewUploader creates an uploader for the aggregator at motherURL.
func NewUploader(motherURL string, timeout time.Duration) *Uploader {
	return &Uploader{
		client:    &http.Client{Timeout: timeout},
		motherURL: strings.TrimRight(motherURL, "/"),
	}
}

// Enabled reports whether an aggregator is configured.
func (u *Uploader) Enabled() bool {
	return u != nil && u.motherURL != ""
}

// Upload posts the raw payload of one battle.
func (u *Uploader) Upload(ctx context.Context, battleID int64, payload []byte) (*UploadReply, error) {
	url := fmt.Sprintf("%s/upload/%d", u.motherURL, battleID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("couldn't create the upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/xml")

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf(messages.RequestFailedMsg+": %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf(messages.BadStatusCodeMsg, resp.StatusCode, url)
	}

	var reply UploadReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("couldn't decode the upload reply: %w", err)
	}
	return &reply, nil
}
