package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/warp/pto-service/pto"
)

// HookClient posts approval notices to the resource-management integration.
type HookClient struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

var _ pto.Notifier = (*HookClient)(nil)

func NewHookClient(url string, timeout time.Duration, logger *zap.Logger) *HookClient {
	return &HookClient{url: url, client: &http.Client{Timeout: timeout}, logger: logger}
}

// NotifyApproval sends n as JSON. Any non-2xx answer is an error.
func (h *HookClient) NotifyApproval(ctx context.Context, n pto.ApprovalNotice) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding notice: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting notice: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Endpoint: h.url, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	io.Copy(io.Discard, resp.Body)

	h.logger.Debug("approval notice delivered",
		zap.String("pto_request_id", n.RequestID),
		zap.Int("status", resp.StatusCode),
	)
	return nil
}
