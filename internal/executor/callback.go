package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/rewstapp/rewst_remote_agent/internal/domain"
)

func (e *Executor) postResult(ctx context.Context, url string, result domain.CommandResult) {
	body, err := json.Marshal(result)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to marshal result", "err", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to build result request", "url", url, "err", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	e.logger.InfoContext(ctx, "sending results to rewst", "url", url)
	resp, err := e.http.Do(req)
	if err != nil {
		e.logger.ErrorContext(ctx, "result POST failed", "url", url, "err", err)
		return
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	e.logger.InfoContext(ctx, "result POST completed", "status", resp.StatusCode)

	if resp.StatusCode == http.StatusOK {
		return
	}
	if resp.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(string(respBody)), "fulfilled") {
		e.logger.InfoContext(ctx, "webhook POST fulfilled by script")
		return
	}
	e.logger.ErrorContext(ctx, "error response from callback", "status", resp.StatusCode, "body", string(respBody))
}
