package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const (
	RemoteToolTimeout = 30 * time.Second

	remoteToolMaxResponseBytes = 4 * 1024 * 1024
)

// RemoteTool posts tool arguments to {base}/{PascalCaseName} and expects JSON back.
type RemoteTool struct {
	httpClient *http.Client
	timeout    time.Duration
}

func NewRemoteTool() *RemoteTool {
	return NewRemoteToolWithHTTPClient(&http.Client{})
}

func NewRemoteToolWithHTTPClient(client *http.Client) *RemoteTool {
	if client == nil {
		client = &http.Client{}
	}
	return &RemoteTool{httpClient: client, timeout: RemoteToolTimeout}
}

func (t *RemoteTool) Invoke(ctx context.Context, call ToolCommand) (ToolResult, error) {
	baseURL := strings.TrimSpace(call.Endpoint)
	if baseURL == "" {
		return ToolResult{}, &ToolCallError{ToolName: call.Name, Cause: ErrToolEndpointMissing}
	}
	url := ToolURL(baseURL, call.Name)

	args := call.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}
	body, err := json.Marshal(args)
	if err != nil {
		return ToolResult{}, &ToolCallError{ToolName: call.Name, Endpoint: url, Cause: fmt.Errorf("encode arguments: %w", err)}
	}

	requestCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return ToolResult{}, &ToolCallError{ToolName: call.Name, Endpoint: url, Cause: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if secret := strings.TrimSpace(call.Secret); secret != "" {
		req.Header.Set("Authorization", "Bearer "+secret)
	}

	log.Printf("[tool] calling name=%s url=%s args_bytes=%d", call.Name, url, len(body))
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return ToolResult{}, &ToolCallError{ToolName: call.Name, Endpoint: url, Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, remoteToolMaxResponseBytes))
	if err != nil {
		return ToolResult{}, &ToolCallError{ToolName: call.Name, Endpoint: url, Cause: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return ToolResult{}, &ToolCallError{
			ToolName: call.Name,
			Endpoint: url,
			Cause:    fmt.Errorf("tool returned status %d: %s", resp.StatusCode, truncate(strings.TrimSpace(string(respBody)), 256)),
		}
	}
	trimmed := bytes.TrimSpace(respBody)
	if !json.Valid(trimmed) {
		return ToolResult{}, &ToolCallError{ToolName: call.Name, Endpoint: url, Cause: fmt.Errorf("tool response is not valid json")}
	}
	return NewToolResult(json.RawMessage(trimmed)), nil
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
