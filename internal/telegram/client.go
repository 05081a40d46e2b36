package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var unreachableSignatures = []string{
	"forbidden: bot was blocked by the user",
	"forbidden: user is deactivated",
	"bot was blocked by the user",
	"bad request: chat not found",
}

// APIError is a Bot API response that arrived but reported failure.
type APIError struct {
	Method      string
	StatusCode  int
	ErrorCode   int
	Description string
	Body        string
}

func (e *APIError) Error() string {
	description := e.Description
	if description == "" {
		description = e.Body
	}
	return fmt.Sprintf("telegram %s failed: status=%d error_code=%d description=%s", e.Method, e.StatusCode, e.ErrorCode, description)
}

// Unreachable reports whether the failure means the recipient blocked the bot
// or the chat no longer exists.
func (e *APIError) Unreachable() bool {
	if e == nil {
		return false
	}
	description := strings.ToLower(e.Description)
	if e.ErrorCode == http.StatusForbidden {
		return true
	}
	if e.ErrorCode == http.StatusBadRequest && strings.Contains(description, "chat not found") {
		return true
	}
	for _, signature := range unreachableSignatures {
		if strings.Contains(description, signature) {
			return true
		}
	}
	return false
}

// ConnectionError means no response was received from the Bot API.
type ConnectionError struct {
	Method string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("telegram %s connection error: %v", e.Method, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

type Response struct {
	Body   []byte
	Result json.RawMessage
}

type Client struct {
	token      string
	apiBase    string
	httpClient *http.Client
}

func NewClient(token, apiBase string, timeout time.Duration) *Client {
	if strings.TrimSpace(apiBase) == "" {
		apiBase = "https://api.telegram.org"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		token:      strings.TrimSpace(token),
		apiBase:    strings.TrimRight(strings.TrimSpace(apiBase), "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Enabled() bool {
	return c != nil && c.token != ""
}

// Call posts a JSON payload to a Bot API method.
func (c *Client) Call(ctx context.Context, method string, payload any) (Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("encode %s payload: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, method)
}

// Upload posts a multipart form with one file field.
func (c *Client) Upload(ctx context.Context, method string, fields map[string]string, fileField, filePath string) (Response, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return Response{}, fmt.Errorf("open upload: %w", err)
	}
	defer file.Close()

	var buffer bytes.Buffer
	writer := multipart.NewWriter(&buffer)
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return Response{}, fmt.Errorf("write form field: %w", err)
		}
	}
	part, err := writer.CreateFormFile(fileField, filepath.Base(filePath))
	if err != nil {
		return Response{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return Response{}, fmt.Errorf("copy upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Response{}, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), &buffer)
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return c.do(req, method)
}

func (c *Client) GetFilePath(ctx context.Context, fileID string) (string, error) {
	response, err := c.Call(ctx, "getFile", map[string]any{"file_id": fileID})
	if err != nil {
		return "", err
	}
	var result struct {
		FilePath string `json:"file_path"`
	}
	if err := json.Unmarshal(response.Result, &result); err != nil {
		return "", fmt.Errorf("decode getFile: %w", err)
	}
	if strings.TrimSpace(result.FilePath) == "" {
		return "", fmt.Errorf("telegram getFile returned no path")
	}
	return result.FilePath, nil
}

// DownloadFile streams a platform file into dst, failing past maxBytes.
func (c *Client) DownloadFile(ctx context.Context, filePath string, maxBytes int64, dst io.Writer) (int64, error) {
	url := fmt.Sprintf("%s/file/bot%s/%s", c.apiBase, c.token, strings.TrimLeft(filePath, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &ConnectionError{Method: "downloadFile", Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return 0, fmt.Errorf("telegram file download failed with status %d", res.StatusCode)
	}
	if maxBytes <= 0 {
		maxBytes = 20 << 20
	}
	written, err := io.Copy(dst, &io.LimitedReader{R: res.Body, N: maxBytes + 1})
	if err != nil {
		return written, fmt.Errorf("read file download: %w", err)
	}
	if written > maxBytes {
		return written, fmt.Errorf("attachment too large")
	}
	return written, nil
}

func (c *Client) SetWebhook(ctx context.Context, url, secretToken string) error {
	payload := map[string]any{
		"url":             url,
		"allowed_updates": []string{"message", "edited_message", "callback_query"},
	}
	if strings.TrimSpace(secretToken) != "" {
		payload["secret_token"] = secretToken
	}
	_, err := c.Call(ctx, "setWebhook", payload)
	return err
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.apiBase, c.token, method)
}

func (c *Client) do(req *http.Request, method string) (Response, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, &ConnectionError{Method: method, Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return Response{}, &ConnectionError{Method: method, Err: fmt.Errorf("read response: %w", err)}
	}
	var envelope struct {
		OK          bool            `json:"ok"`
		Result      json.RawMessage `json:"result"`
		ErrorCode   int             `json:"error_code"`
		Description string          `json:"description"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Response{Body: body}, &APIError{
			Method:     method,
			StatusCode: res.StatusCode,
			ErrorCode:  res.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}
	if !envelope.OK || res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		errorCode := envelope.ErrorCode
		if errorCode == 0 {
			errorCode = res.StatusCode
		}
		return Response{Body: body}, &APIError{
			Method:      method,
			StatusCode:  res.StatusCode,
			ErrorCode:   errorCode,
			Description: strings.TrimSpace(envelope.Description),
			Body:        strings.TrimSpace(string(body)),
		}
	}
	return Response{Body: body, Result: envelope.Result}, nil
}

// MessageIDs extracts message ids from a single-message or media-group result.
func MessageIDs(result json.RawMessage) []int64 {
	if len(result) == 0 {
		return nil
	}
	var single struct {
		MessageID int64 `json:"message_id"`
	}
	if err := json.Unmarshal(result, &single); err == nil && single.MessageID != 0 {
		return []int64{single.MessageID}
	}
	var group []struct {
		MessageID int64 `json:"message_id"`
	}
	if err := json.Unmarshal(result, &group); err != nil {
		return nil
	}
	ids := make([]int64, 0, len(group))
	for _, item := range group {
		if item.MessageID != 0 {
			ids = append(ids, item.MessageID)
		}
	}
	return ids
}

func isConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}

func asAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
