package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Типы ответов (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// TriggerRequest — запрос trigger.
type TriggerRequest struct {
	Name          string         `json:"name"`
	To            []string       `json:"to"`
	Payload       map[string]any `json:"payload,omitempty"`
	TransactionID string         `json:"transaction_id,omitempty"`
}

// TriggerResponse — ответ trigger.
type TriggerResponse struct {
	Acknowledged  bool   `json:"acknowledged"`
	TransactionID string `json:"transaction_id"`
	Jobs          int    `json:"jobs"`
}

// CancelResponse — ответ отмены.
type CancelResponse struct {
	TransactionID string `json:"transaction_id"`
	Canceled      int64  `json:"canceled"`
}

// JobResponse — job из API.
type JobResponse struct {
	ID            string `json:"id"`
	TransactionID string `json:"transaction_id"`
	ParentID      string `json:"parent_id,omitempty"`
	Type          string `json:"type"`
	Status        string `json:"status"`
	SubscriberID  string `json:"subscriber_id"`
	TemplateID    string `json:"template_id"`
	ProviderID    string `json:"provider_id,omitempty"`
	DigestEvents  int    `json:"digest_events,omitempty"`
	Error         string `json:"error,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ClientConfig — параметры клиента.
type ClientConfig struct {
	BaseURL string
	Token   string

	// IdempotencyKey — значение Idempotency-Key для POST запросов.
	IdempotencyKey string

	Timeout time.Duration
}

// Client — HTTP клиент Herald API.
type Client struct {
	baseURL        string
	token          string
	idempotencyKey string
	httpClient     *http.Client
}

// NewClient создаёт клиент.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL:        cfg.BaseURL,
		token:          cfg.Token,
		idempotencyKey: cfg.IdempotencyKey,
		httpClient:     &http.Client{Timeout: cfg.Timeout},
	}
}

// Trigger запускает уведомление по шаблону.
func (c *Client) Trigger(ctx context.Context, req TriggerRequest) (*TriggerResponse, error) {
	var res TriggerResponse
	err := c.doData(ctx, http.MethodPost, "/v1/events/trigger", req, &res)
	return &res, err
}

// Cancel отменяет ожидающие jobs транзакции.
func (c *Client) Cancel(ctx context.Context, transactionID string) (*CancelResponse, error) {
	var res CancelResponse
	err := c.doData(ctx, http.MethodDelete, "/v1/events/trigger/"+transactionID, nil, &res)
	return &res, err
}

// GetJob возвращает job по ID.
func (c *Client) GetJob(ctx context.Context, id string) (*JobResponse, error) {
	var job JobResponse
	err := c.doData(ctx, http.MethodGet, "/v1/jobs/"+id, nil, &job)
	return &job, err
}

// ListJobs возвращает jobs транзакции.
// Пустой status — все jobs транзакции.
func (c *Client) ListJobs(ctx context.Context, transactionID, status string) ([]JobResponse, error) {
	path := "/v1/transactions/" + url.PathEscape(transactionID) + "/jobs"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}

	var jobs []JobResponse
	err := c.doData(ctx, http.MethodGet, path, nil, &jobs)
	return jobs, err
}

// --- HTTP helpers ---

func (c *Client) doData(ctx context.Context, method, path string, body, result any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkError(resp); err != nil {
		return err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.idempotencyKey != "" && method == http.MethodPost {
		req.Header.Set("Idempotency-Key", c.idempotencyKey)
	}

	return c.httpClient.Do(req)
}

func checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
