package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultJupiterURL = "https://api.jup.ag/ultra/v1"

	// Execute blocks until the swap lands or fails on chain.
	executeTimeout = 60 * time.Second

	// WrappedSOLMint is the input mint of every swap.
	WrappedSOLMint = "So11111111111111111111111111111111111111112"
)

type OrderRequest struct {
	InputMint  string
	OutputMint string
	Amount     uint64
	Taker      string
}

// Order is the venue's unsigned swap. Transaction is base64 and empty when
// the venue cannot build a swap for the taker.
type Order struct {
	Transaction  string `json:"transaction"`
	RequestID    string `json:"requestId"`
	InputMint    string `json:"inputMint"`
	OutputMint   string `json:"outputMint"`
	InAmount     string `json:"inAmount"`
	OutAmount    string `json:"outAmount"`
	SwapType     string `json:"swapType"`
	SlippageBps  int    `json:"slippageBps"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

type executeRequest struct {
	SignedTransaction string `json:"signedTransaction"`
	RequestID         string `json:"requestId"`
}

type ExecuteResult struct {
	Status             string `json:"status"`
	Signature          string `json:"signature"`
	Code               int    `json:"code"`
	Error              string `json:"error,omitempty"`
	InputAmountResult  string `json:"inputAmountResult,omitempty"`
	OutputAmountResult string `json:"outputAmountResult,omitempty"`
}

// HTTPStatusError captures non-2xx venue responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("jupiter: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// JupiterClient talks to the Jupiter Ultra order/execute API.
type JupiterClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type JupiterOption func(*JupiterClient)

func WithJupiterURL(baseURL string) JupiterOption {
	return func(c *JupiterClient) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithJupiterHTTPClient(httpClient *http.Client) JupiterOption {
	return func(c *JupiterClient) {
		c.httpClient = httpClient
	}
}

func NewJupiterClient(apiKey string, opts ...JupiterOption) (*JupiterClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("jupiter: api key must not be empty")
	}
	c := &JupiterClient{
		baseURL:    defaultJupiterURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: executeTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.baseURL == "" {
		c.baseURL = defaultJupiterURL
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: executeTimeout}
	}
	return c, nil
}

func (c *JupiterClient) Order(ctx context.Context, in OrderRequest) (Order, error) {
	q := url.Values{}
	q.Set("inputMint", in.InputMint)
	q.Set("outputMint", in.OutputMint)
	q.Set("amount", strconv.FormatUint(in.Amount, 10))
	q.Set("taker", in.Taker)
	endpoint := c.baseURL + "/order?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Order{}, fmt.Errorf("jupiter: create order request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)

	raw, err := c.do(req)
	if err != nil {
		return Order{}, fmt.Errorf("jupiter: order request failed: %w", err)
	}
	var order Order
	if err := json.Unmarshal(raw, &order); err != nil {
		return Order{}, fmt.Errorf("jupiter: decode order: %w", err)
	}
	return order, nil
}

func (c *JupiterClient) Execute(ctx context.Context, signedTransaction, requestID string) (ExecuteResult, error) {
	body, err := json.Marshal(executeRequest{SignedTransaction: signedTransaction, RequestID: requestID})
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("jupiter: marshal execute request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("jupiter: create execute request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	raw, err := c.do(req)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("jupiter: execute request failed: %w", err)
	}
	var res ExecuteResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return ExecuteResult{}, fmt.Errorf("jupiter: decode execute response: %w", err)
	}
	return res, nil
}

func (c *JupiterClient) do(req *http.Request) ([]byte, error) {
	endpoint := req.URL.Redacted()
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, URL: endpoint, Body: string(buf)}
	}
	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
