package llm

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"chatcore/internal/domain"
	"chatcore/internal/infra/config"
)

// maxResponseBody is the maximum response body size read from provider APIs.
const maxResponseBody = 10 * 1024 * 1024 // 10 MB

// NewHTTPClient creates an *http.Client with pooled transport and timeout
// defaults suitable for LLM providers. The overall client timeout is left
// unset so streaming responses can outlive the response-header timeout.
func NewHTTPClient(cfg config.HTTPConfig) *http.Client {
	connTimeout := cfg.ConnTimeout
	if connTimeout == 0 {
		connTimeout = 30 * time.Second
	}
	respTimeout := cfg.RespTimeout
	if respTimeout == 0 {
		respTimeout = 120 * time.Second
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 20
	}
	maxIdlePerHost := cfg.MaxIdleConnsPerHost
	if maxIdlePerHost <= 0 {
		maxIdlePerHost = 10
	}

	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   connTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: respTimeout,
			MaxIdleConns:          maxIdle,
			MaxIdleConnsPerHost:   maxIdlePerHost,
			IdleConnTimeout:       120 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
}

// doStream executes an already-built request for streaming and returns the
// open *http.Response; the caller owns Body. Non-200 responses are drained
// and mapped to an error.
func doStream(ctx context.Context, client *http.Client, httpReq *http.Request) (*http.Response, error) {
	httpReq = httpReq.WithContext(ctx)
	httpReq.Header.Set("Accept", "text/event-stream")

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, httpStatusError(httpResp.StatusCode, body)
	}
	return httpResp, nil
}

// doSend executes an already-built request and returns the full response
// body, mapping transport failures to domain.ErrNetwork.
func doSend(ctx context.Context, client *http.Client, httpReq *http.Request) ([]byte, error) {
	httpReq = httpReq.WithContext(ctx)

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrNetwork, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, httpStatusError(httpResp.StatusCode, body)
	}
	return body, nil
}

// doGET performs a GET request and returns the response body, mapping
// transport failures to domain.ErrNetwork and non-200 statuses to an error
// carrying the status and a body snippet.
func doGET(ctx context.Context, client *http.Client, url string, headers map[string]string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.NewDomainError("llm.get", domain.ErrInvalidURL, url)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrNetwork, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, httpStatusError(httpResp.StatusCode, body)
	}
	return body, nil
}

// httpStatusError maps a non-200 response to a network error carrying the
// status code and a short body snippet.
func httpStatusError(status int, body []byte) error {
	snippet := body
	if len(snippet) > 512 {
		snippet = snippet[:512]
	}
	return fmt.Errorf("%w: API error %d: %s", domain.ErrNetwork, status, snippet)
}
