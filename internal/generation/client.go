package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPClient implements Generator against a JSON completion endpoint.
type HTTPClient struct {
	endpoint string
	apiKey   string
	model    string
	timeout  time.Duration
	client   *http.Client
}

// NewHTTPClient constructs a Generator that POSTs completion requests to the
// provided endpoint with a bearer key. Every call is bounded by timeout.
func NewHTTPClient(endpoint, apiKey, model string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
	}
}

type completionRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type completionResponse struct {
	Outputs []string `json:"outputs"`
}

// GenerateContent sends the prompt to the completion endpoint and returns
// the validated ordered outputs. All failure modes, including timeouts and
// implausible outputs, surface as ErrGeneration.
func (c *HTTPClient) GenerateContent(ctx context.Context, prompt string) ([]string, error) {
	if c.endpoint == "" {
		return nil, fmt.Errorf("%w: no endpoint configured", ErrGeneration)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(completionRequest{Model: c.model, Input: prompt})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrGeneration, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrGeneration, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: endpoint returned status %d", ErrGeneration, resp.StatusCode)
	}

	var parsed completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrGeneration, err)
	}

	if err := ValidateOutputs(parsed.Outputs); err != nil {
		return nil, err
	}

	return parsed.Outputs, nil
}
