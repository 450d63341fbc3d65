package activity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.temporal.io/sdk/temporal"

	"github.com/edvin/proximity/internal/model"
)

// Callback notifies the caller of a finished application or backup
// workflow.
type Callback struct {
	client *http.Client
}

func NewCallback() *Callback {
	return &Callback{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// SendCallbackParams holds parameters for the SendCallback activity.
type SendCallbackParams struct {
	URL     string                `json:"url"`
	Payload model.CallbackPayload `json:"payload"`
}

// SendCallback POSTs the payload as JSON. A 4xx answer is final; 5xx and
// network errors are retried by Temporal.
func (a *Callback) SendCallback(ctx context.Context, params SendCallbackParams) error {
	body, err := json.Marshal(params.Payload)
	if err != nil {
		return temporal.NewNonRetryableApplicationError("marshal callback payload", "MARSHAL_ERROR", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, params.URL, bytes.NewReader(body))
	if err != nil {
		return temporal.NewNonRetryableApplicationError("create callback request", "REQUEST_ERROR", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "proximity-worker")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("callback POST to %s: %w", params.URL, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("callback %s returned %d", params.URL, resp.StatusCode),
			"CLIENT_ERROR", nil)
	}
	return fmt.Errorf("callback %s returned %d", params.URL, resp.StatusCode)
}
