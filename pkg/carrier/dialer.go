package carrier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/echodial/echodial/pkg/logger"
)

// CallRequest instructs the carrier to dial one outbound call and attach it
// to our relay endpoint.
type CallRequest struct {
	From              string
	To                string
	RelayURL          string
	StatusCallbackURL string
}

// Dialer places calls with the external telephony carrier. The worker only
// depends on this interface; tests substitute a fake.
type Dialer interface {
	PlaceCall(ctx context.Context, req CallRequest) (callSid string, err error)
}

// RESTDialer talks to a Twilio-style REST API: basic-auth, form-encoded
// POST, JSON response carrying the assigned call SID.
type RESTDialer struct {
	accountSid string
	authToken  string
	apiBase    string
	httpClient *http.Client
}

func NewRESTDialer(accountSid, authToken, apiBase string) *RESTDialer {
	return &RESTDialer{
		accountSid: accountSid,
		authToken:  authToken,
		apiBase:    strings.TrimRight(apiBase, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (d *RESTDialer) PlaceCall(ctx context.Context, req CallRequest) (string, error) {
	form := url.Values{}
	form.Set("From", req.From)
	form.Set("To", req.To)
	form.Set("Url", req.RelayURL)
	if req.StatusCallbackURL != "" {
		form.Set("StatusCallback", req.StatusCallbackURL)
		form.Set("StatusCallbackEvent", "initiated ringing answered completed")
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", d.apiBase, d.accountSid)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("carrier: build request: %w", err)
	}
	httpReq.SetBasicAuth(d.accountSid, d.authToken)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("carrier: place call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("carrier: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("carrier: place call failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed struct {
		Sid    string `json:"sid"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("carrier: decode response: %w", err)
	}
	if parsed.Sid == "" {
		return "", fmt.Errorf("carrier: response missing call sid")
	}

	logger.InfoCF("carrier", "Call placed", map[string]interface{}{
		"call_sid": parsed.Sid, "from": req.From, "to": req.To, "status": parsed.Status,
	})
	return parsed.Sid, nil
}
