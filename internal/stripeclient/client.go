package stripeclient

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	payoutdomain "github.com/rytkhs/event-pay-sub012/internal/payout/domain"
)

const defaultBaseURL = "https://api.stripe.com"

// maxNetworkRetries bounds automatic retries of transport-level failures.
// The idempotency key makes these retries safe against duplicate transfers.
const maxNetworkRetries = 2

type Transfer struct {
	ID          string `json:"id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Destination string `json:"destination"`
	Created     int64  `json:"created"`
}

type stripeErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client is a minimal Stripe connect client. Only the transfer primitive
// and webhook verification are needed here; everything else about the
// platform is out of scope.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func New(apiKey string) *Client {
	return &Client{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 12 * time.Second},
	}
}

// WithBaseURL points the client at a fake platform in tests.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return c
}

type TransferRequest struct {
	Amount         int64
	Currency       string
	Destination    string
	IdempotencyKey string
	EventID        snowflake.ID
	PayoutID       snowflake.ID
}

// CreateTransfer moves funds from the platform balance to a connect
// account. The idempotency key is mandatory: a retried call with the same
// key is deduplicated server-side.
func (c *Client) CreateTransfer(ctx context.Context, req TransferRequest) (Transfer, error) {
	if c.apiKey == "" {
		return Transfer{}, &payoutdomain.PlatformError{Code: "api_key_missing", Transient: false}
	}
	if req.Amount <= 0 || strings.TrimSpace(req.Destination) == "" || strings.TrimSpace(req.IdempotencyKey) == "" {
		return Transfer{}, &payoutdomain.PlatformError{Code: "invalid_transfer_request", Transient: false}
	}

	values := url.Values{}
	values.Set("amount", strconv.FormatInt(req.Amount, 10))
	values.Set("currency", strings.ToLower(strings.TrimSpace(req.Currency)))
	values.Set("destination", strings.TrimSpace(req.Destination))
	values.Set("metadata[event_id]", req.EventID.String())
	values.Set("metadata[payout_id]", req.PayoutID.String())

	var lastErr error
	for attempt := 0; attempt <= maxNetworkRetries; attempt++ {
		transfer, err := c.doTransferRequest(ctx, values, req.IdempotencyKey)
		if err == nil {
			return transfer, nil
		}
		lastErr = err
		if !retryableNetworkError(err) {
			return Transfer{}, err
		}
		if ctx.Err() != nil {
			break
		}
	}
	return Transfer{}, lastErr
}

func (c *Client) doTransferRequest(ctx context.Context, values url.Values, idempotencyKey string) (Transfer, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transfers", strings.NewReader(values.Encode()))
	if err != nil {
		return Transfer{}, &payoutdomain.PlatformError{Code: "request_build_failed", Transient: false, Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Transfer{}, &payoutdomain.PlatformError{Code: "network_error", Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return Transfer{}, classifyHTTPError(resp)
	}

	var transfer Transfer
	if err := json.NewDecoder(resp.Body).Decode(&transfer); err != nil {
		return Transfer{}, &payoutdomain.PlatformError{Code: "invalid_response", Transient: false, Err: err}
	}
	if strings.TrimSpace(transfer.ID) == "" {
		return Transfer{}, &payoutdomain.PlatformError{Code: "invalid_response", Transient: false}
	}
	return transfer, nil
}

func classifyHTTPError(resp *http.Response) error {
	var stripeErr stripeErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&stripeErr)

	code := strings.TrimSpace(stripeErr.Error.Code)
	if code == "" {
		code = strings.TrimSpace(stripeErr.Error.Type)
	}
	if code == "" {
		code = "http_" + strconv.Itoa(resp.StatusCode)
	}

	transient := resp.StatusCode >= http.StatusInternalServerError ||
		resp.StatusCode == http.StatusTooManyRequests ||
		stripeErr.Error.Type == "api_error"

	var cause error
	if message := strings.TrimSpace(stripeErr.Error.Message); message != "" {
		cause = errors.New(message)
	}
	return &payoutdomain.PlatformError{Code: code, Transient: transient, Err: cause}
}

func retryableNetworkError(err error) bool {
	var pe *payoutdomain.PlatformError
	if !errors.As(err, &pe) {
		return false
	}
	if pe.Code != "network_error" {
		return false
	}
	var netErr net.Error
	if errors.As(pe.Err, &netErr) {
		return netErr.Timeout()
	}
	return true
}

// EstimatedArrival approximates when the transferred funds reach the
// organizer's bank account: four business days after transfer creation.
func EstimatedArrival(created time.Time) time.Time {
	day := created.UTC()
	remaining := 4
	for remaining > 0 {
		day = day.AddDate(0, 0, 1)
		switch day.Weekday() {
		case time.Saturday, time.Sunday:
			continue
		default:
			remaining--
		}
	}
	return day
}
