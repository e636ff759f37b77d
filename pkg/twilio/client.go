package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/teslashibe/go-callbridge/internal/httpc"
)

// DefaultBaseURL is the REST API root.
const DefaultBaseURL = "https://api.twilio.com/2010-04-01"

// StatusCallbackEvents are the call progress events requested on placement.
var StatusCallbackEvents = []string{"initiated", "ringing", "answered", "completed"}

var (
	// ErrRateLimited is returned when call placement exceeds the local budget.
	ErrRateLimited = errors.New("twilio: call placement rate limited")

	// ErrInvalidNumber is returned for a destination that is not a phone number.
	ErrInvalidNumber = errors.New("twilio: invalid phone number")

	// ErrMissingCredentials is returned by NewClient without an account sid
	// and auth token.
	ErrMissingCredentials = errors.New("twilio: account sid and auth token are required")
)

// Error is an API error body.
type Error struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("twilio: api error %d (http %d): %s", e.Code, e.Status, e.Message)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	AccountSID string
	AuthToken  string

	// From is the default caller id for placed calls.
	From string

	// StatusCallback receives call progress when set.
	StatusCallback string

	BaseURL    string
	HTTPClient *http.Client

	// Rate and Burst bound call placement. Zero Rate disables the limit.
	Rate  float64
	Burst int
}

// Client is a minimal REST client for the Calls resource.
type Client struct {
	cfg     ClientConfig
	auth    httpc.BasicAuth
	limiter *rate.Limiter
}

// NewClient creates a REST client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		cfg:     cfg,
		auth:    httpc.BasicAuth{Username: cfg.AccountSID, Password: cfg.AuthToken},
		limiter: rate.NewLimiter(limit, burst),
	}, nil
}

// Call is the subset of the call resource the bridge reads.
type Call struct {
	SID         string `json:"sid"`
	AccountSID  string `json:"account_sid"`
	To          string `json:"to"`
	From        string `json:"from"`
	Status      string `json:"status"`
	Direction   string `json:"direction"`
	Duration    string `json:"duration"`
	DateCreated string `json:"date_created"`
}

// CallParams describes an outbound call. Either Twiml or URL must be set.
type CallParams struct {
	To    string
	From  string // defaults to ClientConfig.From
	Twiml string
	URL   string

	// Timeout is the ring timeout in seconds; zero keeps the carrier default.
	Timeout int
}

// MakeCall places an outbound call.
func (c *Client) MakeCall(ctx context.Context, p CallParams) (*Call, error) {
	to, err := NormalizeNumber(p.To)
	if err != nil {
		return nil, err
	}
	from := p.From
	if from == "" {
		from = c.cfg.From
	}
	if from == "" {
		return nil, errors.New("twilio: caller id is required")
	}
	if p.Twiml == "" && p.URL == "" {
		return nil, errors.New("twilio: twiml or url is required")
	}
	if !c.limiter.Allow() {
		return nil, ErrRateLimited
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", from)
	if p.Twiml != "" {
		form.Set("Twiml", p.Twiml)
	}
	if p.URL != "" {
		form.Set("Url", p.URL)
	}
	if c.cfg.StatusCallback != "" {
		form.Set("StatusCallback", c.cfg.StatusCallback)
		for _, ev := range StatusCallbackEvents {
			form.Add("StatusCallbackEvent", ev)
		}
	}
	if p.Timeout > 0 {
		form.Set("Timeout", strconv.Itoa(p.Timeout))
	}

	var call Call
	if err := c.post(ctx, c.callsURL(""), form, &call); err != nil {
		return nil, err
	}
	if call.SID == "" {
		return nil, errors.New("twilio: no call sid returned")
	}
	return &call, nil
}

// GetCall fetches a call by sid.
func (c *Client) GetCall(ctx context.Context, callSID string) (*Call, error) {
	resp, err := httpc.Get(ctx, c.cfg.HTTPClient, c.callsURL(callSID), c.auth)
	if err != nil {
		return nil, fmt.Errorf("twilio: get call: %w", err)
	}
	var call Call
	if err := decode(resp, &call); err != nil {
		return nil, err
	}
	return &call, nil
}

// HangupCall completes an in-progress call.
func (c *Client) HangupCall(ctx context.Context, callSID string) error {
	form := url.Values{}
	form.Set("Status", "completed")
	return c.post(ctx, c.callsURL(callSID), form, nil)
}

func (c *Client) callsURL(callSID string) string {
	base := fmt.Sprintf("%s/Accounts/%s/Calls", c.cfg.BaseURL, url.PathEscape(c.cfg.AccountSID))
	if callSID == "" {
		return base + ".json"
	}
	return base + "/" + url.PathEscape(callSID) + ".json"
}

func (c *Client) post(ctx context.Context, endpoint string, form url.Values, out any) error {
	resp, err := httpc.PostForm(ctx, c.cfg.HTTPClient, endpoint, c.auth, form)
	if err != nil {
		return fmt.Errorf("twilio: post: %w", err)
	}
	return decode(resp, out)
}

func decode(resp *http.Response, out any) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("twilio: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &Error{Status: resp.StatusCode}
		if json.Unmarshal(body, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		if apiErr.Status == 0 {
			apiErr.Status = resp.StatusCode
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("twilio: parse response: %w", err)
		}
	}
	return nil
}

// NormalizeNumber strips formatting and ensures a leading '+'.
func NormalizeNumber(number string) (string, error) {
	var b strings.Builder
	b.WriteByte('+')
	for i, r := range strings.TrimSpace(number) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidNumber, number)
		}
	}
	digits := b.Len() - 1
	if digits < 7 || digits > 15 {
		return "", fmt.Errorf("%w: %q", ErrInvalidNumber, number)
	}
	return b.String(), nil
}

// StatusUpdate is the form body of a status callback.
type StatusUpdate struct {
	CallSID    string `json:"callSid"`
	CallStatus string `json:"callStatus"`
	From       string `json:"from,omitempty"`
	To         string `json:"to,omitempty"`
	Direction  string `json:"direction,omitempty"`
	Duration   string `json:"duration,omitempty"`
}

// ParseStatusUpdate reads a status callback form.
func ParseStatusUpdate(form url.Values) StatusUpdate {
	return StatusUpdate{
		CallSID:    form.Get("CallSid"),
		CallStatus: form.Get("CallStatus"),
		From:       form.Get("From"),
		To:         form.Get("To"),
		Direction:  form.Get("Direction"),
		Duration:   form.Get("CallDuration"),
	}
}

// Final reports whether the status is terminal.
func (u StatusUpdate) Final() bool {
	switch u.CallStatus {
	case "completed", "failed", "busy", "no-answer", "canceled":
		return true
	}
	return false
}
