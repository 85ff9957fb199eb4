// Package twilio provides a channel.Channel backed by the Twilio REST API.
//
// Texts are created through the Messages resource and calls through the
// Calls resource. A 2xx response means Twilio accepted the request; delivery
// and call progress are not tracked.
package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/lifeline/pkg/channel"
)

const (
	defaultBaseURL = "https://api.twilio.com/2010-04-01"
	defaultTimeout = 15 * time.Second

	defaultCallTwiML = `<Response><Say>This is an automated emergency call placed by Lifeline. The caller may be unable to speak.</Say><Pause length="60"/></Response>`
)

// Option is a functional option for configuring the Twilio Channel.
type Option func(*Channel)

// WithBaseURL overrides the API root. Used by tests and regional edges.
func WithBaseURL(u string) Option {
	return func(c *Channel) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Channel) {
		c.httpClient = hc
	}
}

// WithCallTwiML sets the TwiML document executed when the emergency call is
// answered.
func WithCallTwiML(twiml string) Option {
	return func(c *Channel) {
		c.callTwiML = twiml
	}
}

// Channel implements channel.Channel against the Twilio REST API.
type Channel struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	callTwiML  string
	httpClient *http.Client
}

var _ channel.Channel = (*Channel)(nil)

// New creates a Twilio Channel. accountSID, authToken and from (the Twilio
// number messages are sent from) must be non-empty.
func New(accountSID, authToken, from string, opts ...Option) (*Channel, error) {
	var errs []error
	if accountSID == "" {
		errs = append(errs, errors.New("twilio: account SID must not be empty"))
	}
	if authToken == "" {
		errs = append(errs, errors.New("twilio: auth token must not be empty"))
	}
	if from == "" {
		errs = append(errs, errors.New("twilio: from number must not be empty"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	c := &Channel{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		baseURL:    defaultBaseURL,
		callTwiML:  defaultCallTwiML,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// SendText implements [channel.Channel].
func (c *Channel) SendText(ctx context.Context, phone, message string) error {
	to := channel.NormalizePhone(phone)
	if to == "" {
		return channel.ErrNoPhone
	}
	form := url.Values{
		"To":   {to},
		"From": {c.from},
		"Body": {message},
	}
	return c.post(ctx, "Messages.json", form)
}

// PlaceCall implements [channel.Channel].
func (c *Channel) PlaceCall(ctx context.Context, phone string) error {
	to := channel.NormalizePhone(phone)
	if to == "" {
		return channel.ErrNoPhone
	}
	form := url.Values{
		"To":    {to},
		"From":  {c.from},
		"Twiml": {c.callTwiML},
	}
	return c.post(ctx, "Calls.json", form)
}

// apiError is the error body Twilio returns on 4xx/5xx.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Channel) post(ctx context.Context, resource string, form url.Values) error {
	endpoint := fmt.Sprintf("%s/Accounts/%s/%s", c.baseURL, url.PathEscape(c.accountSID), resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("twilio: %s: %w", resource, err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("twilio: %s HTTP: %w", resource, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var ae apiError
	if json.Unmarshal(body, &ae) == nil && ae.Message != "" {
		return fmt.Errorf("twilio: %s: status %d: code %d: %s", resource, resp.StatusCode, ae.Code, ae.Message)
	}
	return fmt.Errorf("twilio: %s: unexpected status %d", resource, resp.StatusCode)
}
