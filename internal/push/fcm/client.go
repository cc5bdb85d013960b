// Package fcm delivers reminder notifications through Firebase Cloud
// Messaging. The client authenticates with a service-account JWT-bearer grant
// and holds the resulting bearer token in a shared credential cache.
package fcm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"perroquet/internal/platform/config"
	"perroquet/internal/platform/tracer"
	dErrors "perroquet/pkg/domain-errors"
)

const (
	defaultTokenURL = "https://oauth2.googleapis.com/token"
	defaultSendURL  = "https://fcm.googleapis.com/v1/projects/%s/messages:send"

	messagingScope = "https://www.googleapis.com/auth/firebase.messaging"
	jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	grantTTL = time.Hour
)

// Data is the refreshable credential bundle for the push provider.
type Data struct {
	AccessToken string
}

// Message is one notification bound for one device token.
type Message struct {
	Token       string
	Title       string
	Body        string
	ClickAction string
}

// Client talks to the FCM v1 API. Stateless; the bearer token is passed in
// per call so a single shared cache governs it.
type Client struct {
	cfg        config.FCM
	httpClient *http.Client
	tracer     tracer.Tracer
	tokenURL   string
	sendURL    string
	now        func() time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTracer attaches a tracer for outbound calls.
func WithTracer(t tracer.Tracer) ClientOption {
	return func(c *Client) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithEndpoints points the client at different token and send endpoints.
// Tests only.
func WithEndpoints(tokenURL, sendURL string) ClientOption {
	return func(c *Client) {
		if tokenURL != "" {
			c.tokenURL = tokenURL
		}
		if sendURL != "" {
			c.sendURL = sendURL
		}
	}
}

// NewClient constructs an FCM client for the configured project.
func NewClient(cfg config.FCM, opts ...ClientOption) *Client {
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		tracer:     tracer.NewNoop(),
		tokenURL:   defaultTokenURL,
		sendURL:    fmt.Sprintf(defaultSendURL, cfg.ProjectID),
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

type grantResponse struct {
	AccessToken string `json:"access_token"`
}

// Refresh performs the service-account JWT-bearer grant and returns a fresh
// bearer token. It satisfies credcache.RefreshFunc[Data].
func (c *Client) Refresh(ctx context.Context) (Data, error) {
	ctx, span := c.tracer.Start(ctx, tracer.SpanFCMTokenGrant,
		tracer.String(tracer.AttrProvider, "fcm"))
	var err error
	defer func() { span.End(err) }()

	assertion, err := c.mintGrantAssertion()
	if err != nil {
		return Data{}, err
	}

	form := url.Values{}
	form.Set("grant_type", jwtBearerGrant)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Data{}, fmt.Errorf("build grant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Data{}, fmt.Errorf("token grant: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // response body

	span.SetAttributes(tracer.Int64(tracer.AttrStatusCode, int64(resp.StatusCode)))
	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("token grant returned %d", resp.StatusCode)
		return Data{}, err
	}

	var body grantResponse
	if err = json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Data{}, fmt.Errorf("decode grant response: %w", err)
	}
	if body.AccessToken == "" {
		err = fmt.Errorf("grant response missing access_token")
		return Data{}, err
	}
	return Data{AccessToken: body.AccessToken}, nil
}

func (c *Client) mintGrantAssertion() (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(c.cfg.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("parse service account key: %w", err)
	}

	now := c.now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   c.cfg.ClientEmail,
		"scope": messagingScope,
		"aud":   defaultTokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(grantTTL).Unix(),
	})

	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign grant assertion: %w", err)
	}
	return signed, nil
}

// v1 message payload. Android gets the click action on the intent; iOS gets
// the matching category on the aps dictionary.
type sendRequest struct {
	Message struct {
		Token        string `json:"token"`
		Notification struct {
			Title string `json:"title"`
			Body  string `json:"body"`
		} `json:"notification"`
		Android *struct {
			Notification struct {
				ClickAction string `json:"click_action"`
			} `json:"notification"`
		} `json:"android,omitempty"`
		APNS *struct {
			Payload struct {
				APS struct {
					Sound    string `json:"sound"`
					Category string `json:"category"`
				} `json:"aps"`
			} `json:"payload"`
		} `json:"apns,omitempty"`
	} `json:"message"`
}

// Send delivers one message. A non-empty staleToken return identifies a
// device token the provider rejected as no longer valid; the caller is
// expected to retire it. There are no retries at this layer.
func (c *Client) Send(ctx context.Context, creds Data, msg Message) (staleToken string, err error) {
	ctx, span := c.tracer.Start(ctx, tracer.SpanFCMSend,
		tracer.String(tracer.AttrProvider, "fcm"))
	defer func() { span.End(err) }()

	var payload sendRequest
	payload.Message.Token = msg.Token
	payload.Message.Notification.Title = msg.Title
	payload.Message.Notification.Body = msg.Body
	if msg.ClickAction != "" {
		payload.Message.Android = &struct {
			Notification struct {
				ClickAction string `json:"click_action"`
			} `json:"notification"`
		}{}
		payload.Message.Android.Notification.ClickAction = msg.ClickAction
		payload.Message.APNS = &struct {
			Payload struct {
				APS struct {
					Sound    string `json:"sound"`
					Category string `json:"category"`
				} `json:"aps"`
			} `json:"payload"`
		}{}
		payload.Message.APNS.Payload.APS.Sound = "default"
		payload.Message.APNS.Payload.APS.Category = msg.ClickAction
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sendURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeUnavailable, "fcm send endpoint unreachable")
	}
	defer resp.Body.Close() //nolint:errcheck // response body

	span.SetAttributes(tracer.Int64(tracer.AttrStatusCode, int64(resp.StatusCode)))
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return "", nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// The provider refused this token: unregistered, malformed, or
		// belonging to another project. Hand it back for retirement.
		return msg.Token, nil
	default:
		err = dErrors.New(dErrors.CodeUnavailable, fmt.Sprintf("fcm send returned %d", resp.StatusCode))
		return "", err
	}
}
