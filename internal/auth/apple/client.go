// Package apple exchanges Sign in with Apple authorization codes for verified
// federated identities. The client mints its own ES256 client secrets and
// verifies Apple's RS256 identity tokens against the published JWKS.
package apple

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"perroquet/internal/auth/models"
	"perroquet/internal/platform/config"
	"perroquet/internal/platform/tracer"
	dErrors "perroquet/pkg/domain-errors"
	"perroquet/pkg/sentinel"
)

const (
	defaultBaseURL = "https://appleid.apple.com"
	tokenPath      = "/auth/token"
	keysPath       = "/auth/keys"

	// Apple accepts client secrets valid for up to six months; one day keeps
	// them comfortably inside the credential cache TTL.
	clientSecretTTL = 24 * time.Hour
)

// Surface identifies which first-party client performed the Apple sign-in.
// Apple issues a distinct client id per surface and the identity token's
// audience must match it.
type Surface string

const (
	SurfaceIOS     Surface = "ios"
	SurfaceAndroid Surface = "android"
	SurfaceWeb     Surface = "web"
)

// ParseSurface validates a client-supplied surface name.
func ParseSurface(s string) (Surface, error) {
	switch Surface(strings.ToLower(s)) {
	case SurfaceIOS:
		return SurfaceIOS, nil
	case SurfaceAndroid:
		return SurfaceAndroid, nil
	case SurfaceWeb:
		return SurfaceWeb, nil
	default:
		return "", dErrors.Wrap(sentinel.ErrInvalidInput, dErrors.CodeInvalidInput, fmt.Sprintf("unknown client surface %q", s))
	}
}

// Data is the refreshable credential bundle for the Apple provider: one
// pre-minted client secret per configured surface plus Apple's current
// identity-token verification keys, indexed by key id.
type Data struct {
	ClientSecrets map[Surface]string
	Keys          map[string]*rsa.PublicKey
}

// Client talks to Apple's auth endpoints. It is stateless; refreshable
// credentials are passed in per call so a single shared cache governs them.
type Client struct {
	cfg        config.Apple
	httpClient *http.Client
	tracer     tracer.Tracer
	baseURL    string
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

// WithBaseURL points the client at a different endpoint. Tests only.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// NewClient constructs an Apple auth client.
func NewClient(cfg config.Apple, opts ...ClientOption) *Client {
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		tracer:     tracer.NewNoop(),
		baseURL:    defaultBaseURL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *Client) clientID(surface Surface) string {
	switch surface {
	case SurfaceIOS:
		return c.cfg.ClientIDIOS
	case SurfaceAndroid:
		return c.cfg.ClientIDAndroid
	case SurfaceWeb:
		return c.cfg.ClientIDWeb
	default:
		return ""
	}
}

// Refresh mints a fresh client secret for every configured surface and pulls
// Apple's current JWKS. It satisfies credcache.RefreshFunc[Data].
func (c *Client) Refresh(ctx context.Context) (Data, error) {
	secrets := make(map[Surface]string)
	for _, surface := range []Surface{SurfaceIOS, SurfaceAndroid, SurfaceWeb} {
		clientID := c.clientID(surface)
		if clientID == "" {
			continue
		}
		secret, err := c.mintClientSecret(clientID)
		if err != nil {
			return Data{}, fmt.Errorf("mint client secret for %s: %w", surface, err)
		}
		secrets[surface] = secret
	}
	if len(secrets) == 0 {
		return Data{}, fmt.Errorf("no apple client ids configured")
	}

	keys, err := c.fetchKeys(ctx)
	if err != nil {
		return Data{}, err
	}
	return Data{ClientSecrets: secrets, Keys: keys}, nil
}

// mintClientSecret builds the ES256-signed JWT Apple requires in place of a
// static client secret.
func (c *Client) mintClientSecret(clientID string) (string, error) {
	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(c.cfg.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("parse signing key: %w", err)
	}

	now := c.now()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.RegisteredClaims{
		Issuer:    c.cfg.TeamID,
		Subject:   clientID,
		Audience:  jwt.ClaimStrings{defaultBaseURL},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(clientSecretTTL)),
	})
	token.Header["kid"] = c.cfg.KeyID

	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign client secret: %w", err)
	}
	return signed, nil
}

type jwksResponse struct {
	Keys []struct {
		Kty string `json:"kty"`
		Kid string `json:"kid"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

func (c *Client) fetchKeys(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	ctx, span := c.tracer.Start(ctx, tracer.SpanAppleKeys,
		tracer.String(tracer.AttrProvider, "apple"))
	var err error
	defer func() { span.End(err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+keysPath, nil)
	if err != nil {
		return nil, fmt.Errorf("build keys request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch apple keys: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // response body

	span.SetAttributes(tracer.Int64(tracer.AttrStatusCode, int64(resp.StatusCode)))
	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("fetch apple keys: unexpected status %d", resp.StatusCode)
		return nil, err
	}

	var jwks jwksResponse
	if err = json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("decode apple keys: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, parseErr := parseRSAKey(k.N, k.E)
		if parseErr != nil {
			err = fmt.Errorf("parse apple key %s: %w", k.Kid, parseErr)
			return nil, err
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		err = fmt.Errorf("apple jwks contained no usable keys")
		return nil, err
	}
	return keys, nil
}

func parseRSAKey(n, e string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

type tokenResponse struct {
	IDToken string `json:"id_token"`
}

// VerifyAuthCode exchanges an authorization code and verifies the returned
// identity token against the bundle's keys. A signature key id absent from
// the bundle is an authentication failure, not a trigger for a key refresh.
func (c *Client) VerifyAuthCode(ctx context.Context, creds Data, code string, surface Surface) (*models.FederatedIdentity, error) {
	clientID := c.clientID(surface)
	clientSecret, ok := creds.ClientSecrets[surface]
	if clientID == "" || !ok {
		return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("surface %s is not configured", surface))
	}

	idToken, err := c.exchangeCode(ctx, code, clientID, clientSecret)
	if err != nil {
		return nil, err
	}
	return c.verifyIDToken(idToken, creds.Keys, clientID)
}

func (c *Client) exchangeCode(ctx context.Context, code, clientID, clientSecret string) (string, error) {
	ctx, span := c.tracer.Start(ctx, tracer.SpanAppleExchange,
		tracer.String(tracer.AttrProvider, "apple"))
	var err error
	defer func() { span.End(err) }()

	form := url.Values{}
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	form.Set("code", code)
	form.Set("grant_type", "authorization_code")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeUnavailable, "apple token endpoint unreachable")
	}
	defer resp.Body.Close() //nolint:errcheck // response body

	span.SetAttributes(tracer.Int64(tracer.AttrStatusCode, int64(resp.StatusCode)))
	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// Apple rejects expired and replayed codes with a 4xx.
		io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for reuse
		err = dErrors.New(dErrors.CodeUnauthorized, "authorization code rejected")
		return "", err
	default:
		err = dErrors.New(dErrors.CodeUnavailable, fmt.Sprintf("apple token endpoint returned %d", resp.StatusCode))
		return "", err
	}

	var body tokenResponse
	if err = json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if body.IDToken == "" {
		err = dErrors.New(dErrors.CodeUnauthorized, "token response missing id_token")
		return "", err
	}
	return body.IDToken, nil
}

func (c *Client) verifyIDToken(idToken string, keys map[string]*rsa.PublicKey, clientID string) (*models.FederatedIdentity, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(idToken, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, ok := keys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown signing key %q", kid)
		}
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(defaultBaseURL),
		jwt.WithAudience(clientID),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.Wrap(err, dErrors.CodeExpired, "identity token expired")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "identity token rejected")
	}

	subject, _ := claims["sub"].(string)
	if subject == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "identity token missing subject")
	}
	email, _ := claims["email"].(string)

	return &models.FederatedIdentity{
		Subject:       subject,
		Email:         email,
		EmailVerified: emailVerified(claims["email_verified"]),
	}, nil
}

// emailVerified tolerates Apple sending the claim as either a bool or the
// string "true".
func emailVerified(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val == "true"
	default:
		return false
	}
}
