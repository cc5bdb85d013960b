package fcm

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perroquet/internal/platform/config"
	dErrors "perroquet/pkg/domain-errors"
)

func testFCMConfig(t *testing.T) (config.FCM, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der := x509.MarshalPKCS1PrivateKey(key)
	pemKey := string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}))
	return config.FCM{
		ProjectID:   "perroquet-test",
		ClientEmail: "svc@perroquet-test.iam.gserviceaccount.com",
		PrivateKey:  pemKey,
	}, key
}

func Test_Refresh_PerformsJWTBearerGrant(t *testing.T) {
	cfg, key := testFCMConfig(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, jwtBearerGrant, r.FormValue("grant_type"))

		// The assertion is a valid RS256 JWT for our service account.
		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(r.FormValue("assertion"), claims, func(*jwt.Token) (any, error) {
			return &key.PublicKey, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
		require.NoError(t, err)
		assert.Equal(t, cfg.ClientEmail, claims["iss"])
		assert.Equal(t, messagingScope, claims["scope"])

		require.NoError(t, json.NewEncoder(w).Encode(map[string]string{"access_token": "bearer-1"}))
	}))
	t.Cleanup(server.Close)

	client := NewClient(cfg, WithEndpoints(server.URL, ""))
	data, err := client.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bearer-1", data.AccessToken)
}

func Test_Refresh_FailsOnGrantRejection(t *testing.T) {
	cfg, _ := testFCMConfig(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	client := NewClient(cfg, WithEndpoints(server.URL, ""))
	_, err := client.Refresh(context.Background())
	require.Error(t, err)
}

func Test_Send_DeliversMessage(t *testing.T) {
	cfg, _ := testFCMConfig(t)

	var got sendRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer bearer-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	client := NewClient(cfg, WithEndpoints("", server.URL))
	stale, err := client.Send(context.Background(), Data{AccessToken: "bearer-1"}, Message{
		Token:       "device-token",
		Title:       "Perroquet",
		Body:        "Water the plants",
		ClickAction: "REMINDER",
	})
	require.NoError(t, err)
	assert.Empty(t, stale)

	assert.Equal(t, "device-token", got.Message.Token)
	assert.Equal(t, "Water the plants", got.Message.Notification.Body)
	require.NotNil(t, got.Message.Android)
	assert.Equal(t, "REMINDER", got.Message.Android.Notification.ClickAction)
	require.NotNil(t, got.Message.APNS)
	assert.Equal(t, "REMINDER", got.Message.APNS.Payload.APS.Category)
}

func Test_Send_ReturnsStaleTokenOnRejection(t *testing.T) {
	cfg, _ := testFCMConfig(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	client := NewClient(cfg, WithEndpoints("", server.URL))
	stale, err := client.Send(context.Background(), Data{AccessToken: "bearer-1"}, Message{Token: "dead-token"})
	require.NoError(t, err)
	assert.Equal(t, "dead-token", stale)
}

func Test_Send_SurfacesProviderOutage(t *testing.T) {
	cfg, _ := testFCMConfig(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	client := NewClient(cfg, WithEndpoints("", server.URL))
	stale, err := client.Send(context.Background(), Data{AccessToken: "bearer-1"}, Message{Token: "device-token"})
	require.Error(t, err)
	assert.Empty(t, stale)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
}
