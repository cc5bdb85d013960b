package config

import (
	"os"
	"time"
)

// Apple holds the identity-provider client configuration. The private key is
// EC PEM material supplied via the environment, never persisted.
type Apple struct {
	TeamID          string
	ClientIDIOS     string
	ClientIDAndroid string
	ClientIDWeb     string
	KeyID           string
	PrivateKey      string
}

// FCM holds the push-provider service account configuration.
type FCM struct {
	ProjectID   string
	ClientEmail string
	PrivateKey  string
}

// SMTP holds outbound mail configuration.
type SMTP struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// Server captures process level configuration.
type Server struct {
	Addr        string
	DatabaseURL string

	JWTSigningKey string
	TokenTTL      time.Duration

	Apple Apple
	FCM   FCM
	SMTP  SMTP

	CredentialTTL    time.Duration
	PollInterval     time.Duration
	SchedulerEnabled bool
}

var (
	defaultTokenTTL      = 15 * time.Minute
	defaultCredentialTTL = time.Hour
	defaultPollInterval  = time.Minute
)

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("PERROQUET_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	tokenTTL := defaultTokenTTL
	if v := os.Getenv("PERROQUET_TOKEN_TTL"); v != "" {
		if duration, err := time.ParseDuration(v); err == nil {
			tokenTTL = duration
		}
	}

	pollInterval := defaultPollInterval
	if v := os.Getenv("PERROQUET_POLL_INTERVAL"); v != "" {
		if duration, err := time.ParseDuration(v); err == nil {
			pollInterval = duration
		}
	}

	jwtSigningKey := os.Getenv("PERROQUET_JWT_SECRET")
	if jwtSigningKey == "" {
		// Use a default for development - must be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	return Server{
		Addr:          addr,
		DatabaseURL:   os.Getenv("PERROQUET_DATABASE_URL"),
		JWTSigningKey: jwtSigningKey,
		TokenTTL:      tokenTTL,
		Apple: Apple{
			TeamID:          os.Getenv("PERROQUET_APPLE_TEAM_ID"),
			ClientIDIOS:     os.Getenv("PERROQUET_APPLE_CLIENT_ID_IOS"),
			ClientIDAndroid: os.Getenv("PERROQUET_APPLE_CLIENT_ID_ANDROID"),
			ClientIDWeb:     os.Getenv("PERROQUET_APPLE_CLIENT_ID_WEB"),
			KeyID:           os.Getenv("PERROQUET_APPLE_KEY_ID"),
			PrivateKey:      os.Getenv("PERROQUET_APPLE_PRIVATE_KEY"),
		},
		FCM: FCM{
			ProjectID:   os.Getenv("PERROQUET_FCM_PROJECT_ID"),
			ClientEmail: os.Getenv("PERROQUET_FCM_CLIENT_EMAIL"),
			PrivateKey:  os.Getenv("PERROQUET_FCM_PRIVATE_KEY"),
		},
		SMTP: SMTP{
			Host:     os.Getenv("PERROQUET_SMTP_HOST"),
			Port:     os.Getenv("PERROQUET_SMTP_PORT"),
			Username: os.Getenv("PERROQUET_SMTP_USERNAME"),
			Password: os.Getenv("PERROQUET_SMTP_PASSWORD"),
			From:     os.Getenv("PERROQUET_SMTP_FROM"),
		},
		CredentialTTL:    defaultCredentialTTL,
		PollInterval:     pollInterval,
		SchedulerEnabled: os.Getenv("PERROQUET_SCHEDULER_DISABLED") != "true",
	}
}
