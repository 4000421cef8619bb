package config_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	t.Setenv("DATA_FOLDER", "/tmp/payments")

	c, err := config.New()
	require.NoError(t, err)

	require.Equal(t, "DEV", c.GetEnv())
	require.Equal(t, []string{"openid", "email", "offline_access"}, c.GetScopes())
	require.Equal(t, time.Minute, c.GetRefreshLeeway())
	require.Equal(t, 5*time.Second, c.GetSignOutWait())
	require.Equal(t, config.StorageBackendFile, c.GetStorageBackend())
	require.Equal(t, "/tmp/payments/session.db", c.GetSQLitePath())
	require.Equal(t, "auth.session", c.GetSessionStorageKey())
	require.Equal(t, "/(app)/dashboard", c.GetHomeRoute())
	require.Equal(t, []string{"(auth)", "auth"}, c.GetAuthSegments())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name: "online with secret",
			env: map[string]string{
				"AUTH_ISSUER_URL": "https://auth.example.com",
				"AUTH_CLIENT_ID":  "mobile-app",
				"DEVICE_SECRET":   "s3cret",
			},
		},
		{
			name:    "online missing issuer",
			env:     map[string]string{"AUTH_CLIENT_ID": "mobile-app", "DEVICE_SECRET": "s3cret"},
			wantErr: "AUTH_ISSUER_URL",
		},
		{
			name:    "persistent store without secret",
			env:     map[string]string{"AUTH_OFFLINE": "true"},
			wantErr: "DEVICE_SECRET",
		},
		{
			name: "offline in memory",
			env:  map[string]string{"AUTH_OFFLINE": "true", "STORAGE_BACKEND": "memory"},
		},
		{
			name:    "unknown backend",
			env:     map[string]string{"AUTH_OFFLINE": "true", "STORAGE_BACKEND": "cloud"},
			wantErr: "STORAGE_BACKEND",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			c, err := config.New()
			require.NoError(t, err)

			err = c.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}
