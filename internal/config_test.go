package internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	t.Setenv("ENV", "dev")

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, uint16(3000), cfg.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "smtp", cfg.Email.Provider)
	assert.Equal(t, 7*24*time.Hour, cfg.Reminder.MinInterval)
	assert.Equal(t, 5, cfg.Reminder.MaxReminders)
	assert.Equal(t, 5*time.Minute, cfg.Stripe.WebhookTolerance)
}

func TestNewConfig_FromEnvironment(t *testing.T) {
	t.Setenv("ENV", "dev")
	t.Setenv("PORT", "8080")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_PATH", "/tmp/invoicer.db")
	t.Setenv("REMINDER_INTERVAL", "15m")
	t.Setenv("REMINDER_MAX", "3")
	t.Setenv("REMINDER_RUN_ON_START", "true")
	t.Setenv("NATS_URL", "nats://localhost:4222")

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, uint16(8080), cfg.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/invoicer.db", cfg.Database.Path)
	assert.Equal(t, 15*time.Minute, cfg.Reminder.Interval)
	assert.Equal(t, 3, cfg.Reminder.MaxReminders)
	assert.True(t, cfg.Reminder.RunOnStart)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
}

func TestNewConfig_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("ENV", "staging")
	t.Setenv("LOG_LEVEL", "verbose")
	t.Setenv("ENCRYPTION_KEY", "key")
	t.Setenv("API_TOKEN", "token")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_abc")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_abc")

	cfg, err := NewConfig()
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestNewConfig_Rejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{
			name: "unknown database driver",
			env:  map[string]string{"ENV": "dev", "DATABASE_DRIVER": "mysql"},
		},
		{
			name: "postmark without token",
			env:  map[string]string{"ENV": "dev", "EMAIL_PROVIDER": "postmark"},
		},
		{
			name: "zero reminders",
			env:  map[string]string{"ENV": "dev", "REMINDER_MAX": "0"},
		},
		{
			name: "production without encryption key",
			env:  map[string]string{"ENV": "prod", "API_TOKEN": "token"},
		},
		{
			name: "production with placeholder stripe key",
			env:  map[string]string{"ENV": "prod", "API_TOKEN": "token", "ENCRYPTION_KEY": "key"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := NewConfig()
			assert.Error(t, err)
		})
	}
}
