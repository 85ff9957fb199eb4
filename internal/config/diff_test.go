package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/lifeline/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	d := config.Diff(cfg, config.Default())
	if d.Changed() {
		t.Errorf("expected no hot changes, got %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("expected no restart-required sections, got %v", d.RestartRequired)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		mutate      func(*config.Config)
		check       func(t *testing.T, d config.ConfigDiff)
		wantRestart []string
	}{
		{
			name:   "log level",
			mutate: func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
					t.Errorf("got %+v", d)
				}
			},
		},
		{
			name:   "emergency number",
			mutate: func(c *config.Config) { c.Alert.EmergencyNumber = "911" },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.AlertChanged || d.NewAlert.EmergencyNumber != "911" {
					t.Errorf("got %+v", d)
				}
				if d.LogLevelChanged || d.VoiceActivationChanged {
					t.Errorf("unrelated flags set: %+v", d)
				}
			},
		},
		{
			name:   "voice activation",
			mutate: func(c *config.Config) { c.Voice.ActivationEnabled = true },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.VoiceActivationChanged || !d.VoiceActivationEnabled {
					t.Errorf("got %+v", d)
				}
			},
		},
		{
			name:        "voice language needs restart",
			mutate:      func(c *config.Config) { c.Voice.Language = "fr-FR" },
			check:       func(t *testing.T, d config.ConfigDiff) {},
			wantRestart: []string{"voice"},
		},
		{
			name: "providers and mqtt need restart",
			mutate: func(c *config.Config) {
				c.Providers.Channel.Name = "twilio"
				c.MQTT.Broker = "tcp://broker:1883"
			},
			check:       func(t *testing.T, d config.ConfigDiff) {},
			wantRestart: []string{"providers", "mqtt"},
		},
		{
			name:        "listen addr needs restart",
			mutate:      func(c *config.Config) { c.Server.ListenAddr = ":1" },
			check:       func(t *testing.T, d config.ConfigDiff) {},
			wantRestart: []string{"server"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			newCfg := config.Default()
			tc.mutate(newCfg)
			d := config.Diff(config.Default(), newCfg)
			tc.check(t, d)
			if !slices.Equal(d.RestartRequired, tc.wantRestart) {
				t.Errorf("RestartRequired: got %v, want %v", d.RestartRequired, tc.wantRestart)
			}
		})
	}
}
