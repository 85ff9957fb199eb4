package config

import "reflect"

// ConfigDiff describes what changed between two configs. The first three
// groups are applied live; RestartRequired lists changed sections that only
// take effect on the next start.
type ConfigDiff struct {
	AlertChanged bool
	NewAlert     AlertConfig

	VoiceActivationChanged bool
	VoiceActivationEnabled bool

	LogLevelChanged bool
	NewLogLevel     LogLevel

	RestartRequired []string
}

// Changed reports whether anything hot-reloadable changed.
func (d ConfigDiff) Changed() bool {
	return d.AlertChanged || d.VoiceActivationChanged || d.LogLevelChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Alert != new.Alert {
		d.AlertChanged = true
		d.NewAlert = new.Alert
	}
	if old.Voice.ActivationEnabled != new.Voice.ActivationEnabled {
		d.VoiceActivationChanged = true
		d.VoiceActivationEnabled = new.Voice.ActivationEnabled
	}
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldVoice, newVoice := old.Voice, new.Voice
	oldVoice.ActivationEnabled, newVoice.ActivationEnabled = false, false
	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""

	for _, s := range []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"voice", oldVoice, newVoice},
		{"location", old.Location, new.Location},
		{"contacts", old.Contacts, new.Contacts},
		{"providers", old.Providers, new.Providers},
		{"mqtt", old.MQTT, new.MQTT},
		{"discord", old.Discord, new.Discord},
	} {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
