package flagx

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	tests := []struct {
		name         string
		args         []string
		allowedFlags []string
		want         []string
	}{
		{
			name:         "short flag with separate value",
			args:         []string{"-c", "node.yml", "-a", ":5000"},
			allowedFlags: []string{"-c", "-config"},
			want:         []string{"-c", "node.yml"},
		},
		{
			name:         "flag with equals",
			args:         []string{"-config=node.json", "-driver", "sqlite"},
			allowedFlags: []string{"-c", "-config"},
			want:         []string{"-config=node.json"},
		},
		{
			name:         "unknown flags ignored",
			args:         []string{"-x", "1", "-y=2", "positional"},
			allowedFlags: []string{"-c"},
			want:         []string{},
		},
		{
			name:         "trailing flag without value",
			args:         []string{"-dir"},
			allowedFlags: []string{"-dir"},
			want:         []string{"-dir"},
		},
		{
			name:         "next dash token is not a value",
			args:         []string{"-d", "-s", "secret"},
			allowedFlags: []string{"-d", "-s"},
			want:         []string{"-d", "-s", "secret"},
		},
		{
			name:         "several allowed flags keep order",
			args:         []string{"-a", ":5000", "-b", "4096", "-l", "debug", "-q"},
			allowedFlags: []string{"-a", "-b", "-l"},
			want:         []string{"-a", ":5000", "-b", "4096", "-l", "debug"},
		},
		{
			name:         "repeated flag preserved",
			args:         []string{"-c", "one.yml", "-c", "two.yml"},
			allowedFlags: []string{"-c"},
			want:         []string{"-c", "one.yml", "-c", "two.yml"},
		},
		{
			name:         "empty args",
			args:         []string{},
			allowedFlags: []string{"-c"},
			want:         []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterArgs(tt.args, tt.allowedFlags)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("FilterArgs() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestConfigFile(t *testing.T) {
	assert.Equal(t, "/etc/vault/node.yml", ConfigFile([]string{"-c", "/etc/vault/node.yml"}))
	assert.Equal(t, "/etc/vault/node.json", ConfigFile([]string{"-a", ":5000", "-config", "/etc/vault/node.json"}))
	assert.Equal(t, "node.yml", ConfigFile([]string{"-config=node.yml"}))
	assert.Empty(t, ConfigFile([]string{"-dir", "/data"}))
	assert.Equal(t, "2.yml", ConfigFile([]string{"-c", "1.yml", "-config", "2.yml"}), "last wins")
}

func TestFormatOf(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatOf("node.yml"))
	assert.Equal(t, FormatYAML, FormatOf("/x/NODE.YAML"))
	assert.Equal(t, FormatJSON, FormatOf("node.json"))
	assert.Equal(t, FormatJSON, FormatOf("node"))
}
