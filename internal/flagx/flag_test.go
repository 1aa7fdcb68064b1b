package flagx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		allowed []string
		want    []string
	}{
		{
			name:    "separate value",
			args:    []string{"-c", "conf.json", "-d", "vault.db"},
			allowed: []string{"-c"},
			want:    []string{"-c", "conf.json"},
		},
		{
			name:    "equals form",
			args:    []string{"--config=alt.json", "sweep"},
			allowed: []string{"-c", "--config"},
			want:    []string{"--config=alt.json"},
		},
		{
			name:    "unknown flags and positionals dropped",
			args:    []string{"serve", "--tenant", "clinic-1", "-x=2"},
			allowed: []string{"-d"},
			want:    []string{},
		},
		{
			name:    "flag without value",
			args:    []string{"-d", "-t", "1h"},
			allowed: []string{"-d", "-t"},
			want:    []string{"-d", "-t", "1h"},
		},
		{
			name:    "equals value starting with a dash",
			args:    []string{"--config=--weird.json"},
			allowed: []string{"--config"},
			want:    []string{"--config=--weird.json"},
		},
		{
			name:    "repeats keep order",
			args:    []string{"-d", "one.db", "hash", "-d", "two.db"},
			allowed: []string{"-d"},
			want:    []string{"-d", "one.db", "-d", "two.db"},
		},
		{
			name:    "empty",
			args:    nil,
			allowed: []string{"-d"},
			want:    []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterArgs(tt.args, tt.allowed))
		})
	}
}

func TestJsonConfigFlags(t *testing.T) {
	assert.Equal(t, "/etc/medkeeper.json", JsonConfigFlags([]string{"serve", "-c", "/etc/medkeeper.json"}))
	assert.Equal(t, "/tmp/long.json", JsonConfigFlags([]string{"-config", "/tmp/long.json", "-d", "x.db"}))
	assert.Equal(t, "/tmp/eq.json", JsonConfigFlags([]string{"--config=/tmp/eq.json"}))
	assert.Equal(t, "/tmp/2.json", JsonConfigFlags([]string{"-c", "/tmp/1.json", "-config", "/tmp/2.json"}))
	assert.Empty(t, JsonConfigFlags([]string{"-x", "1"}))
}
