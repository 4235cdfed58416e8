package cmd

import (
	"testing"
)

func TestDeriveName(t *testing.T) {
	tests := []struct {
		command  string
		expected string
	}{
		{"python app.py", "python"},
		{"npm run serve", "npm"},
		{"./worker --queue high", "./worker"},
		{"   node   server.js", "node"},
		{"", "unknown"},
		{"   ", "unknown"},
	}

	for _, tt := range tests {
		if got := deriveName(tt.command); got != tt.expected {
			t.Errorf("deriveName(%q): expected %q, got %q", tt.command, tt.expected, got)
		}
	}
}

func TestParseEnvVars(t *testing.T) {
	env, err := parseEnvVars([]string{"PORT=8080", "DEBUG=1", "EMPTY=", "EQ=a=b"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	expected := map[string]string{
		"PORT":  "8080",
		"DEBUG": "1",
		"EMPTY": "",
		"EQ":    "a=b",
	}

	if len(env) != len(expected) {
		t.Errorf("Expected %d entries, got %d", len(expected), len(env))
	}
	for key, want := range expected {
		if got, ok := env[key]; !ok || got != want {
			t.Errorf("Expected env[%q] = %q, got %q (present: %v)", key, want, got, ok)
		}
	}
}

func TestParseEnvVars_Empty(t *testing.T) {
	env, err := parseEnvVars(nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if env != nil {
		t.Errorf("Expected nil map for no flags, got %v", env)
	}
}

func TestParseEnvVars_Invalid(t *testing.T) {
	for _, pair := range []string{"NOVALUE", "=value"} {
		if _, err := parseEnvVars([]string{pair}); err == nil {
			t.Errorf("Expected error for %q, got nil", pair)
		}
	}
}
