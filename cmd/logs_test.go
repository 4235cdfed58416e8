package cmd

import (
	"testing"

	"github.com/gopm-io/gopm/internal/protocol"
)

func TestParseStream(t *testing.T) {
	tests := []struct {
		value    string
		expected protocol.StreamType
	}{
		{"stdout", protocol.StreamStdout},
		{"stderr", protocol.StreamStderr},
		{"both", protocol.StreamBoth},
		{"", protocol.StreamBoth},
	}

	for _, tt := range tests {
		got, err := parseStream(tt.value)
		if err != nil {
			t.Errorf("parseStream(%q): expected no error, got %v", tt.value, err)
			continue
		}
		if got != tt.expected {
			t.Errorf("parseStream(%q): expected %q, got %q", tt.value, tt.expected, got)
		}
	}

	if _, err := parseStream("all"); err == nil {
		t.Error("Expected error for invalid stream value, got nil")
	}
}

func TestCompileFilter(t *testing.T) {
	filter, err := compileFilter("timeout|refused")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !filter.MatchString("connection refused") {
		t.Error("Expected filter to match 'connection refused'")
	}
	if filter.MatchString("all good") {
		t.Error("Expected filter not to match 'all good'")
	}
}

func TestCompileFilter_Empty(t *testing.T) {
	filter, err := compileFilter("")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if filter != nil {
		t.Error("Expected nil filter for empty pattern")
	}
}

func TestCompileFilter_Invalid(t *testing.T) {
	if _, err := compileFilter("(unclosed"); err == nil {
		t.Error("Expected error for invalid pattern, got nil")
	}
}
