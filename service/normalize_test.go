package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"wss://relay.example.com", "wss://relay.example.com"},
		{"wss://relay.example.com/", "wss://relay.example.com"},
		{"  WSS://Relay.Example.COM/  ", "wss://relay.example.com"},
		{"wss://relay.example.com:443", "wss://relay.example.com"},
		{"ws://relay.example.com:80/", "ws://relay.example.com"},
		{"wss://relay.example.com:7777", "wss://relay.example.com:7777"},
		{"wss://relay.example.com/inbox/", "wss://relay.example.com/inbox"},
		{"wss://relay.example.com/Inbox", "wss://relay.example.com/Inbox"},
		{"wss://relay.example.com#frag", "wss://relay.example.com"},
		{"wss://relay.example.com?x=1", "wss://relay.example.com?x=1"},
		{"wss://[::1]:443", "wss://[::1]"},
		{"wss://[::1]:8080", "wss://[::1]:8080"},
		{"Relay.Example.com/", "relay.example.com"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeURL(tt.in), tt.in)
	}
}

func TestNormalizeURL_EquivalentFormsCollapse(t *testing.T) {
	a := NormalizeURL("wss://relay.damus.io")
	b := NormalizeURL("WSS://relay.damus.io:443/")
	assert.Equal(t, a, b)
}
