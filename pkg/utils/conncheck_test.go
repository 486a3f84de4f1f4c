package utils

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func TestExtractFromWebsocketURL(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		wantAddr  string
		wantProto string
	}{
		{"with port", "ws://localhost:8000/ws/live/s1", "localhost:8000", "ws"},
		{"ws default", "ws://race.example.com/ws/live/s1", "race.example.com:80", "ws"},
		{"wss default", "wss://race.example.com/ws", "race.example.com:443", "wss"},
		{"no path", "ws://host:9000", "host:9000", "ws"},
		{"no match", "http://host/ws", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, proto := ExtractFromWebsocketURL(tt.url)
			assert.Equal(t, addr, tt.wantAddr)
			assert.Equal(t, proto, tt.wantProto)
		})
	}
}

func TestExtractFromHTTPURL(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		wantAddr  string
		wantProto string
	}{
		{"with port", "http://localhost:8000", "localhost:8000", "http"},
		{"http default", "http://api.example.com/backend", "api.example.com:80", "http"},
		{"https default", "https://api.example.com", "api.example.com:443", "https"},
		{"no match", "ftp://host", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, proto := ExtractFromHTTPURL(tt.url)
			assert.Equal(t, addr, tt.wantAddr)
			assert.Equal(t, proto, tt.wantProto)
		})
	}
}

func TestExtractFromNatsURL(t *testing.T) {
	assert.Equal(t, ExtractFromNatsURL("nats://localhost:4333"), "localhost:4333")
	assert.Equal(t, ExtractFromNatsURL("nats://user:pw@broker"), "broker:4222")
	assert.Equal(t, ExtractFromNatsURL("nats://a:1,nats://b:2"), "a:1")
	assert.Equal(t, ExtractFromNatsURL("localhost"), "")
}

func TestWaitForTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	defer ln.Close()
	assert.NilError(t, WaitForTCP(ln.Addr().String(), time.Second))

	addr := ln.Addr().String()
	ln.Close()
	assert.ErrorContains(t, WaitForTCP(addr, 300*time.Millisecond), "could not be reached")
}

func TestWaitForHTTPResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	assert.NilError(t, WaitForHTTPResponse(srv.URL, time.Second))
}
