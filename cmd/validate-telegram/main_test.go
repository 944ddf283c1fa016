package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OstapBender-commits/ema-signal-bot/internal/config"
)

func fakeTelegram(t *testing.T, chatOK bool) (*httptest.Server, *[]string) {
	t.Helper()
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		calls = append(calls, method)
		w.Header().Set("Content-Type", "application/json")
		switch {
		case method == "getMe":
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":99,"is_bot":true,"first_name":"Signals","username":"ema_signal_bot"}}`))
		case method == "sendChatAction" && chatOK:
			_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
		case method == "sendMessage":
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":1,"chat":{"id":42,"type":"private"}}}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestValidate(t *testing.T) {
	srv, calls := fakeTelegram(t, true)
	var out bytes.Buffer

	err := validate(context.Background(), &out, config.TelegramConfig{
		BotToken: "123:abc",
		ChatID:   "42",
		APIURL:   srv.URL,
	}, true)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "@ema_signal_bot (id 99)")
	assert.Contains(t, out.String(), "Test message sent")
	assert.Equal(t, []string{"getMe", "sendChatAction", "sendMessage"}, *calls)
}

func TestValidate_BadChat(t *testing.T) {
	srv, _ := fakeTelegram(t, false)
	var out bytes.Buffer

	err := validate(context.Background(), &out, config.TelegramConfig{
		BotToken: "123:abc",
		ChatID:   "-100",
		APIURL:   srv.URL,
	}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat -100 is not reachable")
}

func TestValidate_NoToken(t *testing.T) {
	err := validate(context.Background(), &bytes.Buffer{}, config.TelegramConfig{}, false)
	assert.Error(t, err)
}
