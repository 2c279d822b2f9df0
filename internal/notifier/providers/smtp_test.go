package providers

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSend(t *testing.T) {
	s := NewSMTPSender("smtp.example.com", 587, "user", "pass", "tootrank@example.com")

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	var gotAuth smtp.Auth
	s.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotFrom, gotTo, gotMsg = addr, a, from, to, msg
		return nil
	}

	require.NoError(t, s.Send("me@example.com", "Recommended for you", "<p>hi</p>", "hi"))
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.NotNil(t, gotAuth)
	assert.Equal(t, "tootrank@example.com", gotFrom)
	assert.Equal(t, []string{"me@example.com"}, gotTo)
	assert.Contains(t, string(gotMsg), "Subject: Recommended for you\r\n")

	s.sendMail = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("550") }
	assert.ErrorContains(t, s.Send("me@example.com", "x", "", ""), "550")
}

func TestBuildMessage(t *testing.T) {
	now := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	msg := string(buildMessage("a@example.com", "b@example.com", "Grüße", "<b>html</b>", "plain", now))

	assert.Contains(t, msg, "Subject: =?utf-8?q?Gr=C3=BC=C3=9Fe?=\r\n")
	assert.Contains(t, msg, "Date: Sun, 01 Mar 2026 07:00:00 +0000\r\n")

	plainAt := strings.Index(msg, "text/plain")
	htmlAt := strings.Index(msg, "text/html")
	require.Positive(t, plainAt)
	assert.Greater(t, htmlAt, plainAt)
	assert.True(t, strings.HasSuffix(msg, "--\r\n"))
}
