package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTwilioSenderPostsWhatsApp(t *testing.T) {
	var gotTo, gotFrom, gotBody, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "secret", pass)
		require.NoError(t, r.ParseForm())
		gotPath = r.URL.Path
		gotTo, gotFrom, gotBody = r.PostForm.Get("To"), r.PostForm.Get("From"), r.PostForm.Get("Body")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM42","status":"queued"}`))
	}))
	defer srv.Close()

	s := NewTwilioSender("AC123", "secret", "+14155238886", zerolog.Nop()).WithBaseURL(srv.URL)
	sid, err := s.SendText(context.Background(), "+573001112233", "hola")
	require.NoError(t, err)
	assert.Equal(t, "SM42", sid)
	assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", gotPath)
	assert.Equal(t, "whatsapp:+573001112233", gotTo)
	assert.Equal(t, "whatsapp:+14155238886", gotFrom)
	assert.Equal(t, "hola", gotBody)
}

func TestTwilioSenderDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number"}`))
	}))
	defer srv.Close()

	s := NewTwilioSender("AC123", "secret", "+14155238886", zerolog.Nop()).WithBaseURL(srv.URL)
	_, err := s.SendText(context.Background(), "bad", "hola")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code 21211")
	assert.Equal(t, int32(1), calls.Load())
}

func TestTwilioSenderRequiresCredentials(t *testing.T) {
	_, err := NewTwilioSender("", "", "", zerolog.Nop()).SendText(context.Background(), "+1", "x")
	assert.Error(t, err)
}
