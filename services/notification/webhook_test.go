package notification

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"clientops-controlplane/pkg/config"
	"clientops-controlplane/pkg/taskname"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestWebhookSenderSignsPayload(t *testing.T) {
	var gotSig, gotKind string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotKind = r.Header.Get("X-Event-Kind")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.Automation.WebhookURL = srv.URL
	cfg.Automation.WebhookSecret = "topsecret"

	body, err := json.Marshal(Event{Event: GuaranteeResolved, EntityID: "1", OccurredAt: time.Now()})
	require.NoError(t, err)

	require.NoError(t, NewWebhookSender(cfg).Send(context.Background(), taskname.LifecycleNotify, body))
	require.Equal(t, body, gotBody)
	require.Equal(t, Sign("topsecret", body), gotSig)
	require.Equal(t, taskname.LifecycleNotify, gotKind)
}

func TestWebhookSenderNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.Automation.WebhookURL = srv.URL

	err := NewWebhookSender(cfg).Send(context.Background(), taskname.LifecycleNotify, []byte(`{}`))
	require.Error(t, err)
}

type senderFunc func(ctx context.Context, kind string, body []byte) error

func (f senderFunc) Send(ctx context.Context, kind string, body []byte) error {
	return f(ctx, kind, body)
}

func TestHandlerDropsWhenUnconfigured(t *testing.T) {
	h := NewHandler(HandlerParams{Sender: NewWebhookSender(&config.Config{})})
	err := h.HandleLifecycle(context.Background(), asynq.NewTask(taskname.LifecycleNotify, []byte(`{}`)))
	require.NoError(t, err)
}

func TestHandlerPropagatesDeliveryError(t *testing.T) {
	h := NewHandler(HandlerParams{Sender: senderFunc(func(ctx context.Context, kind string, body []byte) error {
		require.Equal(t, taskname.PayoutRefundRequested, kind)
		return io.ErrUnexpectedEOF
	})})
	err := h.HandleRefundRequest(context.Background(), asynq.NewTask(taskname.PayoutRefundRequested, []byte(`{}`)))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
