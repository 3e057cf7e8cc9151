package chatbot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"MetaChat/internal/backend"
	"MetaChat/internal/config"
	"MetaChat/internal/session"
	"MetaChat/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedResponder replies only when release is closed
type gatedResponder struct {
	release chan struct{}
	reply   string
	err     error
	calls   int32
}

func newGated(reply string, err error) *gatedResponder {
	return &gatedResponder{release: make(chan struct{}), reply: reply, err: err}
}

func (g *gatedResponder) Name() string { return "gated" }

func (g *gatedResponder) Reply(ctx context.Context, text string) (string, error) {
	atomic.AddInt32(&g.calls, 1)
	<-g.release
	return g.reply, g.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newController(t *testing.T, simulated, remote backend.Responder, useSimulated bool) (*Controller, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	c := New(Options{
		Store:        st,
		Simulated:    simulated,
		Remote:       remote,
		UseSimulated: useSimulated,
		Logger:       quietLogger(),
	})
	return c, st
}

func waitSettled(t *testing.T, ex *Exchange) session.Message {
	t.Helper()
	select {
	case <-ex.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("exchange did not settle")
	}
	return ex.Wait()
}

func TestSendMessageAppendsUserThenReply(t *testing.T) {
	g := newGated("pong", nil)
	c, _ := newController(t, g, nil, true)

	ex, ok := c.SendMessage(context.Background(), "ping")
	require.True(t, ok)

	// the user message is visible before the reply resolves
	st := c.Snapshot()
	require.Len(t, st.Messages, 1)
	assert.Equal(t, session.SenderUser, st.Messages[0].Sender)
	assert.Equal(t, "ping", st.Messages[0].Text)
	assert.True(t, st.Loading)
	assert.Equal(t, st.Messages[0], ex.User)

	close(g.release)
	reply := waitSettled(t, ex)

	st = c.Snapshot()
	require.Len(t, st.Messages, 2)
	assert.Equal(t, session.SenderAI, reply.Sender)
	assert.Equal(t, "pong", reply.Text)
	assert.False(t, reply.IsError)
	assert.Equal(t, reply, st.Messages[1])
	assert.False(t, st.Loading)
}

func TestSendMessageKeepsRawText(t *testing.T) {
	g := newGated("ok", nil)
	close(g.release)
	c, _ := newController(t, g, nil, true)

	ex, ok := c.SendMessage(context.Background(), "  padded  ")
	require.True(t, ok)
	waitSettled(t, ex)

	assert.Equal(t, "  padded  ", c.Snapshot().Messages[0].Text)
}

func TestSendMessageBlankIsNoop(t *testing.T) {
	g := newGated("ok", nil)
	c, _ := newController(t, g, nil, true)

	for _, text := range []string{"", " ", "\t\n", "   \r\n  "} {
		ex, ok := c.SendMessage(context.Background(), text)
		assert.False(t, ok, "text %q", text)
		assert.Nil(t, ex)
	}

	st := c.Snapshot()
	assert.Empty(t, st.Messages)
	assert.False(t, st.Loading)
	assert.Equal(t, int32(0), atomic.LoadInt32(&g.calls))
}

func TestSendMessageWhileLoadingIsNoop(t *testing.T) {
	g := newGated("first reply", nil)
	c, _ := newController(t, g, nil, true)

	ex, ok := c.SendMessage(context.Background(), "first")
	require.True(t, ok)

	second, ok := c.SendMessage(context.Background(), "second")
	assert.False(t, ok)
	assert.Nil(t, second)
	assert.Len(t, c.Snapshot().Messages, 1)

	close(g.release)
	waitSettled(t, ex)

	st := c.Snapshot()
	require.Len(t, st.Messages, 2)
	assert.Equal(t, "first reply", st.Messages[1].Text)
	assert.Equal(t, int32(1), atomic.LoadInt32(&g.calls))
}

func TestSendMessageConcurrentSubmissionsAcceptOne(t *testing.T) {
	g := newGated("ok", nil)
	c, _ := newController(t, g, nil, true)

	var accepted int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := c.SendMessage(context.Background(), "hi"); ok {
				atomic.AddInt32(&accepted, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted)
	assert.Len(t, c.Snapshot().Messages, 1)
	close(g.release)
}

func TestSendMessageFailureAppendsSystemError(t *testing.T) {
	g := newGated("", errors.New("connection refused"))
	close(g.release)
	c, _ := newController(t, nil, g, false)

	ex, ok := c.SendMessage(context.Background(), "hello")
	require.True(t, ok)
	reply := waitSettled(t, ex)

	assert.Equal(t, session.SenderSystem, reply.Sender)
	assert.True(t, reply.IsError)
	assert.Equal(t, ErrorText, reply.Text)

	st := c.Snapshot()
	assert.Len(t, st.Messages, 2)
	assert.False(t, st.Loading)
}

func TestSendMessageIgnoresCallerCancellation(t *testing.T) {
	g := newGated("late", nil)
	c, _ := newController(t, g, nil, true)

	ctx, cancel := context.WithCancel(context.Background())
	ex, ok := c.SendMessage(ctx, "hi")
	require.True(t, ok)
	cancel()

	close(g.release)
	reply := waitSettled(t, ex)
	assert.Equal(t, session.SenderAI, reply.Sender)
	assert.Equal(t, "late", reply.Text)
}

func TestSendMessageUsesResponderChosenAtSubmission(t *testing.T) {
	sim := newGated("from simulated", nil)
	remote := newGated("from remote", nil)
	close(remote.release)
	c, _ := newController(t, sim, remote, true)

	ex, ok := c.SendMessage(context.Background(), "hi")
	require.True(t, ok)
	c.ToggleResponder()
	close(sim.release)

	assert.Equal(t, "from simulated", waitSettled(t, ex).Text)

	ex, ok = c.SendMessage(context.Background(), "again")
	require.True(t, ok)
	assert.Equal(t, "from remote", waitSettled(t, ex).Text)
}

func TestMessageIDsStrictlyIncrease(t *testing.T) {
	g := newGated("ok", nil)
	close(g.release)
	fixed := time.UnixMilli(1_700_000_000_000)
	c := New(Options{
		Store:        store.NewMemoryStore(),
		Simulated:    g,
		UseSimulated: true,
		Logger:       quietLogger(),
		Now:          func() time.Time { return fixed },
	})

	for i := 0; i < 3; i++ {
		ex, ok := c.SendMessage(context.Background(), "hi")
		require.True(t, ok)
		waitSettled(t, ex)
	}

	msgs := c.Snapshot().Messages
	require.Len(t, msgs, 6)
	assert.Equal(t, fixed.UnixMilli(), msgs[0].ID)
	for i := 1; i < len(msgs); i++ {
		assert.Greater(t, msgs[i].ID, msgs[i-1].ID)
	}
}

func TestClearKeepsCredentialAndMode(t *testing.T) {
	g := newGated("ok", nil)
	close(g.release)
	c, _ := newController(t, nil, g, false)
	c.SubmitCredential(context.Background(), "sk-test")

	ex, ok := c.SendMessage(context.Background(), "hi")
	require.True(t, ok)
	waitSettled(t, ex)
	require.Len(t, c.Snapshot().Messages, 2)

	c.Clear()

	st := c.Snapshot()
	assert.Empty(t, st.Messages)
	assert.Equal(t, "sk-test", st.Credential)
	assert.True(t, st.CredentialConfirmed)
	assert.False(t, st.UseSimulated)

	c.Clear()
	assert.Empty(t, c.Snapshot().Messages)
}

func TestToggleResponderTwiceRestoresState(t *testing.T) {
	c, _ := newController(t, nil, nil, true)
	before := c.Snapshot()

	assert.False(t, c.ToggleResponder())
	assert.False(t, c.UseSimulated())
	assert.True(t, c.ToggleResponder())

	assert.Equal(t, before, c.Snapshot())
}

func TestSubmitCredentialPersists(t *testing.T) {
	c, st := newController(t, nil, nil, true)
	assert.False(t, c.Ready())

	c.SubmitCredential(context.Background(), "abc")
	assert.True(t, c.Ready())
	assert.Equal(t, "abc", c.Credential())

	v, ok, err := st.Get(context.Background(), config.CredentialKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", v)
}

func TestSubmitCredentialAcceptsEmpty(t *testing.T) {
	c, st := newController(t, nil, nil, true)

	c.SubmitCredential(context.Background(), "")
	assert.True(t, c.Ready())

	v, ok, err := st.Get(context.Background(), config.CredentialKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "", v)
}

func TestStartWithStoredCredentialIsReady(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metachat.db")
	db, err := store.OpenSQLite(path)
	require.NoError(t, err)

	first := New(Options{Store: db, Logger: quietLogger()})
	first.SubmitCredential(context.Background(), "abc")
	require.NoError(t, db.Close())

	db, err = store.OpenSQLite(path)
	require.NoError(t, err)
	defer db.Close()

	second := New(Options{Store: db, Logger: quietLogger()})
	assert.False(t, second.Ready())
	second.Start(context.Background())

	assert.True(t, second.Ready())
	assert.Equal(t, "abc", second.Credential())
}

func TestStartWithStoredEmptyCredentialPrompts(t *testing.T) {
	st := store.NewMemoryStore()
	require.NoError(t, st.Set(context.Background(), config.CredentialKey, ""))

	c := New(Options{Store: st, Logger: quietLogger()})
	c.Start(context.Background())
	assert.False(t, c.Ready())
}

func TestStartWithoutCredentialPrompts(t *testing.T) {
	c, _ := newController(t, nil, nil, true)
	c.Start(context.Background())
	assert.False(t, c.Ready())
}

func TestSnapshotDoesNotAlias(t *testing.T) {
	g := newGated("ok", nil)
	close(g.release)
	c, _ := newController(t, g, nil, true)

	ex, _ := c.SendMessage(context.Background(), "hi")
	waitSettled(t, ex)

	snap := c.Snapshot()
	snap.Messages[0].Text = "mutated"
	assert.Equal(t, "hi", c.Snapshot().Messages[0].Text)
}

func TestSimulatedModeRepliesWithTemplate(t *testing.T) {
	sim := backend.NewSimulated(10 * time.Millisecond)
	c, _ := newController(t, sim, nil, true)

	ex, ok := c.SendMessage(context.Background(), "hello")
	require.True(t, ok)
	reply := waitSettled(t, ex)

	assert.Equal(t, session.SenderAI, reply.Sender)
	assert.Contains(t, backend.SimulatedReplies("hello"), reply.Text)
}

func TestRemoteModeEndToEnd(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), `"content":"hello"`)
		assert.Contains(t, string(body), `"api_key":"sk-test"`)
		http.Error(w, "internal", http.StatusInternalServerError)
	}))
	defer srv.Close()

	var c *Controller
	remote := backend.NewRemote(srv.URL+"/api/chat", config.DefaultModel,
		backend.CredentialFunc(func() string { return c.Credential() }),
		backend.WithLogger(quietLogger()))
	c, _ = newController(t, backend.NewSimulated(0), remote, false)
	c.SubmitCredential(context.Background(), "sk-test")

	ex, ok := c.SendMessage(context.Background(), "hello")
	require.True(t, ok)
	reply := waitSettled(t, ex)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, session.SenderSystem, reply.Sender)
	assert.True(t, reply.IsError)
	assert.Equal(t, ErrorText, reply.Text)
	assert.False(t, c.Loading())

	msgs := c.Snapshot().Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, session.SenderUser, msgs[0].Sender)
}
