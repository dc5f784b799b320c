package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"boletobot/internal/storage"
	"boletobot/internal/transport"
	"boletobot/pkg/logx"
)

func TestCloseCode(t *testing.T) {
	assert.Equal(t, transport.CodeLoggedOut, closeCode(tele.ErrUnauthorized))
	assert.Equal(t, transport.CodeLoggedOut, closeCode(fmt.Errorf("getUpdates: %w", tele.ErrUnauthorized)))
	assert.Equal(t, transport.CodeConnectionClosed,
		closeCode(errors.New("telegram: Conflict: terminated by other getUpdates request (409)")))
	assert.Equal(t, 0, closeCode(errors.New("telegram: Bad Request: chat not found (400)")))
	assert.Equal(t, 0, closeCode(nil))
}

func TestIsNetwork(t *testing.T) {
	err := fmt.Errorf("telebot: %w", &url.Error{Op: "Post", URL: "https://api.telegram.org", Err: errors.New("dial tcp: i/o timeout")})
	assert.True(t, isNetwork(err))
	assert.False(t, isNetwork(errors.New("plain")))
}

func TestWrapSendErr(t *testing.T) {
	assert.NoError(t, wrapSendErr(nil))
	err := wrapSendErr(tele.ErrUnauthorized)
	assert.Equal(t, transport.CodeLoggedOut, transport.CodeOf(err))
	assert.ErrorIs(t, err, tele.ErrUnauthorized)

	plain := errors.New("file too big")
	assert.Equal(t, plain, wrapSendErr(plain))
}

func TestNetStreakResetsAfterQuietWindow(t *testing.T) {
	s := netStreak{window: time.Minute}
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, 1, s.hit(t0))
	assert.Equal(t, 2, s.hit(t0.Add(10*time.Second)))
	assert.Equal(t, 3, s.hit(t0.Add(20*time.Second)))
	assert.Equal(t, 1, s.hit(t0.Add(5*time.Minute)))
}

func TestPairingFile(t *testing.T) {
	dir := t.TempDir()

	p, err := loadPairing(dir)
	require.NoError(t, err)
	assert.Nil(t, p)

	want := Pairing{OperatorID: 42, Operator: "ana", BotUsername: "boletobot", PairedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, savePairing(dir, want))
	got, err := loadPairing(dir)
	require.NoError(t, err)
	assert.Equal(t, want, *got)

	require.NoError(t, os.WriteFile(filepath.Join(dir, pairingFile), []byte("{not json"), 0o600))
	_, err = loadPairing(dir)
	assert.ErrorIs(t, err, errPairingCorrupt)

	require.NoError(t, os.WriteFile(filepath.Join(dir, pairingFile), []byte(`{"bot_username":"x"}`), 0o600))
	_, err = loadPairing(dir)
	assert.ErrorIs(t, err, errPairingCorrupt)
}

func TestPairingCodeAndDeepLink(t *testing.T) {
	code := newPairingCode()
	assert.Len(t, code, 32)
	assert.Regexp(t, `^[0-9a-f]+$`, code)
	assert.NotEqual(t, code, newPairingCode())
	assert.Equal(t, "https://t.me/boletobot?start=abc", deepLink("boletobot", "abc"))
}

func TestNewRequiresToken(t *testing.T) {
	_, err := New(t.TempDir(), Options{Token: "  "})
	assert.Error(t, err)
}

func TestConnectWithCorruptPairingReportsBadSession(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, pairingFile), []byte("garbage"), 0o600))

	c, err := New(dir, Options{Token: "123:abc", Log: logx.Nop()})
	require.NoError(t, err)
	defer c.Close()

	events := make(chan transport.ConnEvent, 1)
	require.NoError(t, c.Connect(context.Background(), events))
	ev := <-events
	closed, ok := ev.(transport.ConnClosed)
	require.True(t, ok)
	assert.Equal(t, transport.CodeBadSession, closed.Code)
}

func TestListGroupsFromStore(t *testing.T) {
	dir := t.TempDir()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "chats.json")}, logx.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, st.UpsertChat(ctx, storage.Chat{ID: -100, Title: "zeta", Type: "supergroup"}))
	require.NoError(t, st.UpsertChat(ctx, storage.Chat{ID: -200, Title: "Alfa", Type: "group"}))

	c, err := New(dir, Options{Token: "123:abc", Log: logx.Nop()})
	require.NoError(t, err)
	c.store = st
	defer c.Close()

	groups, err := c.ListGroups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []transport.Group{{ID: "-200", Name: "Alfa"}, {ID: "-100", Name: "zeta"}}, groups)
}

func TestListGroupsWithoutStore(t *testing.T) {
	c, err := New(t.TempDir(), Options{Token: "123:abc"})
	require.NoError(t, err)
	groups, err := c.ListGroups(context.Background())
	require.NoError(t, err)
	assert.Empty(t, groups)
	assert.NotNil(t, groups)
}

func TestSendBeforeConnectIsClosed(t *testing.T) {
	c, err := New(t.TempDir(), Options{Token: "123:abc"})
	require.NoError(t, err)
	assert.ErrorIs(t, c.SendText(context.Background(), "-100", "oi"), transport.ErrClosed)
	err = c.SendText(context.Background(), "abc", "oi")
	assert.ErrorContains(t, err, "invalid chat id")
	assert.ErrorIs(t, c.Logout(context.Background()), transport.ErrClosed)
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestPollWatchWaitsForAnsweredPoll(t *testing.T) {
	status := http.StatusConflict
	w := newPollWatch(roundTripFunc(func(*http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: status, Body: http.NoBody}, nil
	}))
	call := func(method string) {
		req, err := http.NewRequest(http.MethodPost, "https://api.telegram.org/bot123:abc/"+method, nil)
		require.NoError(t, err)
		_, err = w.RoundTrip(req)
		require.NoError(t, err)
	}
	answered := func() bool {
		select {
		case <-w.ok:
			return true
		default:
			return false
		}
	}

	call("getUpdates")
	assert.False(t, answered(), "a conflicting poll does not count")

	status = http.StatusOK
	call("getMe")
	assert.False(t, answered())

	call("getUpdates")
	assert.True(t, answered())
	call("getUpdates")
}

func TestSessionLockIsExclusive(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "session")
	first, err := New(dir, Options{Token: "123:abc", Log: logx.Nop()})
	require.NoError(t, err)
	require.NoError(t, first.lockSession())

	second, err := New(dir, Options{Token: "123:abc", Log: logx.Nop()})
	require.NoError(t, err)
	err = second.lockSession()
	assert.ErrorIs(t, err, ErrSessionBusy)
	assert.Equal(t, transport.CodeConnectionClosed, transport.CodeOf(err))

	require.NoError(t, first.Close())
	require.NoError(t, second.lockSession())
	require.NoError(t, second.Close())
}
