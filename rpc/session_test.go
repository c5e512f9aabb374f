package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"duplex-rpc/message"
	"duplex-rpc/middleware"
	"duplex-rpc/registry"
)

type loginArg struct {
	SessionID int    `json:"sessionID" cbor:"sessionID"`
	Username  string `json:"username" cbor:"username"`
}

type secretArg struct {
	SessionID int    `json:"sessionID" cbor:"sessionID"`
	Prompt    string `json:"prompt" cbor:"prompt"`
}

type replayArg struct {
	Stale int `json:"stale" cbor:"stale"`
}

type seenSession struct {
	id     int
	active bool
	ok     bool
}

// daemonMethods serves a login that prompts the caller for a secret within the caller's session,
// and a replay method that prompts with an arbitrary (possibly stale) session id.
func daemonMethods() *registry.Registry {
	r := registry.New()
	r.Register("keybase.1.login", "passphraseLogin", registry.Typed(func(ctx context.Context, arg loginArg) (string, error) {
		conn, ok := ConnFromContext(ctx)
		if !ok {
			return "", message.Internal("no connection in context")
		}
		var secret string
		if err := conn.Call(ctx, "keybase.1.secretUi", "getSecret", secretArg{SessionID: arg.SessionID, Prompt: "passphrase for " + arg.Username}, &secret); err != nil {
			return "", err
		}
		return arg.Username + ":" + secret, nil
	}))
	r.Register("keybase.1.login", "replay", registry.TypedVoid(func(ctx context.Context, arg replayArg) error {
		conn, _ := ConnFromContext(ctx)
		return conn.Call(ctx, "keybase.1.secretUi", "getSecret", secretArg{SessionID: arg.Stale}, nil)
	}))
	return r
}

func uiMethods(seen chan<- seenSession) *registry.Registry {
	r := registry.New()
	r.Register("keybase.1.secretUi", "getSecret", registry.Typed(func(ctx context.Context, arg secretArg) (string, error) {
		id, active, ok := SessionFromContext(ctx)
		seen <- seenSession{id: id, active: active, ok: ok}
		return "hunter2", nil
	}))
	return r
}

func TestSessionCallback(t *testing.T) {
	as := require.New(t)
	seen := make(chan seenSession, 1)
	_, cli := connPair(t, daemonMethods(), uiMethods(seen), nil, nil)

	var sid int
	var out string
	err := cli.CallSession(context.Background(), "keybase.1.login", "passphraseLogin", func(sessionID int) any {
		sid = sessionID
		as.True(cli.Sessions().IsActive(sessionID))
		return loginArg{SessionID: sessionID, Username: "max"}
	}, &out)
	as.NoError(err)
	as.Equal("max:hunter2", out)

	got := <-seen
	as.True(got.ok)
	as.True(got.active, "session must be active while its owning call is outstanding")
	as.Equal(sid, got.id)
	as.NotZero(sid)

	as.False(cli.Sessions().IsActive(sid), "session must end with its owning call")
	as.Equal(0, cli.Sessions().Len())
}

func TestSessionIDsAreDistinct(t *testing.T) {
	as := require.New(t)
	seen := make(chan seenSession, 2)
	_, cli := connPair(t, daemonMethods(), uiMethods(seen), nil, nil)

	ids := map[int]bool{}
	for i := 0; i < 2; i++ {
		as.NoError(cli.CallSession(context.Background(), "keybase.1.login", "passphraseLogin", func(sessionID int) any {
			ids[sessionID] = true
			return loginArg{SessionID: sessionID}
		}, nil))
	}
	as.Len(ids, 2)
}

func TestStaleSessionCallback(t *testing.T) {
	as := require.New(t)
	seen := make(chan seenSession, 2)
	_, cli := connPair(t, daemonMethods(), uiMethods(seen), nil, nil)

	var sid int
	as.NoError(cli.CallSession(context.Background(), "keybase.1.login", "passphraseLogin", func(sessionID int) any {
		sid = sessionID
		return loginArg{SessionID: sessionID}
	}, nil))
	<-seen

	// Without the guard the handler still runs and observes the session as inactive.
	as.NoError(cli.Call(context.Background(), "keybase.1.login", "replay", replayArg{Stale: sid}, nil))
	got := <-seen
	as.True(got.ok)
	as.False(got.active)
	as.Equal(sid, got.id)
}

func TestStaleSessionGuard(t *testing.T) {
	as := require.New(t)
	seen := make(chan seenSession, 2)
	_, cli := connPair(t, daemonMethods(), uiMethods(seen), nil, []Option{WithMiddleware(middleware.StaleSessionGuard())})

	var sid int
	as.NoError(cli.CallSession(context.Background(), "keybase.1.login", "passphraseLogin", func(sessionID int) any {
		sid = sessionID
		return loginArg{SessionID: sessionID}
	}, nil))
	<-seen

	// The guard rejects the callback; the daemon passes the status through to the original caller.
	err := cli.Call(context.Background(), "keybase.1.login", "replay", replayArg{Stale: sid}, nil)
	as.True(message.HasCode(err, message.CodeBadSession), "got %v", err)
	as.Empty(seen)
}

func TestSessionEndsOnClose(t *testing.T) {
	as := require.New(t)

	entered := make(chan struct{})
	methods := registry.New()
	methods.Register("keybase.1.device", "deviceList", func(ctx context.Context, p registry.Params) (any, error) {
		close(entered)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	_, cli := connPair(t, methods, nil, nil, nil)

	var sid int
	f := &calltableFuture{p: cli.GoSession(context.Background(), "keybase.1.device", "deviceList", func(sessionID int) any {
		sid = sessionID
		return map[string]int{"sessionID": sessionID}
	})}
	<-entered
	as.True(cli.Sessions().IsActive(sid))

	cli.Close()
	as.ErrorIs(f.wait(nil), ErrClosed)
	as.False(cli.Sessions().IsActive(sid))
	as.Equal(0, cli.Sessions().Len())
}

func TestSessionEndsWhenCallAbandoned(t *testing.T) {
	as := require.New(t)
	release := make(chan struct{})
	defer close(release)
	methods := registry.New()
	methods.Register("keybase.1.login", "slow", registry.TypedVoid(func(ctx context.Context, arg loginArg) error {
		<-release
		return nil
	}))
	_, cli := connPair(t, methods, nil, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	var sid int
	err := cli.CallSession(ctx, "keybase.1.login", "slow", func(sessionID int) any {
		sid = sessionID
		return loginArg{SessionID: sessionID, Username: "max"}
	}, nil)
	as.ErrorIs(err, context.DeadlineExceeded)
	as.NotZero(sid)
	as.False(cli.Sessions().IsActive(sid))
	as.Equal(0, cli.Sessions().Len())
	as.Equal(0, cli.Pending())
}
