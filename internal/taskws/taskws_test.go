package taskws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/park285/runenkrieg/internal/progress"
	"github.com/park285/runenkrieg/internal/task"
	"github.com/park285/runenkrieg/pkg/taskdto"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *task.Runner, chan struct{}) {
	t.Helper()
	r := task.NewRunner(nil)
	stopped := make(chan struct{}, 4)
	r.Handle(taskdto.ActionSimulate, func(ctx context.Context, req taskdto.Request, report progress.Reporter) (any, error) {
		p, err := task.DecodePayload(req)
		if err != nil {
			return nil, err
		}
		tr := progress.NewTracker(ctx, p.Games, report, progress.WithMinInterval(0))
		tr.Phase("simulating rounds")
		for i := 0; i <= p.Games; i++ {
			if err := tr.Step(i); err != nil {
				return nil, err
			}
		}
		return taskdto.SimulateResult{Game: p.Game, Games: p.Games}, nil
	})
	r.Handle(taskdto.ActionTrain, func(ctx context.Context, _ taskdto.Request, report progress.Reporter) (any, error) {
		report(0.1, "waiting")
		<-ctx.Done()
		stopped <- struct{}{}
		return nil, progress.ErrCanceled
	})
	srv := NewServer(r, WithOrigins([]string{"game.example"}))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		r.Close()
	})
	return ts, r, stopped
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func TestClientRunStreamsProgress(t *testing.T) {
	ts, _, _ := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, wsURL(ts))
	require.NoError(t, err)
	defer c.Close()

	payload, _ := json.Marshal(taskdto.Payload{Game: taskdto.GameCards, Games: 10})
	var seen []taskdto.Progress
	ev, err := c.Run(ctx, taskdto.Request{Action: taskdto.ActionSimulate, Payload: payload}, func(p taskdto.Progress) {
		seen = append(seen, p)
	})
	require.NoError(t, err)
	require.Equal(t, taskdto.EventResult, ev.Type)
	require.NotEmpty(t, seen)
	require.Equal(t, "simulating rounds", seen[0].Message)

	var res taskdto.SimulateResult
	require.NoError(t, json.Unmarshal(ev.Result, &res))
	require.Equal(t, 10, res.Games)
}

func TestClientUnknownActionIsError(t *testing.T) {
	ts, _, _ := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, wsURL(ts))
	require.NoError(t, err)
	defer c.Close()

	ev, err := c.Run(ctx, taskdto.Request{ID: "x1", Action: "explode"}, nil)
	require.NoError(t, err)
	require.Equal(t, taskdto.EventError, ev.Type)
	require.Equal(t, "x1", ev.ID)
	require.Contains(t, ev.Error.Message, "unknown task action")
}

func TestClientCancel(t *testing.T) {
	ts, _, stopped := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, wsURL(ts))
	require.NoError(t, err)
	defer c.Close()

	id, events, err := c.Submit(ctx, taskdto.Request{Action: taskdto.ActionTrain})
	require.NoError(t, err)
	first := <-events
	require.Equal(t, taskdto.EventProgress, first.Type)

	require.NoError(t, c.Cancel(ctx, id))
	var last taskdto.Event
	for ev := range events {
		last = ev
	}
	require.Equal(t, taskdto.EventError, last.Type)
	require.Contains(t, last.Error.Message, "canceled")
	<-stopped
}

func TestDisconnectCancelsTasks(t *testing.T) {
	ts, r, stopped := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, wsURL(ts))
	require.NoError(t, err)

	_, events, err := c.Submit(ctx, taskdto.Request{Action: taskdto.ActionTrain})
	require.NoError(t, err)
	<-events
	require.Len(t, r.Running(), 1)

	require.NoError(t, c.Close())
	select {
	case <-stopped:
	case <-ctx.Done():
		t.Fatal("server task was not canceled on disconnect")
	}
	_, _, err = c.Submit(ctx, taskdto.Request{Action: taskdto.ActionTrain})
	require.ErrorIs(t, err, ErrClientClosed)
}

func TestOriginPatterns(t *testing.T) {
	ts, _, _ := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Dial(ctx, wsURL(ts), WithHeaderProvider(func() map[string]string {
		return map[string]string{"Origin": "https://evil.example"}
	}))
	require.Error(t, err)

	c, err := Dial(ctx, wsURL(ts), WithHeaderProvider(func() map[string]string {
		return map[string]string{"Origin": "https://game.example"}
	}))
	require.NoError(t, err)
	require.NoError(t, c.Close())
}

func TestHealthz(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
