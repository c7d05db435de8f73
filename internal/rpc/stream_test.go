package rpc_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/broady/sdkplay/internal/rpc"
	"github.com/broady/sdkplay/testutil"
)

type countRequest struct {
	To int `json:"to" validate:"min=1"`
}

func count(ctx context.Context, req *countRequest, e rpc.Emitter[int]) error {
	for i := 1; i <= req.To; i++ {
		if err := e.SendWithID(fmt.Sprint(i), i); err != nil {
			return err
		}
	}
	return nil
}

func TestStream_Events(t *testing.T) {
	app := rpc.NewApp().WithStreamHeartbeat(0)
	app.Service("Test").Register("Count", rpc.Stream(count))

	w := testutil.NewRequest().POST("/Test/Count").WithJSON(countRequest{To: 3}).Do(app.Handler())

	testutil.AssertStatus(t, w, http.StatusOK)
	testutil.AssertHeader(t, w, "Content-Type", "text/event-stream")
	events := testutil.ReadEvents(t, w.Body.String())
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %s", len(events), w.Body.String())
	}
	for i, ev := range events {
		var env struct{ Result int }
		if err := json.Unmarshal(ev.Data, &env); err != nil {
			t.Fatal(err)
		}
		if env.Result != i+1 || ev.ID != fmt.Sprint(i+1) {
			t.Errorf("event %d: got id=%s result=%d", i, ev.ID, env.Result)
		}
	}
}

func TestStream_ValidationRejectsBeforeStreaming(t *testing.T) {
	app := rpc.NewApp()
	app.Service("Test").Register("Count", rpc.Stream(count))

	w := testutil.NewRequest().POST("/Test/Count").WithJSON(countRequest{To: 0}).Do(app.Handler())
	testutil.AssertStatus(t, w, http.StatusBadRequest)
	testutil.AssertJSONError(t, w, "invalid_argument")
}

func TestStream_SetupInterceptorRejects(t *testing.T) {
	app := rpc.NewApp().WithUnaryInterceptor(func(ctx rpc.Context, req any, next rpc.HandlerFunc) (any, error) {
		return nil, rpc.NewError(rpc.CodeFailedPrecondition, "no session")
	})
	app.Service("Test").Register("Count", rpc.Stream(count))

	w := testutil.NewRequest().POST("/Test/Count").WithJSON(countRequest{To: 1}).Do(app.Handler())
	testutil.AssertStatus(t, w, http.StatusPreconditionFailed)
}

func TestStream_ErrorEvent(t *testing.T) {
	app := rpc.NewApp().WithStreamHeartbeat(0)
	app.Service("Test").Register("Fail", rpc.Stream(func(ctx context.Context, _ rpc.Empty, e rpc.Emitter[string]) error {
		if err := e.Send("first"); err != nil {
			return err
		}
		return rpc.NewError(rpc.CodeUpstream, "sdk went away")
	}))

	w := testutil.NewRequest().POST("/Test/Fail").Do(app.Handler())
	events := testutil.ReadEvents(t, w.Body.String())
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d: %s", len(events), w.Body.String())
	}
	if events[1].Event != "error" {
		t.Errorf("expected an error event, got %q", events[1].Event)
	}
	var env struct {
		Error testutil.ErrorResponse `json:"error"`
	}
	if err := json.Unmarshal(events[1].Data, &env); err != nil {
		t.Fatal(err)
	}
	if env.Error.Code != "upstream" {
		t.Errorf("expected upstream, got %q", env.Error.Code)
	}
}

func TestStream_Heartbeat(t *testing.T) {
	app := rpc.NewApp()
	release := make(chan struct{})
	app.Service("Test").Register("Idle", rpc.Stream(func(ctx context.Context, _ rpc.Empty, e rpc.Emitter[string]) error {
		<-release
		return e.Send("done")
	}).WithHeartbeat(5*time.Millisecond))

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()
	w := testutil.NewRequest().POST("/Test/Idle").Do(app.Handler())
	if !strings.Contains(w.Body.String(), ": heartbeat\n\n") {
		t.Errorf("expected heartbeat comments, got %q", w.Body.String())
	}
	if events := testutil.ReadEvents(t, w.Body.String()); len(events) != 1 {
		t.Errorf("expected 1 event, got %d", len(events))
	}
}

func TestStream_ClientDisconnect(t *testing.T) {
	app := rpc.NewApp().WithStreamHeartbeat(0)
	closed := make(chan error, 1)
	app.Service("Test").Register("Forever", rpc.Stream(func(ctx context.Context, _ rpc.Empty, e rpc.Emitter[int]) error {
		for i := 0; ; i++ {
			if err := e.Send(i); err != nil {
				closed <- err
				return err
			}
		}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/Test/Forever", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		app.Handler().ServeHTTP(w, req)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler did not return after disconnect")
	}
	select {
	case err := <-closed:
		if !errors.Is(err, rpc.ErrStreamClosed) {
			t.Errorf("expected ErrStreamClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("emitter did not report the closed stream")
	}
}
