package rpc_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/broady/sdkplay/internal/rpc"
	"github.com/broady/sdkplay/testutil"
)

type greetRequest struct {
	Name string `json:"name" validate:"required"`
}

type greetResponse struct {
	Message string `json:"message"`
}

type searchParams struct {
	Area  string `json:"area"`
	Limit int    `json:"limit" validate:"omitempty,max=50"`
}

func greet(ctx context.Context, req *greetRequest) (*greetResponse, error) {
	return &greetResponse{Message: "hello " + req.Name}, nil
}

func search(ctx context.Context, req *searchParams) ([]string, error) {
	out := []string{req.Area}
	for range req.Limit {
		out = append(out, "x")
	}
	return out, nil
}

func newTestApp() *rpc.App {
	app := rpc.NewApp()
	svc := app.Service("Test")
	svc.Register("Greet", rpc.Exec(greet))
	svc.Register("Search", rpc.Query(search).WithCacheTTL(time.Minute))
	return app
}

func TestExec_Success(t *testing.T) {
	w := testutil.NewRequest().
		POST("/Test/Greet").
		WithJSON(greetRequest{Name: "alice"}).
		Do(newTestApp().Handler())

	testutil.AssertStatus(t, w, http.StatusOK)
	var res greetResponse
	testutil.DecodeResult(t, w, &res)
	if res.Message != "hello alice" {
		t.Errorf("expected hello alice, got %q", res.Message)
	}
}

func TestExec_ValidationError(t *testing.T) {
	w := testutil.NewRequest().
		POST("/Test/Greet").
		WithJSON(greetRequest{}).
		Do(newTestApp().Handler())

	testutil.AssertStatus(t, w, http.StatusBadRequest)
	errResp := testutil.AssertJSONError(t, w, "invalid_argument")
	if errResp.Details["Name"] != "required" {
		t.Errorf("expected Name detail, got %v", errResp.Details)
	}
}

func TestExec_MalformedBody(t *testing.T) {
	w := testutil.NewRequest().
		POST("/Test/Greet").
		WithBody("{not json").
		Do(newTestApp().Handler())

	testutil.AssertStatus(t, w, http.StatusBadRequest)
	testutil.AssertJSONError(t, w, "invalid_argument")
}

func TestExec_BodyTooLarge(t *testing.T) {
	app := newTestApp().WithMaxRequestBodySize(16)
	w := testutil.NewRequest().
		POST("/Test/Greet").
		WithJSON(greetRequest{Name: strings.Repeat("a", 64)}).
		Do(app.Handler())

	testutil.AssertStatus(t, w, http.StatusRequestEntityTooLarge)
	testutil.AssertJSONError(t, w, "resource_exhausted")
}

func TestQuery_DecodesURL(t *testing.T) {
	w := testutil.NewRequest().
		GET("/Test/Search").
		WithQuery("area", "message").
		WithQuery("limit", "2").
		Do(newTestApp().Handler())

	testutil.AssertStatus(t, w, http.StatusOK)
	testutil.AssertHeader(t, w, "Cache-Control", "max-age=60")
	var res []string
	testutil.DecodeResult(t, w, &res)
	if len(res) != 3 || res[0] != "message" {
		t.Errorf("unexpected result %v", res)
	}
}

func TestQuery_ValidationError(t *testing.T) {
	w := testutil.NewRequest().
		GET("/Test/Search").
		WithQuery("limit", "100").
		Do(newTestApp().Handler())

	testutil.AssertStatus(t, w, http.StatusBadRequest)
	testutil.AssertJSONError(t, w, "invalid_argument")
}

func TestRouting(t *testing.T) {
	h := newTestApp().Handler()

	tests := []struct {
		name   string
		method string
		path   string
		status int
		code   string
	}{
		{"unknown method", http.MethodPost, "/Test/Nope", http.StatusNotFound, "not_found"},
		{"unknown service", http.MethodPost, "/Other/Greet", http.StatusNotFound, "not_found"},
		{"short path", http.MethodGet, "/Test", http.StatusNotFound, "not_found"},
		{"exec via GET", http.MethodGet, "/Test/Greet", http.StatusMethodNotAllowed, "method_not_allowed"},
		{"query via POST", http.MethodPost, "/Test/Search", http.StatusMethodNotAllowed, "method_not_allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testutil.NewRequest()
			if tt.method == http.MethodGet {
				b.GET(tt.path)
			} else {
				b.POST(tt.path)
			}
			w := b.Do(h)
			testutil.AssertStatus(t, w, tt.status)
			testutil.AssertJSONError(t, w, tt.code)
		})
	}
}

func TestErrorCodes(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{rpc.NewError(rpc.CodeFailedPrecondition, "not ready"), http.StatusPreconditionFailed, "failed_precondition"},
		{rpc.NewError(rpc.CodeUpstream, "sdk said no"), http.StatusBadGateway, "upstream"},
		{context.Canceled, 499, "canceled"},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, "deadline_exceeded"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
		{errors.Join(rpc.NewError(rpc.CodeInvalidArgument, "a"), errors.New("b")), http.StatusBadRequest, "invalid_argument"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			app := rpc.NewApp()
			app.Service("Test").Register("Fail", rpc.Exec(func(ctx context.Context, _ rpc.Empty) (rpc.Empty, error) {
				return nil, tt.err
			}))
			w := testutil.NewRequest().POST("/Test/Fail").Do(app.Handler())
			testutil.AssertStatus(t, w, tt.status)
			testutil.AssertJSONError(t, w, tt.code)
		})
	}
}

func TestErrorTransformer(t *testing.T) {
	sentinel := errors.New("instance missing")
	app := rpc.NewApp().WithErrorTransformer(func(err error) *rpc.Error {
		if errors.Is(err, sentinel) {
			return rpc.NewError(rpc.CodeFailedPrecondition, err.Error()).WithDetail("instance", "chatroom")
		}
		return nil
	})
	svc := app.Service("Test")
	svc.Register("Known", rpc.Exec(func(ctx context.Context, _ rpc.Empty) (rpc.Empty, error) {
		return nil, sentinel
	}))
	svc.Register("Unknown", rpc.Exec(func(ctx context.Context, _ rpc.Empty) (rpc.Empty, error) {
		return nil, errors.New("other")
	}))

	w := testutil.NewRequest().POST("/Test/Known").Do(app.Handler())
	errResp := testutil.AssertJSONError(t, w, "failed_precondition")
	if errResp.Details["instance"] != "chatroom" {
		t.Errorf("expected instance detail, got %v", errResp.Details)
	}

	w = testutil.NewRequest().POST("/Test/Unknown").Do(app.Handler())
	testutil.AssertJSONError(t, w, "internal")
}

func TestMaskInternalErrors(t *testing.T) {
	app := rpc.NewApp().WithMaskInternalErrors()
	app.Service("Test").Register("Fail", rpc.Exec(func(ctx context.Context, _ rpc.Empty) (rpc.Empty, error) {
		return nil, errors.New("database password is hunter2")
	}))
	w := testutil.NewRequest().POST("/Test/Fail").Do(app.Handler())
	errResp := testutil.AssertJSONError(t, w, "internal")
	if errResp.Message != "internal server error" {
		t.Errorf("expected masked message, got %q", errResp.Message)
	}
}

func TestPanicRecovered(t *testing.T) {
	var buf bytes.Buffer
	app := rpc.NewApp().WithLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	app.Service("Test").Register("Panic", rpc.Exec(func(ctx context.Context, _ rpc.Empty) (rpc.Empty, error) {
		panic("kaboom")
	}))
	w := testutil.NewRequest().POST("/Test/Panic").Do(app.Handler())
	testutil.AssertStatus(t, w, http.StatusInternalServerError)
	testutil.AssertJSONError(t, w, "internal")
	if !strings.Contains(buf.String(), "PANIC recovered") {
		t.Errorf("expected panic to be logged, got %s", buf.String())
	}
}

func TestInterceptorOrder(t *testing.T) {
	var order []string
	record := func(name string) rpc.UnaryInterceptor {
		return func(ctx rpc.Context, req any, next rpc.HandlerFunc) (any, error) {
			order = append(order, name+":"+ctx.EndpointID())
			return next(ctx, req)
		}
	}

	app := rpc.NewApp().WithUnaryInterceptor(record("global"))
	svc := app.Service("Test").WithUnaryInterceptor(record("service"))
	svc.Register("Greet", rpc.Exec(greet).WithUnaryInterceptor(record("endpoint")))

	w := testutil.NewRequest().POST("/Test/Greet").WithJSON(greetRequest{Name: "a"}).Do(app.Handler())
	testutil.AssertStatus(t, w, http.StatusOK)

	want := []string{"global:Test.Greet", "service:Test.Greet", "endpoint:Test.Greet"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, order)
	}
}

type ctxKey struct{}

func TestInterceptorWrappedContext(t *testing.T) {
	app := rpc.NewApp().WithUnaryInterceptor(func(ctx rpc.Context, req any, next rpc.HandlerFunc) (any, error) {
		return next(context.WithValue(ctx, ctxKey{}, "tagged"), req)
	}).WithUnaryInterceptor(func(ctx rpc.Context, req any, next rpc.HandlerFunc) (any, error) {
		if ctx.Value(ctxKey{}) != "tagged" {
			return nil, rpc.NewError(rpc.CodeInternal, "value lost")
		}
		return next(ctx, req)
	})
	app.Service("Test").Register("Who", rpc.Exec(func(ctx context.Context, _ rpc.Empty) (string, error) {
		c, ok := rpc.FromContext(ctx)
		if !ok {
			return "", errors.New("no endpoint context")
		}
		return c.EndpointID() + "/" + ctx.Value(ctxKey{}).(string), nil
	}))

	w := testutil.NewRequest().POST("/Test/Who").Do(app.Handler())
	testutil.AssertStatus(t, w, http.StatusOK)
	var res string
	testutil.DecodeResult(t, w, &res)
	if res != "Test.Who/tagged" {
		t.Errorf("unexpected result %q", res)
	}
}

func TestInterceptorShortCircuit(t *testing.T) {
	called := false
	app := rpc.NewApp().WithUnaryInterceptor(func(ctx rpc.Context, req any, next rpc.HandlerFunc) (any, error) {
		return nil, rpc.NewError(rpc.CodeFailedPrecondition, "closed")
	})
	app.Service("Test").Register("Greet", rpc.Exec(func(ctx context.Context, req *greetRequest) (*greetResponse, error) {
		called = true
		return nil, nil
	}))
	w := testutil.NewRequest().POST("/Test/Greet").WithJSON(greetRequest{Name: "a"}).Do(app.Handler())
	testutil.AssertJSONError(t, w, "failed_precondition")
	if called {
		t.Error("handler should not run")
	}
}

func TestMiddlewareOrder(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	app := newTestApp().WithMiddleware(mw("outer")).WithMiddleware(mw("inner"))
	testutil.NewRequest().POST("/Test/Greet").WithJSON(greetRequest{Name: "a"}).Do(app.Handler())
	if strings.Join(order, ",") != "outer,inner" {
		t.Errorf("unexpected middleware order %v", order)
	}
}

func TestDuplicateRegistration(t *testing.T) {
	var buf bytes.Buffer
	app := rpc.NewApp().WithLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	svc := app.Service("Test")
	svc.Register("Greet", rpc.Exec(greet))
	svc.Register("Greet", rpc.Exec(func(ctx context.Context, req *greetRequest) (*greetResponse, error) {
		return &greetResponse{Message: "second"}, nil
	}))

	if !strings.Contains(buf.String(), "duplicate route registration") {
		t.Errorf("expected warning, got %s", buf.String())
	}
	w := testutil.NewRequest().POST("/Test/Greet").WithJSON(greetRequest{Name: "a"}).Do(app.Handler())
	var res greetResponse
	testutil.DecodeResult(t, w, &res)
	if res.Message != "second" {
		t.Errorf("expected the last registration to win, got %q", res.Message)
	}
}

func TestRoutes(t *testing.T) {
	app := newTestApp()
	app.Service("Test").Register("Watch", rpc.Stream(func(ctx context.Context, _ rpc.Empty, e rpc.Emitter[int]) error {
		return nil
	}))

	routes := app.Routes()
	want := []rpc.RouteInfo{
		{Name: "Test.Greet", Primitive: "exec", HTTPMethod: "POST", Path: "/Test/Greet"},
		{Name: "Test.Search", Primitive: "query", HTTPMethod: "GET", Path: "/Test/Search"},
		{Name: "Test.Watch", Primitive: "stream", HTTPMethod: "POST", Path: "/Test/Watch"},
	}
	if len(routes) != len(want) {
		t.Fatalf("expected %d routes, got %v", len(want), routes)
	}
	for i := range want {
		if routes[i] != want[i] {
			t.Errorf("route %d: expected %+v, got %+v", i, want[i], routes[i])
		}
	}
}
