package devtools_test

import (
	"net/http"
	"slices"
	"testing"

	"github.com/broady/sdkplay/devtools"
	"github.com/broady/sdkplay/internal/rpc"
	"github.com/broady/sdkplay/testutil"
)

func newApp() *rpc.App {
	app := rpc.NewApp()
	devtools.New(app, ":8080", "v1.2.3").Register()
	return app
}

func TestPing(t *testing.T) {
	w := testutil.NewRequest().GET("/Devtools/Ping").Do(newApp().Handler())
	testutil.AssertStatus(t, w, http.StatusOK)
	var res devtools.PingResponse
	testutil.DecodeResult(t, w, &res)
	if !res.OK {
		t.Error("expected ok")
	}
}

func TestInfo(t *testing.T) {
	w := testutil.NewRequest().GET("/Devtools/Info").Do(newApp().Handler())
	testutil.AssertStatus(t, w, http.StatusOK)
	var res devtools.InfoResponse
	testutil.DecodeResult(t, w, &res)
	if res.Version != "v1.2.3" || res.Addr != ":8080" {
		t.Errorf("unexpected info %+v", res)
	}
	if res.NumCPU == 0 || res.GoVersion == "" {
		t.Errorf("runtime stats missing: %+v", res)
	}
}

func TestStatus(t *testing.T) {
	w := testutil.NewRequest().GET("/Devtools/Status").Do(newApp().Handler())
	testutil.AssertStatus(t, w, http.StatusOK)
	var res devtools.StatusResponse
	testutil.DecodeResult(t, w, &res)
	if !slices.Equal(res.Services["Devtools"], []string{"Info", "Ping", "Status"}) {
		t.Errorf("unexpected services %v", res.Services)
	}
	if len(res.Routes) != 3 || res.Routes[0].Path != "/Devtools/Info" {
		t.Errorf("unexpected routes %+v", res.Routes)
	}
}
