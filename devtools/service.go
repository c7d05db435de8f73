// Package devtools exposes health and discovery endpoints next to the
// playground API.
package devtools

import (
	"context"
	"runtime"
	"strings"
	"time"

	"github.com/broady/sdkplay/internal/rpc"
)

// Service provides the Devtools endpoints:
//
//	app := rpc.NewApp()
//	devtools.New(app, ":8080", version).Register()
type Service struct {
	app     *rpc.App
	addr    string
	version string
	started time.Time
}

// New creates a devtools service reporting addr and version.
func New(app *rpc.App, addr, version string) *Service {
	return &Service{app: app, addr: addr, version: version, started: time.Now()}
}

// Register adds the Devtools service to the app.
func (s *Service) Register() {
	svc := s.app.Service("Devtools")
	svc.Register("Ping", rpc.Query(s.Ping))
	svc.Register("Info", rpc.Query(s.Info))
	svc.Register("Status", rpc.Query(s.Status))
}

type PingRequest struct{}

type PingResponse struct {
	OK bool `json:"ok"`
}

// Ping is a liveness check.
func (s *Service) Ping(ctx context.Context, req *PingRequest) (*PingResponse, error) {
	return &PingResponse{OK: true}, nil
}

type InfoRequest struct{}

// InfoResponse provides runtime information about the server.
type InfoResponse struct {
	Addr          string      `json:"addr"`
	Version       string      `json:"version"`
	GoVersion     string      `json:"go_version"`
	Uptime        string      `json:"uptime"`
	NumGoroutines int         `json:"num_goroutines"`
	NumCPU        int         `json:"num_cpu"`
	Memory        MemoryStats `json:"memory"`
}

type MemoryStats struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"total_alloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
}

// Info returns runtime information about the server.
func (s *Service) Info(ctx context.Context, req *InfoRequest) (*InfoResponse, error) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return &InfoResponse{
		Addr:          s.addr,
		Version:       s.version,
		GoVersion:     runtime.Version(),
		Uptime:        time.Since(s.started).Round(time.Second).String(),
		NumGoroutines: runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
		Memory: MemoryStats{
			Alloc:      m.Alloc,
			TotalAlloc: m.TotalAlloc,
			Sys:        m.Sys,
			NumGC:      m.NumGC,
		},
	}, nil
}

type StatusRequest struct{}

// StatusResponse provides server status and endpoint discovery.
type StatusResponse struct {
	OK bool `json:"ok"`
	// Services maps service names to their method names, sorted.
	Services map[string][]string `json:"services"`
	Routes   []rpc.RouteInfo     `json:"routes"`
}

// Status returns the registered endpoints.
func (s *Service) Status(ctx context.Context, req *StatusRequest) (*StatusResponse, error) {
	routes := s.app.Routes()
	services := make(map[string][]string)
	for _, r := range routes {
		if svc, method, ok := strings.Cut(r.Name, "."); ok {
			services[svc] = append(services[svc], method)
		}
	}
	return &StatusResponse{OK: true, Services: services, Routes: routes}, nil
}
