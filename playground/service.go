package playground

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/broady/sdkplay"
	"github.com/broady/sdkplay/internal/rpc"
)

// Service exposes a Playground over HTTP as the "Playground" rpc service.
type Service struct {
	pg     *Playground
	logger *slog.Logger
}

// NewService returns the HTTP service for pg.
func NewService(pg *Playground) *Service {
	return &Service{pg: pg}
}

// WithLogger sets the logger. Defaults to slog.Default().
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	s.logger = logger
	return s
}

func (s *Service) log() *slog.Logger {
	if s.logger == nil {
		return slog.Default()
	}
	return s.logger
}

// Register adds the Playground endpoints to app.
func (s *Service) Register(app *rpc.App) {
	svc := app.Service("Playground")
	svc.Register("ListAPIs", rpc.Query(s.ListAPIs))
	svc.Register("Describe", rpc.Query(s.Describe))
	svc.Register("Invoke", rpc.Exec(s.Invoke))
	svc.Register("Vars", rpc.Query(s.Vars))
	svc.Register("Reset", rpc.Exec(s.Reset))
	svc.Register("PutFile", rpc.Exec(s.PutFile).WithMaxRequestBodySize(16<<20))
	svc.Register("WatchVars", rpc.Stream(s.WatchVars))
}

type ListAPIsRequest struct {
	Area string `json:"area"`
}

// APISummary is one catalogue row as listed to the operator.
type APISummary struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	Instance  string `json:"instance,omitempty"`
	ReturnVar string `json:"returnVar,omitempty"`
	Params    int    `json:"params"`
	Ready     bool   `json:"ready"`
}

type AreaSummary struct {
	Name string       `json:"name"`
	APIs []APISummary `json:"apis"`
}

type ListAPIsResponse struct {
	Areas []AreaSummary `json:"areas"`
}

// ListAPIs lists the catalogue, optionally a single area.
func (s *Service) ListAPIs(ctx context.Context, req *ListAPIsRequest) (*ListAPIsResponse, error) {
	areas := s.pg.Catalog.Areas()
	if req.Area != "" {
		if !slices.Contains(areas, req.Area) {
			return nil, rpc.Errorf(rpc.CodeNotFound, "unknown area %q", req.Area)
		}
		areas = []string{req.Area}
	}
	router := s.pg.Session().Router
	res := &ListAPIsResponse{Areas: make([]AreaSummary, 0, len(areas))}
	for _, area := range areas {
		sum := AreaSummary{Name: area}
		for _, d := range s.pg.Catalog.Area(area) {
			sum.APIs = append(sum.APIs, APISummary{
				Key:       d.Key(),
				Name:      d.Name,
				Instance:  d.Instance,
				ReturnVar: d.ReturnVar,
				Params:    len(d.Params),
				Ready:     router.Ready(d.Instance),
			})
		}
		res.Areas = append(res.Areas, sum)
	}
	return res, nil
}

type DescribeRequest struct {
	API string `json:"api" validate:"required"`
}

type DescribeResponse struct {
	Key        string                 `json:"key"`
	Area       string                 `json:"area"`
	Descriptor *sdkplay.APIDescriptor `json:"descriptor"`
	Ready      bool                   `json:"ready"`
}

// Describe returns one descriptor with its parameter defaults.
func (s *Service) Describe(ctx context.Context, req *DescribeRequest) (*DescribeResponse, error) {
	d, err := s.pg.Lookup(req.API)
	if err != nil {
		return nil, ErrorFor(err)
	}
	return &DescribeResponse{
		Key:        d.Key(),
		Area:       d.Area,
		Descriptor: d,
		Ready:      s.pg.Session().Router.Ready(d.Instance),
	}, nil
}

type InvokeRequest struct {
	API string `json:"api" validate:"required"`
	// Args holds raw parameter values by name. Omitted parameters take
	// their descriptor default.
	Args map[string]any `json:"args,omitempty"`
}

type InvokeResponse struct {
	ID         string  `json:"id"`
	Op         string  `json:"op"`
	Value      any     `json:"value"`
	Stored     string  `json:"stored,omitempty"`
	DurationMS float64 `json:"durationMs"`
}

// Invoke runs one operation. Failures come back as error envelopes carrying
// the invocation id in their details.
func (s *Service) Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResponse, error) {
	res, err := s.pg.Invoke(ctx, req.API, req.Args)
	if err != nil {
		return nil, ErrorFor(err)
	}
	if c, ok := rpc.FromContext(ctx); ok && c.HTTPWriter() != nil {
		c.HTTPWriter().Header().Set("X-Invocation-ID", res.ID)
	}
	if res.Err != nil {
		apiErr := ErrorFor(res.Err)
		if apiErr == nil {
			apiErr = rpc.DefaultErrorTransformer(res.Err)
		}
		return nil, apiErr.WithDetail("invocation", res.ID)
	}
	return &InvokeResponse{
		ID:         res.ID,
		Op:         res.Op,
		Value:      res.Value,
		Stored:     res.Stored,
		DurationMS: float64(res.Duration) / float64(time.Millisecond),
	}, nil
}

type VarsRequest struct{}

type InstanceStatus struct {
	Tag   string `json:"tag"`
	Ready bool   `json:"ready"`
}

type VarsResponse struct {
	Session   string             `json:"session"`
	Epoch     uint64             `json:"epoch"`
	Vars      []sdkplay.Binding  `json:"vars"`
	Files     []sdkplay.FileInfo `json:"files"`
	Instances []InstanceStatus   `json:"instances"`
}

// Vars returns the session state.
func (s *Service) Vars(ctx context.Context, req *VarsRequest) (*VarsResponse, error) {
	sess := s.pg.Session()
	res := &VarsResponse{
		Session: sess.ID,
		Epoch:   sess.Vars.Epoch(),
		Vars:    sess.Vars.Snapshot(),
		Files:   sess.Files.List(),
	}
	for _, tag := range sess.Router.Tags() {
		res.Instances = append(res.Instances, InstanceStatus{Tag: tag, Ready: sess.Router.Ready(tag)})
	}
	return res, nil
}

type ResetRequest struct {
	// Files also drops every stored file.
	Files bool `json:"files,omitempty"`
}

type ResetResponse struct {
	Epoch uint64 `json:"epoch"`
}

// Reset clears the session variables.
func (s *Service) Reset(ctx context.Context, req *ResetRequest) (*ResetResponse, error) {
	sess := s.pg.Session()
	sess.Reset()
	if req.Files {
		for _, f := range sess.Files.List() {
			sess.Files.Remove(f.Ref)
		}
	}
	s.log().InfoContext(ctx, "session reset", slog.Uint64("epoch", sess.Vars.Epoch()), slog.Bool("files", req.Files))
	return &ResetResponse{Epoch: sess.Vars.Epoch()}, nil
}

type PutFileRequest struct {
	// Ref is the name file parameters refer to, usually a descriptor's
	// externalView.
	Ref         string `json:"ref" validate:"required"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	// Data is the base64-encoded content.
	Data []byte `json:"data"`
}

// PutFile stores a file in the session. An empty content type is sniffed
// from the data.
func (s *Service) PutFile(ctx context.Context, req *PutFileRequest) (*sdkplay.FileInfo, error) {
	name := req.Name
	if name == "" {
		name = req.Ref
	}
	f := sdkplay.NewFile(name, req.ContentType, req.Data)
	s.pg.Session().Files.Put(req.Ref, f)
	return &sdkplay.FileInfo{Ref: req.Ref, Name: f.Name(), ContentType: f.ContentType(), Size: f.Size()}, nil
}

type WatchVarsRequest struct {
	// SkipSnapshot starts with changes only, omitting the current bindings.
	SkipSnapshot bool `json:"skipSnapshot,omitempty"`
}

// WatchVars streams variable store changes. Unless skipped, the current
// bindings are sent first, one event each. Slow clients may miss
// intermediate events but always receive the latest.
func (s *Service) WatchVars(ctx context.Context, req *WatchVarsRequest, e rpc.Emitter[sdkplay.VarEvent]) error {
	vars := s.pg.Session().Vars
	snapshot, events := vars.Watch(ctx)
	if !req.SkipSnapshot {
		epoch := vars.Epoch()
		for i := range snapshot {
			if err := e.Send(sdkplay.VarEvent{Epoch: epoch, Binding: &snapshot[i]}); err != nil {
				return err
			}
		}
	}
	for ev := range events {
		if err := e.Send(ev); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watch vars: %w", err)
	}
	return nil
}
