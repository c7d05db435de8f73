package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/schema"
)

var (
	validate      = validator.New(validator.WithRequiredStructEnabled())
	schemaDecoder = schema.NewDecoder()
)

func init() {
	schemaDecoder.IgnoreUnknownKeys(true)
	schemaDecoder.SetAliasTag("json")
}

// Metadata describes an endpoint.
type Metadata struct {
	Primitive string // "query", "exec" or "stream"
	Request   reflect.Type
	Response  reflect.Type
}

// Endpoint is a registrable endpoint. It is sealed: create one with Exec,
// Query or Stream.
type Endpoint interface {
	Metadata() *Metadata
}

type endpointHandler interface {
	Endpoint
	serveHTTP(ctx *rpcContext)
}

// Handler is a unary endpoint for a Request/Response pair.
type Handler[Req any, Res any] struct {
	fn                 func(context.Context, Req) (Res, error)
	primitive          string
	interceptors       []UnaryInterceptor
	skipValidation     bool
	maxRequestBodySize *uint64
	cacheTTL           time.Duration
}

// Exec creates a POST endpoint. The request is decoded from the JSON body; an
// empty body decodes as the zero request.
func Exec[Req any, Res any](fn func(context.Context, Req) (Res, error)) *Handler[Req, Res] {
	return &Handler[Req, Res]{fn: fn, primitive: "exec"}
}

// Query creates a GET endpoint. The request is decoded from the URL query
// with gorilla/schema, using json field names.
func Query[Req any, Res any](fn func(context.Context, Req) (Res, error)) *Handler[Req, Res] {
	return &Handler[Req, Res]{fn: fn, primitive: "query"}
}

// WithUnaryInterceptor adds an endpoint interceptor.
func (h *Handler[Req, Res]) WithUnaryInterceptor(i UnaryInterceptor) *Handler[Req, Res] {
	h.interceptors = append(h.interceptors, i)
	return h
}

// WithSkipValidation disables struct validation of the request.
func (h *Handler[Req, Res]) WithSkipValidation() *Handler[Req, Res] {
	h.skipValidation = true
	return h
}

// WithMaxRequestBodySize overrides the App body limit for this endpoint.
func (h *Handler[Req, Res]) WithMaxRequestBodySize(size uint64) *Handler[Req, Res] {
	h.maxRequestBodySize = &size
	return h
}

// WithCacheTTL sets a Cache-Control max-age on successful query responses.
func (h *Handler[Req, Res]) WithCacheTTL(d time.Duration) *Handler[Req, Res] {
	h.cacheTTL = d
	return h
}

// Metadata implements Endpoint.
func (h *Handler[Req, Res]) Metadata() *Metadata {
	return &Metadata{
		Primitive: h.primitive,
		Request:   reflect.TypeFor[Req](),
		Response:  reflect.TypeFor[Res](),
	}
}

func (h *Handler[Req, Res]) serveHTTP(ctx *rpcContext) {
	var (
		req Req
		err error
	)
	if h.primitive == "query" {
		req, err = decodeQuery[Req](ctx.request)
	} else {
		req, err = decodeBody[Req](ctx, h.maxRequestBodySize)
	}
	if err == nil && !h.skipValidation {
		err = validateRequest(req)
	}
	if err != nil {
		handleError(ctx, err)
		return
	}

	all := make([]UnaryInterceptor, 0, len(ctx.interceptors)+len(h.interceptors))
	all = append(all, ctx.interceptors...)
	all = append(all, h.interceptors...)

	final := func(c context.Context, reqAny any) (any, error) {
		typed, ok := reqAny.(Req)
		if !ok {
			return nil, Errorf(CodeInternal, "interceptor changed request type to %T", reqAny)
		}
		return h.fn(c, typed)
	}

	var res any
	if chain := chainInterceptors(all); chain != nil {
		res, err = chain(ctx, req, final)
	} else {
		res, err = final(ctx, req)
	}
	if err != nil {
		handleError(ctx, err)
		return
	}

	w := ctx.writer
	w.Header().Set("Content-Type", "application/json")
	if h.primitive == "query" && h.cacheTTL > 0 {
		w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d", int(h.cacheTTL.Seconds())))
	}
	if err := encodeResponse(w, res); err != nil {
		ctx.log().Error("failed to encode response",
			slog.String("endpoint", ctx.EndpointID()),
			slog.Any("error", err))
	}
}

func decodeQuery[Req any](r *http.Request) (Req, error) {
	var req Req
	typ := reflect.TypeFor[Req]()
	if typ.Kind() == reflect.Pointer {
		val := reflect.New(typ.Elem())
		if err := schemaDecoder.Decode(val.Interface(), r.URL.Query()); err != nil {
			return req, Errorf(CodeInvalidArgument, "failed to decode query: %v", err)
		}
		return val.Convert(typ).Interface().(Req), nil
	}
	if err := schemaDecoder.Decode(&req, r.URL.Query()); err != nil {
		return req, Errorf(CodeInvalidArgument, "failed to decode query: %v", err)
	}
	return req, nil
}

// decodeBody decodes the JSON body. A pointer request is never nil: an
// empty body yields a pointer to the zero value.
func decodeBody[Req any](ctx *rpcContext, override *uint64) (Req, error) {
	var req Req
	if typ := reflect.TypeFor[Req](); typ.Kind() == reflect.Pointer {
		req = reflect.New(typ.Elem()).Convert(typ).Interface().(Req)
	}
	if ctx.request.Body == nil {
		return req, nil
	}
	limit := ctx.maxRequestBodySize
	if override != nil {
		limit = *override
	}
	body := ctx.request.Body
	if limit > 0 {
		body = http.MaxBytesReader(ctx.writer, body, int64(limit))
	}
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, err
		}
		return req, Errorf(CodeInvalidArgument, "failed to decode body: %v", err)
	}
	return req, nil
}

// validateRequest validates struct requests; other shapes pass through.
func validateRequest(req any) error {
	v := reflect.ValueOf(req)
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	return validate.Struct(req)
}
