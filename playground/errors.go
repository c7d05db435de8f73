package playground

import (
	"errors"

	"github.com/broady/sdkplay"
	"github.com/broady/sdkplay/internal/rpc"
)

// ErrorFor maps engine errors to API errors. It returns nil for errors it
// does not know, so it can serve as an rpc.ErrorTransformer.
func ErrorFor(err error) *rpc.Error {
	var (
		coercion *sdkplay.CoercionError
		unbound  *sdkplay.UnboundVariableError
		missing  *sdkplay.MissingFileError
		eval     *sdkplay.EvaluationError
		notReady *sdkplay.InstanceNotReadyError
		call     *sdkplay.UnderlyingCallError
	)
	switch {
	case errors.Is(err, ErrUnknownAPI):
		return rpc.NewError(rpc.CodeNotFound, err.Error())

	case errors.As(err, &coercion):
		return rpc.NewError(rpc.CodeInvalidArgument, err.Error()).WithDetails(map[string]any{
			"param": coercion.Param,
			"kind":  string(coercion.Kind),
		})

	case errors.As(err, &missing):
		return rpc.NewError(rpc.CodeInvalidArgument, err.Error()).WithDetails(map[string]any{
			"param": missing.Param,
			"ref":   missing.Ref,
		})

	case errors.As(err, &eval):
		return rpc.NewError(rpc.CodeInvalidArgument, err.Error()).WithDetail("param", eval.Param)

	case errors.As(err, &unbound):
		details := map[string]any{"param": unbound.Param, "variable": unbound.Name}
		if unbound.Path != "" {
			details["path"] = unbound.Path
		}
		return rpc.NewError(rpc.CodeFailedPrecondition, err.Error()).WithDetails(details)

	case errors.As(err, &notReady):
		return rpc.NewError(rpc.CodeFailedPrecondition, err.Error()).WithDetail("instance", notReady.Tag)

	case errors.As(err, &call):
		// The SDK failure is the operator's result, so its message is kept
		// even when internal errors are masked.
		return rpc.NewError(rpc.CodeUpstream, err.Error()).WithDetail("op", call.Op)
	}
	return nil
}
