package rpc

import (
	"encoding/json"
	"io"
)

// Empty is a void request or response. Its zero value encodes as null.
type Empty *struct{}

// response wraps a successful result: {"result": ...}.
type response struct {
	Result any `json:"result"`
}

// errorResponse wraps a failure: {"error": {...}}.
type errorResponse struct {
	Error *Error `json:"error"`
}

func encodeResponse(w io.Writer, result any) error {
	return json.NewEncoder(w).Encode(response{Result: result})
}

func encodeErrorResponse(w io.Writer, err *Error) error {
	return json.NewEncoder(w).Encode(errorResponse{Error: err})
}
