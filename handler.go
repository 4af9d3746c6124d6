package lambdaruntime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/paiml/lambdaruntime/lambdaerrors"
)

// Handler is the ABI between the runtime and user code: a single
// synchronous call given the request id and the raw event body,
// returning the raw response body. ctx carries the invocation's deadline
// and the InvocationContext (request id, optional headers) alongside the
// two explicit parameters, without folding either one into ctx.
type Handler interface {
	Invoke(ctx context.Context, requestID string, body []byte) ([]byte, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, requestID string, body []byte) ([]byte, error)

// Invoke implements Handler.
func (f HandlerFunc) Invoke(ctx context.Context, requestID string, body []byte) ([]byte, error) {
	return f(ctx, requestID, body)
}

var _ Handler = (HandlerFunc)(nil)

// JSON adapts a typed handler function -- the ergonomic shape the
// teacher's generic voker.Start offered -- into the core's byte-level
// Handler contract. The event body is unmarshaled into TIn; the
// returned TOut is marshaled back out as the response body.
func JSON[TIn, TOut any](fn func(context.Context, TIn) (TOut, error)) HandlerFunc {
	return func(ctx context.Context, _ string, body []byte) ([]byte, error) {
		var input TIn
		if err := json.Unmarshal(body, &input); err != nil {
			return nil, &lambdaerrors.ErrorResponse{
				Message: fmt.Sprintf("failed to unmarshal input: %v", err),
				Type:    "Runtime.UnmarshalError",
			}
		}

		output, err := fn(ctx, input)
		if err != nil {
			return nil, err
		}

		responseBytes, err := json.Marshal(output)
		if err != nil {
			return nil, &lambdaerrors.ErrorResponse{
				Message: fmt.Sprintf("failed to marshal output: %v", err),
				Type:    "Runtime.MarshalError",
			}
		}

		return responseBytes, nil
	}
}
