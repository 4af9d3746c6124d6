// Package lambdaruntime is a custom AWS Lambda runtime for the
// provided.al2023 execution environment. It drives the Lambda Runtime
// API -- an HTTP/1.1 protocol served over loopback -- in a strict
// single-threaded loop: long-poll for the next invocation, dispatch to
// the handler, report the result, repeat, indefinitely, within one
// container instance.
//
// Usage:
//
//	func handler(ctx context.Context, event MyEvent) (MyResponse, error) {
//	    // Handle the event
//	    return MyResponse{}, nil
//	}
//
//	func main() {
//	    lambdaruntime.Start(lambdaruntime.JSON(handler))
//	}
package lambdaruntime

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/paiml/lambdaruntime/lambdaerrors"
	"github.com/paiml/lambdaruntime/runtimeapi"
)

type options struct {
	enableTraceEnv bool
	hooks          []Hook
}

// Option configures Start.
type Option func(*options)

// WithHook registers a synchronous lifecycle hook (see Hook).
func WithHook(h Hook) Option {
	return func(o *options) { o.hooks = append(o.hooks, h) }
}

// WithTraceEnv enables mirroring the Lambda-Runtime-Trace-Id header into
// the _X_AMZN_TRACE_ID environment variable for the duration of each
// invocation, matching the platform's own convention for how the X-Ray
// SDK discovers the active trace.
func WithTraceEnv(enabled bool) Option {
	return func(o *options) { o.enableTraceEnv = enabled }
}

// Start reads AWS_LAMBDA_RUNTIME_API, then drives the event loop
// forever: NextEvent, dispatch to handler, PostResponse/PostError,
// repeat. It never returns: if initialization fails fatally, the process
// exits non-zero after logging the failure.
func Start(handler Handler, opts ...Option) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	client, err := runtimeapi.NewFromEnv()
	if err != nil {
		Log(LevelError, "init failed: "+err.Error())
		os.Exit(1)
	}

	if err := runInitHooks(o.hooks); err != nil {
		initErr := lambdaerrors.Wrap(lambdaerrors.KindConfig, err, "hook initialization failed")
		Log(LevelError, "init failed: "+lambdaerrors.Stack(initErr))
		_ = client.PostInitError(lambdaerrors.NewErrorResponse(initErr))
		os.Exit(1)
	}

	logColdStartDiagnostics()

	for {
		runOneInvocation(client, handler, o)
	}
}

// runOneInvocation performs exactly one GET -> handle -> POST cycle.
// Every error is logged here and then returned; Start discards the
// returned error and loops, so a transient Runtime API failure never
// terminates the process, since the next GET is what acknowledges the
// previous invocation and lets the container recover.
func runOneInvocation(client *runtimeapi.Client, handler Handler, o *options) error {
	inv, err := client.NextEvent()
	if err != nil {
		Log(LevelError, "next_event failed: "+lambdaerrors.Stack(err))
		return err
	}

	ic := &InvocationContext{
		AwsRequestID:       inv.RequestID,
		InvokedFunctionArn: inv.InvokedFunctionArn,
		DeadlineMs:         inv.DeadlineMs,
		TraceID:            inv.TraceID,
	}

	if o.enableTraceEnv && ic.TraceID != "" {
		os.Setenv("_X_AMZN_TRACE_ID", ic.TraceID)
		defer os.Unsetenv("_X_AMZN_TRACE_ID")
	}

	if inv.CognitoIdentity != "" {
		if err := json.Unmarshal([]byte(inv.CognitoIdentity), &ic.Identity); err != nil {
			return sendError(client, inv.RequestID, lambdaerrors.Wrap(lambdaerrors.KindProtocol, err, "parsing cognito identity header"))
		}
	}
	if inv.ClientContext != "" {
		if err := json.Unmarshal([]byte(inv.ClientContext), &ic.ClientContext); err != nil {
			return sendError(client, inv.RequestID, lambdaerrors.Wrap(lambdaerrors.KindProtocol, err, "parsing client context header"))
		}
	}

	ctx := NewContext(context.Background(), ic)
	if ic.DeadlineMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, time.UnixMilli(ic.DeadlineMs))
		defer cancel()
	}

	runBeforeHooks(o.hooks, ic)
	body, handlerErr := invokeHandlerSafely(ctx, handler, inv.RequestID, inv.Body)
	runAfterHooks(o.hooks, ic, handlerErr)

	if handlerErr != nil {
		return sendError(client, inv.RequestID, handlerErr)
	}

	if err := client.PostResponse(inv.RequestID, body); err != nil {
		LogWithRequestID(LevelError, inv.RequestID, "post_response failed: "+lambdaerrors.Stack(err))
		return err
	}

	return nil
}

// invokeHandlerSafely calls handler.Invoke, turning a panic into a
// HandlerFailure error instead of crashing the process.
func invokeHandlerSafely(ctx context.Context, handler Handler, requestID string, body []byte) (respBody []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			respBody = nil
			err = lambdaerrors.NewPanicResponse(r)
		}
	}()
	return handler.Invoke(ctx, requestID, body)
}

func sendError(client *runtimeapi.Client, requestID string, err error) error {
	errResp, ok := err.(*lambdaerrors.ErrorResponse)
	if !ok {
		errResp = lambdaerrors.NewErrorResponse(err)
	}

	LogWithRequestID(LevelError, requestID, fmt.Sprintf("invocation error [%s]: %s", errResp.Type, errResp.Message))

	if postErr := client.PostError(requestID, errResp); postErr != nil {
		LogWithRequestID(LevelError, requestID, "post_error failed: "+lambdaerrors.Stack(postErr))
		return postErr
	}

	return err
}

// logColdStartDiagnostics reports the host's used and total memory (as
// seen by mem.VirtualMemory, not this process's resident set) and the
// CPU count once at process start. It is gated behind the debug level so it costs nothing
// on the default, <10ms cold-start path.
func logColdStartDiagnostics() {
	if minLevel() > LevelDebug {
		return
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return
	}

	Log(LevelDebug, fmt.Sprintf("cold start: cpus=%d mem_used=%d mem_total=%d", runtime.NumCPU(), vm.Used, vm.Total))
}
