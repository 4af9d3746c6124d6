// Package runtimeapi presents the three (four, counting init errors)
// Lambda Runtime API operations as typed functions over the hand-rolled
// httpclient package, centralizing the "2018-06-01" path prefix and the
// request-id header handling.
package runtimeapi

import (
	"encoding/json"
	"os"

	"github.com/paiml/lambdaruntime/httpclient"
	"github.com/paiml/lambdaruntime/lambdaerrors"
)

const (
	apiVersion = "2018-06-01"

	headerRequestID  = "lambda-runtime-aws-request-id"
	headerDeadlineMS = "lambda-runtime-deadline-ms"
	headerTraceID    = "lambda-runtime-trace-id"
	headerClientCtx  = "lambda-runtime-client-context"
	headerCognito    = "lambda-runtime-cognito-identity"
	headerFunctionArn = "lambda-runtime-invoked-function-arn"

	envRuntimeAPI = "AWS_LAMBDA_RUNTIME_API"
)

// Client holds the endpoint for the life of the process. It is
// constructed once, lazily or eagerly, and never reconfigured: the
// platform sets AWS_LAMBDA_RUNTIME_API once per container and the value
// never changes mid-process.
type Client struct {
	endpoint string
}

// NewFromEnv reads AWS_LAMBDA_RUNTIME_API and returns a Client. A missing
// environment variable means this process isn't actually running inside
// a Lambda execution environment, so it's reported as a Config error.
func NewFromEnv() (*Client, error) {
	endpoint := os.Getenv(envRuntimeAPI)
	if endpoint == "" {
		return nil, lambdaerrors.New(lambdaerrors.KindConfig, envRuntimeAPI+" environment variable is not set")
	}
	return &Client{endpoint: endpoint}, nil
}

// Invocation is one event handed back by NextEvent, together with the
// optional headers the platform makes available for propagation.
type Invocation struct {
	RequestID          string
	Body               []byte
	DeadlineMs         int64
	TraceID            string
	InvokedFunctionArn string
	ClientContext      string
	CognitoIdentity    string
}

// NextEvent long-polls GET /2018-06-01/runtime/invocation/next. No
// client-side timeout is applied to the underlying read: the Runtime API
// holds the connection open until an invocation is ready.
func (c *Client) NextEvent() (*Invocation, error) {
	resp, err := httpclient.Get(c.endpoint, "/"+apiVersion+"/runtime/invocation/next")
	if err != nil {
		return nil, err
	}

	requestID, ok := resp.Headers.Get(headerRequestID)
	if !ok || requestID == "" {
		return nil, lambdaerrors.New(lambdaerrors.KindMissingRequestID, "next_event response lacked the request-id header")
	}

	inv := &Invocation{RequestID: requestID, Body: resp.Body}

	if v, ok := resp.Headers.Get(headerDeadlineMS); ok {
		inv.DeadlineMs = parseInt64(v)
	}
	if v, ok := resp.Headers.Get(headerTraceID); ok {
		inv.TraceID = v
	}
	if v, ok := resp.Headers.Get(headerFunctionArn); ok {
		inv.InvokedFunctionArn = v
	}
	if v, ok := resp.Headers.Get(headerClientCtx); ok {
		inv.ClientContext = v
	}
	if v, ok := resp.Headers.Get(headerCognito); ok {
		inv.CognitoIdentity = v
	}

	return inv, nil
}

// PostResponse sends body as the result of the invocation identified by
// requestID: POST /2018-06-01/runtime/invocation/{request-id}/response.
func (c *Client) PostResponse(requestID string, body []byte) error {
	_, err := httpclient.Post(c.endpoint, "/"+apiVersion+"/runtime/invocation/"+requestID+"/response", body)
	return err
}

// PostError reports a handler or runtime failure for requestID:
// POST /2018-06-01/runtime/invocation/{request-id}/error.
func (c *Client) PostError(requestID string, errResp *lambdaerrors.ErrorResponse) error {
	body, err := json.Marshal(errResp)
	if err != nil {
		body = []byte(`{"errorType":"Runtime.MarshalError","errorMessage":"failed to marshal error response"}`)
	}
	_, err = httpclient.Post(c.endpoint, "/"+apiVersion+"/runtime/invocation/"+requestID+"/error", body)
	return err
}

// PostInitError reports a failure that occurred before the first
// successful NextEvent: POST /2018-06-01/runtime/init/error. Called
// whenever a Client exists, so the platform sees why the function never
// came up instead of just seeing a cold-start timeout.
func (c *Client) PostInitError(errResp *lambdaerrors.ErrorResponse) error {
	body, err := json.Marshal(errResp)
	if err != nil {
		body = []byte(`{"errorType":"Runtime.MarshalError","errorMessage":"failed to marshal error response"}`)
	}
	_, err = httpclient.Post(c.endpoint, "/"+apiVersion+"/runtime/init/error", body)
	return err
}

func parseInt64(s string) int64 {
	var n int64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int64(c-'0')
	}
	return n
}
