package lambdaruntime

import "context"

// ClientApplication contains metadata about the client application
// supplied via the Lambda-Runtime-Client-Context header.
type ClientApplication struct {
	InstallationID string `json:"installation_id"`
	AppTitle       string `json:"app_title"`
	AppVersionCode string `json:"app_version_code"`
	AppPackageName string `json:"app_package_name"`
}

// ClientContext contains information about the client application and device.
type ClientContext struct {
	Client ClientApplication `json:"client"`
	Env    map[string]string `json:"env"`
	Custom map[string]string `json:"custom"`
}

// CognitoIdentity contains Cognito identity information.
type CognitoIdentity struct {
	CognitoIdentityID     string `json:"cognito_identity_id"`
	CognitoIdentityPoolID string `json:"cognito_identity_pool_id"`
}

// InvocationContext is what a handler can read back out of its ctx via
// FromContext: everything runtimeapi.NextEvent returned about the
// current invocation, reshaped for handler consumption instead of wire
// transport. DeadlineMs and TraceID are carried here (not just used
// locally in runOneInvocation to build the context deadline and set
// _X_AMZN_TRACE_ID) so a handler that wants the raw deadline or trace id
// -- to log it, or to pass it to a downstream call by hand -- doesn't
// have to reverse-engineer them from ctx.Deadline() or the environment.
type InvocationContext struct {
	// AwsRequestID is the request identifier from the most recent
	// successful NextEvent call. Preserved verbatim for post_response
	// and post_error.
	AwsRequestID string

	// InvokedFunctionArn is the ARN of the function being invoked.
	InvokedFunctionArn string

	// DeadlineMs is the Unix epoch millisecond the invocation must
	// finish by, 0 if the platform didn't send one.
	DeadlineMs int64

	// TraceID is the X-Ray trace header for this invocation, empty if
	// the platform didn't send one.
	TraceID string

	// Identity contains Cognito identity information, if present.
	Identity CognitoIdentity

	// ClientContext contains client application information, if present.
	ClientContext ClientContext
}

type contextKey struct{}

var invocationContextKey = &contextKey{}

// NewContext returns a new context.Context with ic attached.
func NewContext(parent context.Context, ic *InvocationContext) context.Context {
	return context.WithValue(parent, invocationContextKey, ic)
}

// FromContext extracts the InvocationContext attached by NewContext, if any.
func FromContext(ctx context.Context) (*InvocationContext, bool) {
	ic, ok := ctx.Value(invocationContextKey).(*InvocationContext)
	return ic, ok
}
