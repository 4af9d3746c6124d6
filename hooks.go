package lambdaruntime

// Hook is a strictly synchronous lifecycle extension point a handler
// binary can register with Start via WithHook. Unlike the Lambda
// Extensions API, which registers a second process that long-polls its
// own event stream independently of the main invocation loop, a Hook
// runs inline, in the one thread the loop already has -- there is no
// second thread of control to register, poll, or tear down.
type Hook struct {
	// Name labels the hook for the caller; the runtime itself does not
	// read it or include it in log output.
	Name string

	// OnInit runs once, before the first NextEvent call.
	OnInit func() error

	// OnBefore runs immediately before the handler is invoked.
	OnBefore func(ic *InvocationContext)

	// OnAfter runs immediately after the handler returns (or panics and
	// is recovered), with err set to the invocation's outcome, if any.
	OnAfter func(ic *InvocationContext, err error)
}

func runInitHooks(hooks []Hook) error {
	for _, h := range hooks {
		if h.OnInit == nil {
			continue
		}
		if err := h.OnInit(); err != nil {
			return err
		}
	}
	return nil
}

func runBeforeHooks(hooks []Hook, ic *InvocationContext) {
	for _, h := range hooks {
		if h.OnBefore != nil {
			h.OnBefore(ic)
		}
	}
}

func runAfterHooks(hooks []Hook, ic *InvocationContext, err error) {
	for _, h := range hooks {
		if h.OnAfter != nil {
			h.OnAfter(ic, err)
		}
	}
}
