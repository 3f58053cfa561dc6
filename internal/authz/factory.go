package authz

import "context"

// unconfigured is returned as the Client when authz.mode is external_http
// but no endpoint is set; every Evaluate call is converted by fail-mode
// without attempting a network call.
type unconfigured struct {
	failMode FailMode
}

func (u unconfigured) Evaluate(_ context.Context, _ Request) Outcome {
	return convertFailure(u.failMode, ReasonUnconfigured)
}

// New builds the configured Client: builtin, external_http, or the
// unconfigured stand-in when external_http has no endpoint.
func New(mode string, ext ExternalConfig) Client {
	if mode != "external_http" {
		return NewBuiltin()
	}
	if ext.Endpoint == "" {
		return unconfigured{failMode: ext.FailMode}
	}
	return NewExternalClient(ext)
}
