package consts

const (
	// TraceKey 上下文中链路 ID 的键
	TraceKey = "trace_id"
	// TraceHeaderName 链路 ID 透传的请求头
	TraceHeaderName = "X-Trace-Id"
	// PrincipalKey 上下文中操作人信息的键
	PrincipalKey = "pki_principal"
)
