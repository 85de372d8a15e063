package errorc

import "fmt"

type Error struct {
	*ErrorCode
	Msg      string
	Cause    error  `json:"-"`
	Stack    string `json:"-"`
	TraceID  string
	Entry    string `json:"-"`
	FileName string `json:"-"`
	Line     int    `json:"-"`
	FuncName string `json:"-"`
}

type ErrorCode struct {
	Code int
	Name string
}

func (c *ErrorCode) String() string {
	return fmt.Sprintf("%d: %s", c.Code, c.Name)
}

var (
	ErrorCodeUnknown     = &ErrorCode{500, "Unknown"}
	ErrorCodeDB          = &ErrorCode{501, "DB"}
	ErrorCodeThird       = &ErrorCode{502, "Third"}
	ErrorCodeValid       = &ErrorCode{400, "ValidWithCtx"}
	ErrorCodeNoAuth      = &ErrorCode{401, "Unauthenticated"}
	ErrorCodeForbidden   = &ErrorCode{403, "Forbidden"}
	ErrorCodeNotFound    = &ErrorCode{404, "NotFound"}
	ErrorCodeUnavailable = &ErrorCode{503, "Unavailable"}
	ErrorCodeInternal    = &ErrorCode{503, "InternalError"}

	// PKI 业务错误码
	ErrorCodeConflict   = &ErrorCode{409, "Conflict"}
	ErrorCodeValidity   = &ErrorCode{422, "ValidityViolation"}
	ErrorCodeCrypto     = &ErrorCode{520, "CryptoFailure"}
	ErrorCodeAllocation = &ErrorCode{521, "AllocationFailure"}
	ErrorCodeDeployment = &ErrorCode{522, "DeploymentFailure"}
)
