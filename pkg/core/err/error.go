package errorc

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/xsxdot/aio-pki/pkg/core/consts"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	enableFullStack = true
	stackBufferPool = sync.Pool{
		New: func() interface{} {
			return make([]byte, 4096)
		},
	}
)

// ErrorBuilder 按组件名构造错误，错误中记录调用位置
type ErrorBuilder struct {
	entryName string
}

func NewErrorBuilder(entryName string) *ErrorBuilder {
	return &ErrorBuilder{entryName: entryName}
}

func (e *ErrorBuilder) New(msg string, err error) *Error {
	stack := getStackOptimized(2)
	stack.Msg = msg
	stack.Cause = err
	stack.Entry = e.entryName
	stack.ErrorCode = getErrCode(err)
	return stack
}

// New err 和 msg 都可以为空
func New(msg string, err error) *Error {
	stack := getStackOptimized(2)
	stack.Msg = msg
	stack.Cause = err
	stack.ErrorCode = getErrCode(err)
	return stack
}

func (e *Error) WithTraceID(ctx context.Context) *Error {
	if ctx == nil {
		return e
	}
	if traceID, ok := ctx.Value(consts.TraceKey).(string); ok {
		e.TraceID = traceID
	}
	return e
}

func (e *Error) WithEntry(entry string) *Error {
	e.Entry = entry
	return e
}

func (e *Error) WithCode(code *ErrorCode) *Error {
	e.ErrorCode = code
	return e
}

func (e *Error) DB() *Error {
	if e.ErrorCode != nil && e.Code == ErrorCodeNotFound.Code {
		return e
	}
	e.ErrorCode = ErrorCodeDB
	return e
}

func (e *Error) Third() *Error {
	e.ErrorCode = ErrorCodeThird
	return e
}

func (e *Error) ValidWithCtx() *Error {
	e.ErrorCode = ErrorCodeValid
	return e
}

func (e *Error) NoAuth() *Error {
	e.ErrorCode = ErrorCodeNoAuth
	return e
}

func (e *Error) Forbidden() *Error {
	e.ErrorCode = ErrorCodeForbidden
	return e
}

func (e *Error) NotFound() *Error {
	e.ErrorCode = ErrorCodeNotFound
	return e
}

func (e *Error) Unavailable() *Error {
	e.ErrorCode = ErrorCodeUnavailable
	return e
}

// Conflict 名称或指纹冲突、重复吊销、终态证书续期
func (e *Error) Conflict() *Error {
	e.ErrorCode = ErrorCodeConflict
	return e
}

// ValidityViolation 请求的有效期超出上级 CA 的范围
func (e *Error) ValidityViolation() *Error {
	e.ErrorCode = ErrorCodeValidity
	return e
}

// CryptoFailure 密钥生成或签名失败
func (e *Error) CryptoFailure() *Error {
	e.ErrorCode = ErrorCodeCrypto
	return e
}

// AllocationFailure 序列号或 CRL 编号分配失败
func (e *Error) AllocationFailure() *Error {
	e.ErrorCode = ErrorCodeAllocation
	return e
}

// DeploymentFailure 部署传输或重载失败
func (e *Error) DeploymentFailure() *Error {
	e.ErrorCode = ErrorCodeDeployment
	return e
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// collectChain 收集错误链并找到根因（第一个包装了非 *Error 错误的节点）
func (e *Error) collectChain() ([]*Error, *Error, error) {
	var chain []*Error
	curr := e
	for {
		chain = append(chain, curr)
		cause, ok := curr.Cause.(*Error)
		if !ok || cause == nil {
			break
		}
		curr = cause
	}

	for i := len(chain) - 1; i >= 0; i-- {
		node := chain[i]
		if node.Cause == nil {
			continue
		}
		if _, ok := node.Cause.(*Error); !ok {
			return chain, node, node.Cause
		}
	}
	root := chain[len(chain)-1]
	return chain, root, root.Cause
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	chain, rootCause, originalError := e.collectChain()

	var sb strings.Builder
	sb.WriteString("========================= Root Cause =========================\n")
	if originalError != nil {
		sb.WriteString(fmt.Sprintf("Error: %s\n", originalError.Error()))
	}
	if rootCause.FileName != "" {
		sb.WriteString(fmt.Sprintf("Location: %s:%d\n", rootCause.FileName, rootCause.Line))
	}
	if rootCause.FuncName != "" {
		sb.WriteString(fmt.Sprintf("Function: %s\n", rootCause.FuncName))
	}
	if rootCause.Msg != "" {
		sb.WriteString(fmt.Sprintf("Message: %s\n", rootCause.Msg))
	}
	if rootCause.TraceID != "" {
		sb.WriteString(fmt.Sprintf("Trace ID: %s\n", rootCause.TraceID))
	}

	sb.WriteString("\n======================= Full Error Trace =======================\n")
	for i, err := range chain {
		sb.WriteString(fmt.Sprintf("%d: ", i+1))
		if err.ErrorCode != nil {
			sb.WriteString(fmt.Sprintf("[%s] ", err.ErrorCode.String()))
		}
		sb.WriteString(err.Msg)
		if err.FileName != "" {
			sb.WriteString(fmt.Sprintf("\n   at %s:%d", err.FileName, err.Line))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("==============================================================\n")

	return sb.String()
}

// RootCause 返回根因的简短描述，用于审计记录和部署日志
func (e *Error) RootCause() string {
	if e == nil {
		return ""
	}

	_, rootCause, originalError := e.collectChain()

	var sb strings.Builder
	sb.WriteString(rootCause.Msg)
	if originalError != nil {
		if rootCause.Msg != "" {
			sb.WriteString(": ")
		}
		sb.WriteString(originalError.Error())
	}
	return sb.String()
}

// Brief 返回最外层信息加根因，不含调用位置
func (e *Error) Brief() string {
	if e == nil {
		return ""
	}
	root := e.RootCause()
	if e.Msg == "" || strings.HasPrefix(root, e.Msg) {
		return root
	}
	return e.Msg + ": " + root
}

func (e *Error) ToLog(log *logrus.Entry, msgs ...string) *Error {
	if e == nil {
		return nil
	}

	chain, rootCause, originalError := e.collectChain()

	fields := make(map[string]interface{})
	fields["root_cause_file"] = rootCause.FileName
	fields["root_cause_line"] = rootCause.Line
	fields["root_cause_func"] = rootCause.FuncName
	fields["root_cause_msg"] = rootCause.Msg
	if originalError != nil {
		fields["root_cause_original_error"] = originalError.Error()
	}
	if rootCause.ErrorCode != nil {
		fields["root_cause_error_code"] = rootCause.ErrorCode.String()
	}

	levels := make([]map[string]interface{}, 0, len(chain))
	for _, err := range chain {
		level := map[string]interface{}{
			"file": err.FileName,
			"line": err.Line,
			"func": err.FuncName,
			"msg":  err.Msg,
		}
		if err.ErrorCode != nil {
			level["code"] = err.ErrorCode.String()
		}
		if err.TraceID != "" {
			level["trace_id"] = err.TraceID
		}
		if err == e && enableFullStack {
			if stack := err.getFullStack(); stack != "" {
				level["stack_trace"] = stack
			}
		}
		levels = append(levels, level)
	}
	fields["error_chain"] = levels
	if e.TraceID != "" {
		fields["trace_id"] = e.TraceID
	}

	finalMsg := e.Msg
	if len(msgs) > 0 {
		finalMsg = strings.Join(msgs, ", ")
	}

	log.WithFields(fields).Error(finalMsg)
	return e
}

func getStackOptimized(num int) *Error {
	pc, file, line, ok := runtime.Caller(num)
	if !ok {
		return &Error{
			FileName: "<unknown>",
			FuncName: "<unknown>",
		}
	}

	funcName := "<unknown>"
	if details := runtime.FuncForPC(pc); details != nil {
		funcName = details.Name()
	}

	return &Error{
		FileName: file,
		Line:     line,
		FuncName: funcName,
	}
}

func (e *Error) getFullStack() string {
	if e.Stack != "" {
		return e.Stack
	}
	if !enableFullStack {
		return ""
	}

	buf := stackBufferPool.Get().([]byte)
	defer stackBufferPool.Put(buf)

	n := runtime.Stack(buf, false)
	e.Stack = string(buf[:n])
	return e.Stack
}

// SetStackTraceEnabled 控制是否启用完整堆栈跟踪
func SetStackTraceEnabled(enabled bool) {
	enableFullStack = enabled
}

// getErrCode 包装 *Error 时沿用内层错误码，其余按已知的未找到错误判断
func getErrCode(err error) *ErrorCode {
	if err == nil {
		return ErrorCodeUnknown
	}

	var inner *Error
	if errors.As(err, &inner) && inner.ErrorCode != nil {
		return inner.ErrorCode
	}

	for _, e := range notfounds {
		if errors.Is(err, e) {
			return ErrorCodeNotFound
		}
	}

	return ErrorCodeUnknown
}

var notfounds = []error{gorm.ErrRecordNotFound, redis.Nil}

// Quick 不获取堆栈信息，适用于性能敏感场景
func (e *ErrorBuilder) Quick(msg string, err error) *Error {
	return &Error{
		Msg:       msg,
		Cause:     err,
		Entry:     e.entryName,
		ErrorCode: getErrCode(err),
	}
}

func Quick(msg string, err error) *Error {
	return &Error{
		Msg:       msg,
		Cause:     err,
		ErrorCode: getErrCode(err),
	}
}

func (e *ErrorBuilder) NotFound(msg string) *Error {
	stack := getStackOptimized(2)
	stack.Msg = msg
	stack.Entry = e.entryName
	stack.ErrorCode = ErrorCodeNotFound
	return stack
}

func (e *ErrorBuilder) Conflict(msg string) *Error {
	stack := getStackOptimized(2)
	stack.Msg = msg
	stack.Entry = e.entryName
	stack.ErrorCode = ErrorCodeConflict
	return stack
}

func (e *ErrorBuilder) BadRequest(msg string) *Error {
	stack := getStackOptimized(2)
	stack.Msg = msg
	stack.Entry = e.entryName
	stack.ErrorCode = ErrorCodeValid
	return stack
}

func ParseError(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Quick(err.Error(), err)
}

// IsCode 判断错误链最外层的 *Error 是否为指定错误码
func IsCode(err error, code *ErrorCode) bool {
	if err == nil || code == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) && e.ErrorCode != nil {
		return e.Code == code.Code && e.Name == code.Name
	}
	return false
}

func IsNotFound(err error) bool {
	if err == nil {
		return false
	}

	if IsCode(err, ErrorCodeNotFound) {
		return true
	}

	for _, target := range notfounds {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func IsConflict(err error) bool {
	return IsCode(err, ErrorCodeConflict)
}
