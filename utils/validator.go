package utils

import (
	"sync"

	errorc "github.com/xsxdot/aio-pki/pkg/core/err"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	translator   ut.Translator
	validateOnce sync.Once
)

// GetValidator 获取全局验证器实例
func GetValidator() (*validator.Validate, ut.Translator) {
	validateOnce.Do(func() {
		validate, translator = NewValidator()
	})
	return validate, translator
}

// Validate 验证结构体并返回中文错误信息
func Validate(data interface{}) (string, error) {
	v, trans := GetValidator()
	return ValidateStruct(v, trans, data)
}

// ValidateRequest 校验请求参数，失败时返回 400 错误
func ValidateRequest(data interface{}) error {
	msg, err := Validate(data)
	if err != nil {
		return errorc.New(msg, err).ValidWithCtx()
	}
	return nil
}
