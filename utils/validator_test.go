package utils

import (
	"testing"

	errorc "github.com/xsxdot/aio-pki/pkg/core/err"

	"github.com/stretchr/testify/assert"
)

type issueForm struct {
	CommonName string `json:"commonName" comment:"通用名称" validate:"required,max=64"`
	Sans       string `json:"sans" comment:"备用名称" validate:"san"`
	KeySize    int    `json:"keySize" comment:"密钥长度" validate:"omitempty,oneof=2048 3072 4096"`
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		form    issueForm
		wantMsg string
	}{
		{name: "合法请求", form: issueForm{CommonName: "db.internal", Sans: "db.internal, 10.0.0.5,*.svc.local", KeySize: 2048}},
		{name: "缺少通用名称", form: issueForm{}, wantMsg: "通用名称不能为空"},
		{name: "非法备用名称", form: issueForm{CommonName: "db", Sans: "bad name!"}, wantMsg: "备用名称只能包含逗号分隔的域名或IP"},
		{name: "非法密钥长度", form: issueForm{CommonName: "db", KeySize: 1024}, wantMsg: "密钥长度必须是[2048 3072 4096]中的一个"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Validate(tt.form)
			if tt.wantMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			assert.Equal(t, tt.wantMsg, msg)

			vErr := ValidateRequest(tt.form)
			assert.True(t, errorc.IsCode(vErr, errorc.ErrorCodeValid))
		})
	}
}
