package pki

import (
	"context"
	"testing"

	"github.com/xsxdot/aio-pki/base"
	errorc "github.com/xsxdot/aio-pki/pkg/core/err"
	"github.com/xsxdot/aio-pki/pkg/core/logger"
	"github.com/xsxdot/aio-pki/pkg/core/start"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewModule_MemoryStore(t *testing.T) {
	base.Logger = logger.GetLogger()
	base.Configures = &start.Configures{Config: start.Config{AppName: "aio-pki"}}
	base.DB = nil
	base.RDB = nil

	m := NewModule()
	t.Cleanup(m.Shutdown)
	require.NotNil(t, m.Client)

	ctx := context.Background()
	tests := []struct {
		name string
		run  func() error
	}{
		{"查询不存在的证书", func() error {
			_, err := m.Client.GetCertificate(ctx, 1)
			return err
		}},
		{"查询不存在的 CA 状态", func() error {
			_, err := m.Client.CheckStatus(ctx, 1, 1)
			return err
		}},
		{"获取不存在的证书链", func() error {
			_, err := m.Client.GetChain(ctx, 1)
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errorc.IsNotFound(tt.run()))
		})
	}
}
