package app

import (
	"context"
	"crypto/x509"
	"testing"

	"github.com/xsxdot/aio-pki/pkg/core/config"
	errorc "github.com/xsxdot/aio-pki/pkg/core/err"
	"github.com/xsxdot/aio-pki/system/pki/internal/dao"
	"github.com/xsxdot/aio-pki/system/pki/internal/model"
	"github.com/xsxdot/aio-pki/system/pki/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApp_CreateRoot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	root := env.root(t, "Root-X", 365)
	assert.Equal(t, int64(1), root.NextSerialNumber)
	assert.Equal(t, int64(1), root.NextCrlNumber)
	assert.Equal(t, -1, root.PathLen)
	assert.True(t, root.IsRoot())
	assert.Equal(t, root.CertificatePem, root.ChainPem)

	cert, err := service.ParseCertificatePem(root.CertificatePem)
	require.NoError(t, err)
	assert.True(t, cert.IsCA)
	assert.Equal(t, "Root-X", cert.Subject.CommonName)

	_, err = env.app.CreateRoot(ctx, &CreateAuthorityRequest{
		Subject:      service.Subject{CommonName: "Root-X"},
		KeyAlgorithm: model.KeyAlgorithmECDSA,
	})
	assert.True(t, errorc.IsConflict(err), "同名 CA 应冲突")

	_, err = env.app.CreateRoot(ctx, &CreateAuthorityRequest{
		Subject:      service.Subject{CommonName: "Root-Y"},
		KeyAlgorithm: model.KeyAlgorithmRSA,
		KeySize:      1024,
	})
	assert.True(t, errorc.IsCode(err, errorc.ErrorCodeCrypto), "不支持的密钥长度")

	failed := env.events(t, dao.AuditQuery{EventType: eventType(model.EventCaCreated)})
	require.Len(t, failed, 3)
	assert.False(t, failed[0].Success)
	assert.False(t, failed[1].Success)
	assert.True(t, failed[2].Success)
}

func TestApp_CreateIntermediate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	root := env.root(t, "Root-I", 3650)

	inter, err := env.app.CreateIntermediate(ctx, root.ID, &CreateAuthorityRequest{
		Name:         "Issuing-1",
		Subject:      service.Subject{CommonName: "Issuing CA 1", Organization: "Internal"},
		KeyAlgorithm: model.KeyAlgorithmECDSA,
		KeySize:      256,
		ValidityDays: 365,
	})
	require.NoError(t, err)
	assert.Equal(t, root.ID, *inter.ParentID)
	assert.Equal(t, "0000000000000001", inter.SerialNumber)
	assert.Equal(t, 0, inter.PathLen)
	assert.Equal(t, inter.CertificatePem+root.ChainPem, inter.ChainPem)

	parent, err := env.app.GetAuthority(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), parent.NextSerialNumber, "中间 CA 占用上级 CA 的序列号")

	// 叶子证书能通过 根 -> 中间 -> 叶子 的校验
	leaf := env.issue(t, inter.ID, "api.internal")
	leafCert, err := service.ParseCertificatePem(leaf.CertificatePem)
	require.NoError(t, err)
	rootCert, err := service.ParseCertificatePem(root.CertificatePem)
	require.NoError(t, err)
	interCert, err := service.ParseCertificatePem(inter.CertificatePem)
	require.NoError(t, err)

	roots := x509.NewCertPool()
	roots.AddCert(rootCert)
	intermediates := x509.NewCertPool()
	intermediates.AddCert(interCert)
	_, err = leafCert.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		DNSName:       "api.internal",
	})
	assert.NoError(t, err)

	t.Run("路径长度为 0 的 CA 不能再签发中间 CA", func(t *testing.T) {
		_, err := env.app.CreateIntermediate(ctx, inter.ID, &CreateAuthorityRequest{
			Subject:      service.Subject{CommonName: "Issuing CA 2"},
			KeyAlgorithm: model.KeyAlgorithmECDSA,
			ValidityDays: 30,
		})
		assert.True(t, errorc.IsConflict(err))
	})

	t.Run("上级 CA 不存在", func(t *testing.T) {
		_, err := env.app.CreateIntermediate(ctx, 9999, &CreateAuthorityRequest{
			Subject: service.Subject{CommonName: "Orphan"},
		})
		assert.True(t, errorc.IsNotFound(err))
	})
}

func TestApp_CreateIntermediate_ValidityViolation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	root := env.root(t, "Root-V", 365)

	_, err := env.app.CreateIntermediate(ctx, root.ID, &CreateAuthorityRequest{
		Subject:      service.Subject{CommonName: "Too Long"},
		KeyAlgorithm: model.KeyAlgorithmECDSA,
		ValidityDays: 730,
	})
	require.Error(t, err)
	assert.True(t, errorc.IsCode(err, errorc.ErrorCodeValidity))

	list, err := env.app.ListAuthorities(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1, "不应落任何中间 CA")

	parent, err := env.app.GetAuthority(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), parent.NextSerialNumber, "不应消耗序列号")

	events := env.events(t, dao.AuditQuery{EventType: eventType(model.EventIntermediateCaCreated)})
	require.Len(t, events, 1)
	assert.False(t, events[0].Success)
	assert.NotEmpty(t, events[0].ErrorMessage)
}

func TestApp_CreateIntermediate_RevokedParent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	root := env.root(t, "Root-R", 365)
	require.NoError(t, env.app.RevokeAuthority(ctx, root.ID, model.ReasonKeyCompromise))

	_, err := env.app.CreateIntermediate(ctx, root.ID, &CreateAuthorityRequest{
		Subject:      service.Subject{CommonName: "Child"},
		KeyAlgorithm: model.KeyAlgorithmECDSA,
		ValidityDays: 30,
	})
	assert.True(t, errorc.IsConflict(err))

	err = env.app.RevokeAuthority(ctx, root.ID, model.ReasonKeyCompromise)
	assert.True(t, errorc.IsConflict(err), "重复吊销 CA")
}

func TestApp_RevokeAuthority_Cascade(t *testing.T) {
	tests := []struct {
		name        string
		cascade     bool
		wantStatus  model.CertificateStatus
		wantInter   model.AuthorityStatus
		wantEntries int
	}{
		{name: "默认不级联", cascade: false, wantStatus: model.CertificateStatusActive, wantInter: model.AuthorityStatusActive, wantEntries: 0},
		{name: "开启级联", cascade: true, wantStatus: model.CertificateStatusRevoked, wantInter: model.AuthorityStatusRevoked, wantEntries: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(cfg *config.PkiConfig) { cfg.CascadeRevoke = tt.cascade })
			ctx := context.Background()
			root := env.root(t, "Root-C", 3650)
			pathLen := 1
			inter, err := env.app.CreateIntermediate(ctx, root.ID, &CreateAuthorityRequest{
				Subject:      service.Subject{CommonName: "Issuing"},
				KeyAlgorithm: model.KeyAlgorithmECDSA,
				ValidityDays: 365,
				PathLen:      &pathLen,
			})
			require.NoError(t, err)
			direct := env.issue(t, root.ID, "direct.internal")
			nested := env.issue(t, inter.ID, "nested.internal")

			require.NoError(t, env.app.RevokeAuthority(ctx, root.ID, model.ReasonKeyCompromise))

			got, err := env.app.GetCertificate(ctx, direct.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status)
			got, err = env.app.GetCertificate(ctx, nested.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status)

			child, err := env.app.GetAuthority(ctx, inter.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantInter, child.Status)

			crl, err := env.app.GenerateCrl(ctx, root.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantEntries, crl.RevokedCount, "直接签发的证书和下级 CA")
		})
	}
}

func TestApp_GetChain(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	root := env.root(t, "Root-G", 365)

	chain, err := env.app.GetChain(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, root.ChainPem, chain)

	_, err = env.app.GetChain(ctx, 404)
	assert.True(t, errorc.IsNotFound(err))
}
