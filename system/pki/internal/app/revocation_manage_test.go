package app

import (
	"context"
	"crypto/x509"
	"sort"
	"sync"
	"testing"
	"time"

	errorc "github.com/xsxdot/aio-pki/pkg/core/err"
	"github.com/xsxdot/aio-pki/system/pki/internal/dao"
	"github.com/xsxdot/aio-pki/system/pki/internal/model"
	"github.com/xsxdot/aio-pki/system/pki/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ocsp"
)

func TestApp_GenerateCrl(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	root := env.root(t, "Root-Crl", 365)

	first := env.issue(t, root.ID, "a.internal")
	env.issue(t, root.ID, "b.internal")
	require.NoError(t, env.app.RevokeCertificate(ctx, first.ID, model.ReasonKeyCompromise))

	crl1, err := env.app.GenerateCrl(ctx, root.ID)
	require.NoError(t, err)
	crl2, err := env.app.GenerateCrl(ctx, root.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(1), crl1.CrlNumber)
	assert.Equal(t, int64(2), crl2.CrlNumber)
	assert.Equal(t, 1, crl1.RevokedCount)
	assert.Equal(t, crl1.RevokedCount, crl2.RevokedCount)
	assert.Equal(t, 7*24*time.Hour, crl2.NextUpdate.Sub(crl2.ThisUpdate))

	issuer, err := service.ParseCertificatePem(root.CertificatePem)
	require.NoError(t, err)
	parsed, err := x509.ParseRevocationList(crl2.CrlDer)
	require.NoError(t, err)
	require.NoError(t, parsed.CheckSignatureFrom(issuer))
	assert.Equal(t, int64(2), parsed.Number.Int64())
	require.Len(t, parsed.RevokedCertificateEntries, 1)
	assert.Equal(t, first.SerialNumber, parsed.RevokedCertificateEntries[0].SerialNumber.Int64())
	assert.Equal(t, int(model.ReasonKeyCompromise), parsed.RevokedCertificateEntries[0].ReasonCode)

	latest, err := env.app.LatestCrl(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, crl2.ID, latest.ID)

	der, err := env.app.LatestCrlDer(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, crl2.CrlDer, der)

	list, err := env.app.ListCrls(ctx, root.ID, 10)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	events := env.events(t, dao.AuditQuery{AuthorityID: &root.ID, EventType: eventType(model.EventCrlGenerated)})
	require.Len(t, events, 2)
	assert.True(t, events[0].Success)

	t.Run("CA 不存在", func(t *testing.T) {
		_, err := env.app.GenerateCrl(ctx, 9999)
		assert.True(t, errorc.IsNotFound(err))
		_, err = env.app.LatestCrl(ctx, 9999)
		assert.True(t, errorc.IsNotFound(err))
	})
}

func TestApp_GenerateCrl_Concurrent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	root := env.root(t, "Root-CrlParallel", 365)
	revoked := env.issue(t, root.ID, "parallel.internal")
	require.NoError(t, env.app.RevokeCertificate(ctx, revoked.ID, model.ReasonKeyCompromise))

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers []int64
		errs    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			crl, err := env.app.GenerateCrl(ctx, root.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			numbers = append(numbers, crl.CrlNumber)
		}()
	}
	wg.Wait()
	require.Empty(t, errs)

	tests := []struct {
		name  string
		check func(t *testing.T)
	}{
		{"编号互不重复且连续", func(t *testing.T) {
			sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
			want := make([]int64, workers)
			for i := range want {
				want[i] = int64(i + 1)
			}
			assert.Equal(t, want, numbers)
		}},
		{"CA 的下一个编号", func(t *testing.T) {
			authority, err := env.store.Authorities().FindById(ctx, root.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(workers+1), authority.NextCrlNumber)
		}},
		{"最新 CRL 为最大编号", func(t *testing.T) {
			latest, err := env.app.LatestCrl(ctx, root.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(workers), latest.CrlNumber)
			assert.Equal(t, 1, latest.RevokedCount)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, tt.check)
	}
}

// 完整场景：RSA 根 CA 签发、吊销、生成 CRL、查询状态
func TestApp_RevocationScenario(t *testing.T) {
	if testing.Short() {
		t.Skip("生成 RSA 4096 密钥较慢")
	}
	env := newTestEnv(t)
	ctx := context.Background()

	root, err := env.app.CreateRoot(ctx, &CreateAuthorityRequest{
		Name:         "Root-A",
		Subject:      service.Subject{CommonName: "Root-A", Organization: "Internal"},
		KeyAlgorithm: model.KeyAlgorithmRSA,
		KeySize:      4096,
		ValidityDays: 3650,
	})
	require.NoError(t, err)

	cert := env.issue(t, root.ID, "pg.internal")
	assert.Equal(t, int64(1), cert.SerialNumber)

	require.NoError(t, env.app.RevokeCertificate(ctx, cert.ID, model.ReasonKeyCompromise))

	crl, err := env.app.GenerateCrl(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), crl.CrlNumber)
	assert.Equal(t, 1, crl.RevokedCount)

	status, err := env.app.CheckStatus(ctx, root.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, CertStatusRevoked, status.Status)
	require.NotNil(t, status.Reason)
	assert.Equal(t, model.ReasonKeyCompromise, *status.Reason)
	require.NotNil(t, status.RevokedAt)
}

func TestApp_CheckStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	root := env.root(t, "Root-Status", 365)

	good := env.issue(t, root.ID, "good.internal")
	revoked := env.issue(t, root.ID, "revoked.internal")
	renewed := env.issue(t, root.ID, "renewed.internal")
	short := env.issue(t, root.ID, "short.internal", func(req *IssueCertificateRequest) { req.ValidityDays = 5 })

	require.NoError(t, env.app.RevokeCertificate(ctx, revoked.ID, model.ReasonSuperseded))
	_, err := env.app.RenewCertificate(ctx, renewed.ID)
	require.NoError(t, err)

	clock := env.app.now
	env.app.now = func() time.Time { return clock().AddDate(0, 0, 10) }
	expired, err := env.app.ExpirySweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
	env.app.now = clock

	tests := []struct {
		name   string
		serial int64
		want   CertStatus
	}{
		{"有效证书", good.SerialNumber, CertStatusGood},
		{"已吊销证书", revoked.SerialNumber, CertStatusRevoked},
		{"被替代证书仍为 good", renewed.SerialNumber, CertStatusGood},
		{"过期证书仍为 good", short.SerialNumber, CertStatusGood},
		{"未签发的序列号", 9999, CertStatusUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := env.app.CheckStatus(ctx, root.ID, tt.serial)
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Status)
			assert.Equal(t, service.SerialHex(tt.serial), result.SerialHex)
			if tt.want == CertStatusRevoked {
				require.NotNil(t, result.Reason)
				assert.Equal(t, model.ReasonSuperseded, *result.Reason)
			} else {
				assert.Nil(t, result.RevokedAt)
			}
		})
	}

	t.Run("CA 不存在", func(t *testing.T) {
		_, err := env.app.CheckStatus(ctx, 9999, 1)
		assert.True(t, errorc.IsNotFound(err))
	})

	t.Run("下级 CA 的序列号", func(t *testing.T) {
		sub, err := env.app.CreateIntermediate(ctx, root.ID, &CreateAuthorityRequest{
			Name:         "Sub-Status",
			Subject:      service.Subject{CommonName: "Sub-Status"},
			KeyAlgorithm: model.KeyAlgorithmECDSA,
			ValidityDays: 30,
		})
		require.NoError(t, err)
		parsed, err := service.ParseCertificatePem(sub.CertificatePem)
		require.NoError(t, err)

		result, err := env.app.CheckStatus(ctx, root.ID, parsed.SerialNumber.Int64())
		require.NoError(t, err)
		assert.Equal(t, CertStatusGood, result.Status)

		require.NoError(t, env.app.RevokeAuthority(ctx, sub.ID, model.ReasonCessationOfOperation))
		result, err = env.app.CheckStatus(ctx, root.ID, parsed.SerialNumber.Int64())
		require.NoError(t, err)
		assert.Equal(t, CertStatusRevoked, result.Status)
	})

	queries := env.events(t, dao.AuditQuery{AuthorityID: &root.ID, EventType: eventType(model.EventOcspQuery)})
	assert.NotEmpty(t, queries)
}

func TestApp_OCSP(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	root := env.root(t, "Root-Ocsp", 365)
	issuer, err := service.ParseCertificatePem(root.CertificatePem)
	require.NoError(t, err)

	good := env.issue(t, root.ID, "good.internal")
	revoked := env.issue(t, root.ID, "revoked.internal")
	require.NoError(t, env.app.RevokeCertificate(ctx, revoked.ID, model.ReasonKeyCompromise))

	tests := []struct {
		name   string
		cert   *model.ManagedCertificate
		status int
	}{
		{"有效证书", good, ocsp.Good},
		{"已吊销证书", revoked, ocsp.Revoked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			leaf, err := service.ParseCertificatePem(tt.cert.CertificatePem)
			require.NoError(t, err)
			reqDer, err := ocsp.CreateRequest(leaf, issuer, nil)
			require.NoError(t, err)

			respDer, err := env.app.OCSP(ctx, root.ID, reqDer)
			require.NoError(t, err)
			resp, err := ocsp.ParseResponseForCert(respDer, leaf, issuer)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.Status)
			if tt.status == ocsp.Revoked {
				assert.Equal(t, int(model.ReasonKeyCompromise), resp.RevocationReason)
			}
		})
	}

	t.Run("请求格式错误", func(t *testing.T) {
		_, err := env.app.OCSP(ctx, root.ID, []byte("not a request"))
		assert.True(t, errorc.IsCode(err, errorc.ErrorCodeValid))
	})
}

func TestApp_RefreshDueCrls(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	fresh := env.root(t, "Root-Fresh", 365)
	env.root(t, "Root-Missing", 365)
	gone := env.root(t, "Root-Gone", 365)
	require.NoError(t, env.app.RevokeAuthority(ctx, gone.ID, model.ReasonCessationOfOperation))

	_, err := env.app.GenerateCrl(ctx, fresh.ID)
	require.NoError(t, err)

	refreshed, err := env.app.RefreshDueCrls(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, refreshed, "只刷新没有 CRL 的有效 CA")

	clock := env.app.now
	env.app.now = func() time.Time { return clock().AddDate(0, 0, 6).Add(12 * time.Hour) }
	refreshed, err = env.app.RefreshDueCrls(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, refreshed, "CRL 即将到期时重新生成")

	latest, err := env.app.LatestCrl(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest.CrlNumber)
}
