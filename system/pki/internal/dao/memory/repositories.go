package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/xsxdot/aio-pki/pkg/core/mvc"
	"github.com/xsxdot/aio-pki/system/pki/internal/dao"
	"github.com/xsxdot/aio-pki/system/pki/internal/model"
)

type authorityRepo struct{ s *Store }

func (r *authorityRepo) Create(ctx context.Context, authority *model.CertificateAuthority) error {
	defer r.s.lock()()

	for _, a := range r.s.d.authorities {
		if a.Name == authority.Name {
			return r.s.err.Conflict("CA 名称已存在")
		}
		if a.Fingerprint == authority.Fingerprint {
			return r.s.err.Conflict("CA 指纹已存在")
		}
	}

	now := time.Now()
	authority.ID = r.s.d.nextID()
	authority.CreatedAt, authority.UpdatedAt = now, now
	if authority.NextSerialNumber == 0 {
		authority.NextSerialNumber = 1
	}
	if authority.NextCrlNumber == 0 {
		authority.NextCrlNumber = 1
	}
	if authority.Status == "" {
		authority.Status = model.AuthorityStatusActive
	}
	r.s.d.authorities[authority.ID] = copyAuthority(authority)
	return nil
}

func (r *authorityRepo) FindById(ctx context.Context, id int64) (*model.CertificateAuthority, error) {
	defer r.s.lock()()
	a, ok := r.s.d.authorities[id]
	if !ok {
		return nil, r.s.err.NotFound("CA 不存在")
	}
	return copyAuthority(a), nil
}

func (r *authorityRepo) FindByName(ctx context.Context, name string) (*model.CertificateAuthority, error) {
	defer r.s.lock()()
	for _, a := range r.s.d.authorities {
		if a.Name == name {
			return copyAuthority(a), nil
		}
	}
	return nil, r.s.err.NotFound("CA 不存在")
}

func (r *authorityRepo) ExistsByName(ctx context.Context, name string) (bool, error) {
	defer r.s.lock()()
	for _, a := range r.s.d.authorities {
		if a.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (r *authorityRepo) ExistsByFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	defer r.s.lock()()
	for _, a := range r.s.d.authorities {
		if a.Fingerprint == fingerprint {
			return true, nil
		}
	}
	return false, nil
}

func (r *authorityRepo) List(ctx context.Context) ([]*model.CertificateAuthority, error) {
	return r.filter(func(*model.CertificateAuthority) bool { return true }), nil
}

func (r *authorityRepo) ListChildren(ctx context.Context, parentID int64) ([]*model.CertificateAuthority, error) {
	return r.filter(func(a *model.CertificateAuthority) bool {
		return a.ParentID != nil && *a.ParentID == parentID
	}), nil
}

func (r *authorityRepo) filter(match func(*model.CertificateAuthority) bool) []*model.CertificateAuthority {
	defer r.s.lock()()
	out := make([]*model.CertificateAuthority, 0)
	for _, a := range r.s.d.authorities {
		if match(a) {
			out = append(out, copyAuthority(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *authorityRepo) MarkRevoked(ctx context.Context, id int64, reason model.RevocationReason, at time.Time) error {
	defer r.s.lock()()
	a, ok := r.s.d.authorities[id]
	if !ok {
		return r.s.err.NotFound("CA 不存在")
	}
	if a.Status != model.AuthorityStatusActive {
		return r.s.err.Conflict("CA 已被吊销")
	}
	a.Status = model.AuthorityStatusRevoked
	a.RevokedAt = &at
	a.RevocationReason = &reason
	a.UpdatedAt = time.Now()
	return nil
}

func (r *authorityRepo) IncrementSerial(ctx context.Context, id int64) (int64, error) {
	defer r.s.lock()()
	a, ok := r.s.d.authorities[id]
	if !ok {
		return 0, r.s.err.NotFound("CA 不存在")
	}
	value := a.NextSerialNumber
	a.NextSerialNumber++
	return value, nil
}

func (r *authorityRepo) IncrementCrlNumber(ctx context.Context, id int64) (int64, error) {
	defer r.s.lock()()
	a, ok := r.s.d.authorities[id]
	if !ok {
		return 0, r.s.err.NotFound("CA 不存在")
	}
	value := a.NextCrlNumber
	a.NextCrlNumber++
	return value, nil
}

func (r *authorityRepo) CountByStatus(ctx context.Context) (map[model.AuthorityStatus]int64, error) {
	defer r.s.lock()()
	out := make(map[model.AuthorityStatus]int64)
	for _, a := range r.s.d.authorities {
		out[a.Status]++
	}
	return out, nil
}

type certificateRepo struct{ s *Store }

func (r *certificateRepo) Create(ctx context.Context, cert *model.ManagedCertificate) error {
	defer r.s.lock()()

	for _, c := range r.s.d.certificates {
		if c.AuthorityID == cert.AuthorityID && c.SerialNumber == cert.SerialNumber {
			return r.s.err.Conflict("同一 CA 下序列号重复")
		}
		if c.Fingerprint == cert.Fingerprint {
			return r.s.err.Conflict("证书指纹已存在")
		}
	}

	now := time.Now()
	cert.ID = r.s.d.nextID()
	cert.CreatedAt, cert.UpdatedAt = now, now
	if cert.Status == "" {
		cert.Status = model.CertificateStatusActive
	}
	if cert.RenewBeforeDays == 0 {
		cert.RenewBeforeDays = 30
	}
	r.s.d.certificates[cert.ID] = copyCertificate(cert)
	return nil
}

func (r *certificateRepo) FindById(ctx context.Context, id int64) (*model.ManagedCertificate, error) {
	defer r.s.lock()()
	c, ok := r.s.d.certificates[id]
	if !ok {
		return nil, r.s.err.NotFound("证书不存在")
	}
	return copyCertificate(c), nil
}

func (r *certificateRepo) FindBySerial(ctx context.Context, authorityID, serial int64) (*model.ManagedCertificate, error) {
	defer r.s.lock()()
	for _, c := range r.s.d.certificates {
		if c.AuthorityID == authorityID && c.SerialNumber == serial {
			return copyCertificate(c), nil
		}
	}
	return nil, r.s.err.NotFound("证书不存在")
}

func (r *certificateRepo) ExistsByFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	defer r.s.lock()()
	for _, c := range r.s.d.certificates {
		if c.Fingerprint == fingerprint {
			return true, nil
		}
	}
	return false, nil
}

func (r *certificateRepo) TransitionStatus(ctx context.Context, id int64, from model.CertificateStatus, patch dao.CertificatePatch) error {
	defer r.s.lock()()
	c, ok := r.s.d.certificates[id]
	if !ok {
		return r.s.err.NotFound("证书不存在")
	}
	if c.Status != from {
		return r.s.err.Conflict("证书当前状态为 " + string(c.Status) + "，不允许该操作")
	}
	patch.Apply(c)
	c.UpdatedAt = time.Now()
	return nil
}

func (r *certificateRepo) Update(ctx context.Context, id int64, patch dao.CertificatePatch) error {
	defer r.s.lock()()
	c, ok := r.s.d.certificates[id]
	if !ok {
		return r.s.err.NotFound("证书不存在")
	}
	patch.Apply(c)
	c.UpdatedAt = time.Now()
	return nil
}

func (r *certificateRepo) ListByAuthority(ctx context.Context, authorityID int64, status model.CertificateStatus) ([]*model.ManagedCertificate, error) {
	return r.filter(func(c *model.ManagedCertificate) bool {
		return c.AuthorityID == authorityID && c.Status == status
	}), nil
}

func (r *certificateRepo) ListByStatus(ctx context.Context, status model.CertificateStatus) ([]*model.ManagedCertificate, error) {
	return r.filter(func(c *model.ManagedCertificate) bool { return c.Status == status }), nil
}

func (r *certificateRepo) FindPage(ctx context.Context, query dao.CertificateQuery, page *mvc.Page) ([]*model.ManagedCertificate, int64, error) {
	all := r.filter(func(c *model.ManagedCertificate) bool {
		if query.AuthorityID > 0 && c.AuthorityID != query.AuthorityID {
			return false
		}
		if query.Status != "" && c.Status != query.Status {
			return false
		}
		if query.Purpose != "" && c.Purpose != query.Purpose {
			return false
		}
		if query.Keyword != "" && !strings.Contains(c.CommonName, query.Keyword) {
			return false
		}
		return true
	})
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	total := int64(len(all))
	if page == nil {
		page = &mvc.Page{}
	}
	offset, size := page.Paginate()
	if offset >= len(all) {
		return []*model.ManagedCertificate{}, total, nil
	}
	end := offset + size
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (r *certificateRepo) filter(match func(*model.ManagedCertificate) bool) []*model.ManagedCertificate {
	defer r.s.lock()()
	out := make([]*model.ManagedCertificate, 0)
	for _, c := range r.s.d.certificates {
		if match(c) {
			out = append(out, copyCertificate(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *certificateRepo) CountByStatus(ctx context.Context) (map[model.CertificateStatus]int64, error) {
	defer r.s.lock()()
	out := make(map[model.CertificateStatus]int64)
	for _, c := range r.s.d.certificates {
		out[c.Status]++
	}
	return out, nil
}

func (r *certificateRepo) CountActiveExpiringBefore(ctx context.Context, before time.Time) (int64, error) {
	defer r.s.lock()()
	var total int64
	for _, c := range r.s.d.certificates {
		if c.Status == model.CertificateStatusActive && !c.NotAfter.After(before) {
			total++
		}
	}
	return total, nil
}

type crlRepo struct{ s *Store }

func (r *crlRepo) Create(ctx context.Context, crl *model.CertificateRevocationList) error {
	defer r.s.lock()()
	for _, c := range r.s.d.crls {
		if c.AuthorityID == crl.AuthorityID && c.CrlNumber == crl.CrlNumber {
			return r.s.err.Conflict("CRL 编号重复")
		}
	}
	now := time.Now()
	crl.ID = r.s.d.nextID()
	crl.CreatedAt, crl.UpdatedAt = now, now
	r.s.d.crls[crl.ID] = copyCrl(crl)
	return nil
}

func (r *crlRepo) FindLatest(ctx context.Context, authorityID int64) (*model.CertificateRevocationList, error) {
	defer r.s.lock()()
	var latest *model.CertificateRevocationList
	for _, c := range r.s.d.crls {
		if c.AuthorityID == authorityID && (latest == nil || c.CrlNumber > latest.CrlNumber) {
			latest = c
		}
	}
	if latest == nil {
		return nil, r.s.err.NotFound("CRL 不存在")
	}
	return copyCrl(latest), nil
}

func (r *crlRepo) ListByAuthority(ctx context.Context, authorityID int64, limit int) ([]*model.CertificateRevocationList, error) {
	defer r.s.lock()()
	out := make([]*model.CertificateRevocationList, 0)
	for _, c := range r.s.d.crls {
		if c.AuthorityID == authorityID {
			out = append(out, copyCrl(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CrlNumber > out[j].CrlNumber })
	if limit = dao.NormalizeLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type auditRepo struct{ s *Store }

func (r *auditRepo) Append(ctx context.Context, event *model.CertificateAuditEvent) error {
	defer r.s.lock()()
	event.ID = r.s.d.nextID()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	r.s.d.events = append(r.s.d.events, copyEvent(event))
	return nil
}

func (r *auditRepo) List(ctx context.Context, query dao.AuditQuery) ([]*model.CertificateAuditEvent, error) {
	defer r.s.lock()()
	limit := dao.NormalizeLimit(query.Limit)
	out := make([]*model.CertificateAuditEvent, 0)
	for i := len(r.s.d.events) - 1; i >= 0 && len(out) < limit; i-- {
		e := r.s.d.events[i]
		if query.CertificateID != nil && (e.CertificateID == nil || *e.CertificateID != *query.CertificateID) {
			continue
		}
		if query.AuthorityID != nil && (e.AuthorityID == nil || *e.AuthorityID != *query.AuthorityID) {
			continue
		}
		if query.EventType != nil && e.EventType != *query.EventType {
			continue
		}
		out = append(out, copyEvent(e))
	}
	return out, nil
}

type deployLogRepo struct{ s *Store }

func (r *deployLogRepo) Create(ctx context.Context, log *model.CertDeploymentLog) error {
	defer r.s.lock()()
	if _, ok := r.s.d.deployLogs[log.OperationID]; ok {
		return r.s.err.Conflict("操作 ID 重复")
	}
	now := time.Now()
	log.ID = r.s.d.nextID()
	log.CreatedAt, log.UpdatedAt = now, now
	r.s.d.deployLogs[log.OperationID] = copyDeployLog(log)
	return nil
}

func (r *deployLogRepo) FindByOperationId(ctx context.Context, operationID string) (*model.CertDeploymentLog, error) {
	defer r.s.lock()()
	l, ok := r.s.d.deployLogs[operationID]
	if !ok {
		return nil, r.s.err.NotFound("部署记录不存在")
	}
	return copyDeployLog(l), nil
}

func (r *deployLogRepo) AppendLine(ctx context.Context, line *model.DeployLogLine) error {
	defer r.s.lock()()
	if _, ok := r.s.d.deployLogs[line.OperationID]; !ok {
		return r.s.err.NotFound("部署记录不存在")
	}
	lines := r.s.d.lines[line.OperationID]
	for _, l := range lines {
		if l.Seq == line.Seq {
			return r.s.err.Conflict("日志行序号重复")
		}
	}
	line.ID = r.s.d.nextID()
	r.s.d.lines[line.OperationID] = append(lines, *line)
	return nil
}

func (r *deployLogRepo) ListLines(ctx context.Context, operationID string, afterSeq int) ([]model.DeployLogLine, error) {
	defer r.s.lock()()
	out := make([]model.DeployLogLine, 0)
	for _, l := range r.s.d.lines[operationID] {
		if l.Seq > afterSeq {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (r *deployLogRepo) Finish(ctx context.Context, operationID string, status model.DeployStatus, errMsg string, at time.Time) error {
	defer r.s.lock()()
	l, ok := r.s.d.deployLogs[operationID]
	if !ok {
		return r.s.err.NotFound("部署记录不存在")
	}
	if l.Status != model.DeployStatusRunning {
		return r.s.err.Conflict("部署已结束")
	}
	l.Status = status
	l.ErrorMessage = errMsg
	l.CompletedAt = &at
	l.UpdatedAt = time.Now()
	return nil
}

func (r *deployLogRepo) List(ctx context.Context, certificateID int64, limit int) ([]*model.CertDeploymentLog, error) {
	defer r.s.lock()()
	out := make([]*model.CertDeploymentLog, 0)
	for _, l := range r.s.d.deployLogs {
		if certificateID == 0 || l.CertificateID == certificateID {
			out = append(out, copyDeployLog(l))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit = dao.NormalizeLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
