// Package memory 提供进程内的 Store 实现，用于单机试用和测试
package memory

import (
	"context"
	"sync"

	errorc "github.com/xsxdot/aio-pki/pkg/core/err"
	"github.com/xsxdot/aio-pki/system/pki/internal/dao"
	"github.com/xsxdot/aio-pki/system/pki/internal/model"
)

type data struct {
	authorities  map[int64]*model.CertificateAuthority
	certificates map[int64]*model.ManagedCertificate
	crls         map[int64]*model.CertificateRevocationList
	events       []*model.CertificateAuditEvent
	deployLogs   map[string]*model.CertDeploymentLog
	lines        map[string][]model.DeployLogLine
	sequence     int64
}

func newData() *data {
	return &data{
		authorities:  make(map[int64]*model.CertificateAuthority),
		certificates: make(map[int64]*model.ManagedCertificate),
		crls:         make(map[int64]*model.CertificateRevocationList),
		deployLogs:   make(map[string]*model.CertDeploymentLog),
		lines:        make(map[string][]model.DeployLogLine),
	}
}

func (d *data) nextID() int64 {
	d.sequence++
	return d.sequence
}

// clone 事务快照，记录按值复制
func (d *data) clone() *data {
	c := newData()
	for k, v := range d.authorities {
		c.authorities[k] = copyAuthority(v)
	}
	for k, v := range d.certificates {
		c.certificates[k] = copyCertificate(v)
	}
	for k, v := range d.crls {
		c.crls[k] = copyCrl(v)
	}
	c.events = make([]*model.CertificateAuditEvent, len(d.events))
	for i, v := range d.events {
		c.events[i] = copyEvent(v)
	}
	for k, v := range d.deployLogs {
		c.deployLogs[k] = copyDeployLog(v)
	}
	for k, v := range d.lines {
		c.lines[k] = append([]model.DeployLogLine(nil), v...)
	}
	c.sequence = d.sequence
	return c
}

// Store 所有数据由一把互斥锁保护，事务期间持有该锁直到提交或回滚
type Store struct {
	mu   *sync.Mutex
	d    *data
	inTx bool
	err  *errorc.ErrorBuilder
}

func NewStore() *Store {
	return &Store{
		mu:  &sync.Mutex{},
		d:   newData(),
		err: errorc.NewErrorBuilder("MemoryStore"),
	}
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) Authorities() dao.AuthorityRepository    { return &authorityRepo{s} }
func (s *Store) Certificates() dao.CertificateRepository { return &certificateRepo{s} }
func (s *Store) Crls() dao.CrlRepository                 { return &crlRepo{s} }
func (s *Store) AuditEvents() dao.AuditEventRepository   { return &auditRepo{s} }
func (s *Store) DeployLogs() dao.DeployLogRepository     { return &deployLogRepo{s} }

func (s *Store) Transaction(ctx context.Context, fn func(tx dao.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.d.clone()
	tx := &Store{mu: s.mu, d: s.d, inTx: true, err: s.err}
	if err := fn(tx); err != nil {
		*s.d = *snapshot
		return err
	}
	return nil
}

func copyAuthority(a *model.CertificateAuthority) *model.CertificateAuthority {
	c := *a
	c.ParentID = copyPtr(a.ParentID)
	c.RevokedAt = copyPtr(a.RevokedAt)
	c.RevocationReason = copyPtr(a.RevocationReason)
	return &c
}

func copyCertificate(m *model.ManagedCertificate) *model.ManagedCertificate {
	c := *m
	c.ReplacesID = copyPtr(m.ReplacesID)
	c.ReplacedByID = copyPtr(m.ReplacedByID)
	c.RevokedAt = copyPtr(m.RevokedAt)
	c.RevocationReason = copyPtr(m.RevocationReason)
	c.LastDeployedAt = copyPtr(m.LastDeployedAt)
	c.LastRenewalAttemptAt = copyPtr(m.LastRenewalAttemptAt)
	return &c
}

func copyCrl(m *model.CertificateRevocationList) *model.CertificateRevocationList {
	c := *m
	c.CrlDer = append([]byte(nil), m.CrlDer...)
	return &c
}

func copyEvent(e *model.CertificateAuditEvent) *model.CertificateAuditEvent {
	c := *e
	c.CertificateID = copyPtr(e.CertificateID)
	c.AuthorityID = copyPtr(e.AuthorityID)
	c.Metadata = e.Metadata.Clone()
	return &c
}

func copyDeployLog(l *model.CertDeploymentLog) *model.CertDeploymentLog {
	c := *l
	c.CompletedAt = copyPtr(l.CompletedAt)
	c.Lines = nil
	return &c
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
