package model

import (
	"time"

	"github.com/xsxdot/aio-pki/pkg/core/model/common"
)

// CertDeploymentLog 一次部署操作
type CertDeploymentLog struct {
	common.Model
	CertificateID    int64           `gorm:"not null;index" json:"certificateId" comment:"部署的证书"`
	OperationID      string          `gorm:"size:32;not null;uniqueIndex" json:"operationId" comment:"操作 ID"`
	TargetName       string          `gorm:"size:100" json:"targetName" comment:"命名目标"`
	TargetKind       TargetKind      `gorm:"size:20;not null" json:"targetKind" comment:"目标类型"`
	TargetDescriptor string          `gorm:"size:300" json:"targetDescriptor" comment:"主机/容器描述"`
	Status           DeployStatus    `gorm:"size:20;not null;index" json:"status" comment:"状态"`
	StartedAt        time.Time       `gorm:"not null" json:"startedAt" comment:"开始时间"`
	CompletedAt      *time.Time      `json:"completedAt" comment:"结束时间"`
	ErrorMessage     string          `gorm:"type:text" json:"errorMessage" comment:"错误信息"`
	Lines            []DeployLogLine `gorm:"-" json:"lines,omitempty"`
}

func (CertDeploymentLog) TableName() string {
	return "pki_deploy_logs"
}

func (l *CertDeploymentLog) IsTerminal() bool {
	return l.Status == DeployStatusCompleted || l.Status == DeployStatusFailed
}

// DeployLogLine 部署日志行，按 Seq 严格有序
type DeployLogLine struct {
	ID          int64     `gorm:"primaryKey" json:"-"`
	OperationID string    `gorm:"size:32;not null;uniqueIndex:idx_pki_deploy_line_seq,priority:1" json:"operationId"`
	Seq         int       `gorm:"not null;uniqueIndex:idx_pki_deploy_line_seq,priority:2" json:"seq"`
	Timestamp   time.Time `gorm:"not null" json:"timestamp"`
	Level       LogLevel  `gorm:"size:10;not null" json:"level"`
	Message     string    `gorm:"type:text;not null" json:"message"`
}

func (DeployLogLine) TableName() string {
	return "pki_deploy_log_lines"
}
