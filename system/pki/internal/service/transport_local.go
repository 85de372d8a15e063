package service

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	errorc "github.com/xsxdot/aio-pki/pkg/core/err"
	"github.com/xsxdot/aio-pki/pkg/core/logger"
	"github.com/xsxdot/aio-pki/system/pki/internal/model"
)

// localTransport 写入本机目录
type localTransport struct {
	target *DeployTarget
	log    *logger.Log
	err    *errorc.ErrorBuilder
}

func newLocalTransport(target *DeployTarget, log *logger.Log) *localTransport {
	return &localTransport{
		target: target,
		log:    log.WithEntryName("LocalTransport"),
		err:    errorc.NewErrorBuilder("LocalTransport"),
	}
}

func (t *localTransport) Connect(ctx context.Context, out LineWriter) error {
	if err := os.MkdirAll(t.target.Spec.Path, 0755); err != nil {
		return t.err.New("创建目标目录失败", err).DeploymentFailure()
	}
	out(model.LogLevelInfo, "目标目录就绪: "+t.target.Spec.Path)
	return nil
}

func (t *localTransport) Push(ctx context.Context, bundle *DeployBundle, out LineWriter) error {
	for _, f := range t.target.Files(bundle) {
		p := filepath.Join(t.target.Spec.Path, f.Name)
		if err := os.WriteFile(p, f.Content, os.FileMode(f.Mode)); err != nil {
			return t.err.New("写入 "+f.Name+" 失败", err).DeploymentFailure()
		}
		// WriteFile 不会修改已存在文件的权限
		if err := os.Chmod(p, os.FileMode(f.Mode)); err != nil {
			return t.err.New("设置 "+f.Name+" 权限失败", err).DeploymentFailure()
		}
		if owner := t.target.Spec.FileOwner; owner != "" {
			if _, err := runCommand(ctx, "chown", owner, p); err != nil {
				return t.err.New("设置 "+f.Name+" 属主失败", err).DeploymentFailure()
			}
		}
		out(model.LogLevelInfo, fmt.Sprintf("已写入 %s (%d 字节)", p, len(f.Content)))
	}
	return nil
}

func (t *localTransport) Reload(ctx context.Context, bundle *DeployBundle, out LineWriter) error {
	command := t.target.Spec.ReloadCommand
	if command == "" {
		out(model.LogLevelWarn, "未配置重载命令，跳过")
		return nil
	}
	output, err := runCommand(ctx, "sh", "-c", command)
	if output != "" {
		out(model.LogLevelInfo, output)
	}
	if err != nil {
		return t.err.New("执行重载命令失败", err).DeploymentFailure()
	}
	return nil
}

func (t *localTransport) Verify(ctx context.Context, bundle *DeployBundle, out LineWriter) error {
	if command := t.target.Spec.VerifyCommand; command != "" {
		output, err := runCommand(ctx, "sh", "-c", command)
		if output != "" {
			out(model.LogLevelInfo, output)
		}
		if err != nil {
			return t.err.New("校验命令失败", err).DeploymentFailure()
		}
		return nil
	}

	p := filepath.Join(t.target.Spec.Path, t.target.CertName())
	content, err := os.ReadFile(p)
	if err != nil {
		return t.err.New("读取已部署证书失败", err).DeploymentFailure()
	}
	if !bytes.Equal(content, []byte(bundle.CertPem)) {
		return t.err.New("已部署证书与签发证书不一致", nil).DeploymentFailure()
	}
	out(model.LogLevelInfo, "证书内容校验通过")
	return nil
}

func (t *localTransport) Close() error {
	return nil
}
