package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	errorc "github.com/xsxdot/aio-pki/pkg/core/err"
	"github.com/xsxdot/aio-pki/pkg/core/logger"
	"github.com/xsxdot/aio-pki/system/pki/internal/model"
)

// containerTransport 通过本机 docker 命令写入容器
type containerTransport struct {
	target *DeployTarget
	log    *logger.Log
	err    *errorc.ErrorBuilder
}

func newContainerTransport(target *DeployTarget, log *logger.Log) *containerTransport {
	return &containerTransport{
		target: target,
		log:    log.WithEntryName("ContainerTransport"),
		err:    errorc.NewErrorBuilder("ContainerTransport"),
	}
}

func (t *containerTransport) Connect(ctx context.Context, out LineWriter) error {
	container := t.target.Spec.Container
	state, err := runCommand(ctx, "docker", "inspect", "-f", "{{.State.Running}}", container)
	if err != nil {
		return t.err.New("查询容器状态失败", err).DeploymentFailure()
	}
	if strings.TrimSpace(state) != "true" {
		return t.err.New("容器未运行: "+container, nil).DeploymentFailure()
	}
	if _, err := runCommand(ctx, "docker", "exec", "-u", "root", container, "mkdir", "-p", t.target.Spec.Path); err != nil {
		return t.err.New("创建容器内目录失败", err).DeploymentFailure()
	}
	out(model.LogLevelInfo, "容器运行中: "+container)
	return nil
}

func (t *containerTransport) Push(ctx context.Context, bundle *DeployBundle, out LineWriter) error {
	staging, err := os.MkdirTemp("", "pki-deploy-")
	if err != nil {
		return t.err.New("创建临时目录失败", err).DeploymentFailure()
	}
	defer os.RemoveAll(staging)

	container := t.target.Spec.Container
	for _, f := range t.target.Files(bundle) {
		local := filepath.Join(staging, f.Name)
		if err := os.WriteFile(local, f.Content, os.FileMode(f.Mode)); err != nil {
			return t.err.New("写入临时文件失败", err).DeploymentFailure()
		}
		remote := joinPath(t.target.Spec.Path, f.Name)
		if _, err := runCommand(ctx, "docker", "cp", local, container+":"+remote); err != nil {
			return t.err.New("复制 "+f.Name+" 到容器失败", err).DeploymentFailure()
		}
		if _, err := runCommand(ctx, "docker", "exec", "-u", "root", container, "chmod", fmt.Sprintf("%o", f.Mode), remote); err != nil {
			return t.err.New("设置 "+f.Name+" 权限失败", err).DeploymentFailure()
		}
		if owner := t.target.Spec.FileOwner; owner != "" {
			if _, err := runCommand(ctx, "docker", "exec", "-u", "root", container, "chown", owner, remote); err != nil {
				return t.err.New("设置 "+f.Name+" 属主失败", err).DeploymentFailure()
			}
		}
		out(model.LogLevelInfo, fmt.Sprintf("已复制 %s:%s", container, remote))
	}
	return nil
}

func (t *containerTransport) Reload(ctx context.Context, bundle *DeployBundle, out LineWriter) error {
	command := t.target.Spec.ReloadCommand
	if command == "" {
		out(model.LogLevelWarn, "未配置重载命令，跳过")
		return nil
	}
	output, err := runCommand(ctx, "docker", "exec", t.target.Spec.Container, "sh", "-c", command)
	if output != "" {
		out(model.LogLevelInfo, output)
	}
	if err != nil {
		return t.err.New("执行容器内重载命令失败", err).DeploymentFailure()
	}
	return nil
}

func (t *containerTransport) Verify(ctx context.Context, bundle *DeployBundle, out LineWriter) error {
	command := t.target.Spec.VerifyCommand
	if command == "" {
		command = "test -s " + shellQuote(joinPath(t.target.Spec.Path, t.target.CertName()))
	}
	output, err := runCommand(ctx, "docker", "exec", t.target.Spec.Container, "sh", "-c", command)
	if output != "" {
		out(model.LogLevelInfo, output)
	}
	if err != nil {
		return t.err.New("容器内校验失败", err).DeploymentFailure()
	}
	out(model.LogLevelInfo, "容器内证书校验通过")
	return nil
}

func (t *containerTransport) Close() error {
	return nil
}
