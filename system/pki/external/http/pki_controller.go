package http

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/xsxdot/aio-pki/base"
	errorc "github.com/xsxdot/aio-pki/pkg/core/err"
	"github.com/xsxdot/aio-pki/pkg/core/logger"
	"github.com/xsxdot/aio-pki/pkg/core/mvc"
	"github.com/xsxdot/aio-pki/pkg/core/result"
	"github.com/xsxdot/aio-pki/pkg/core/security"
	"github.com/xsxdot/aio-pki/pkg/core/util"
	"github.com/xsxdot/aio-pki/system/pki/api/client"
	"github.com/xsxdot/aio-pki/system/pki/api/dto"
	"github.com/xsxdot/aio-pki/system/pki/internal/app"
	"github.com/xsxdot/aio-pki/system/pki/internal/dao"
	"github.com/xsxdot/aio-pki/system/pki/internal/model"
	"github.com/xsxdot/aio-pki/system/pki/internal/service"
	"github.com/xsxdot/aio-pki/utils"

	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"
)

const anonymousActor = "anonymous"

// PkiController 证书中心控制器，后台管理接口和公开的 CRL / OCSP 接口
type PkiController struct {
	app *app.App
	log *logger.Log
	err *errorc.ErrorBuilder
}

func NewPkiController(app *app.App) *PkiController {
	return &PkiController{
		app: app,
		log: logger.GetLogger().WithEntryName("PkiController"),
		err: errorc.NewErrorBuilder("PkiController"),
	}
}

// RegisterRoutes 注册后台管理路由
func (c *PkiController) RegisterRoutes(admin fiber.Router) {
	pki := admin.Group("/pki")
	pki.Get("/dashboard", base.AdminAuth.RequireAdminAuth(security.PermPkiRead), c.Dashboard)

	authorities := pki.Group("/authorities")
	authorities.Post("/", base.AdminAuth.RequireAdminAuth(security.PermPkiCaCreate), c.CreateRoot)
	authorities.Get("/", base.AdminAuth.RequireAdminAuth(security.PermPkiRead), c.ListAuthorities)
	authorities.Get("/:id", base.AdminAuth.RequireAdminAuth(security.PermPkiRead), c.GetAuthority)
	authorities.Post("/:id/intermediates", base.AdminAuth.RequireAdminAuth(security.PermPkiCaCreate), c.CreateIntermediate)
	authorities.Post("/:id/revoke", base.AdminAuth.RequireAdminAuth(security.PermPkiCaRevoke), c.RevokeAuthority)
	authorities.Post("/:id/crl", base.AdminAuth.RequireAdminAuth(security.PermPkiCrlGenerate), c.GenerateCrl)
	authorities.Get("/:id/crls", base.AdminAuth.RequireAdminAuth(security.PermPkiRead), c.ListCrls)

	certs := pki.Group("/certificates")
	certs.Post("/", base.AdminAuth.RequireAdminAuth(security.PermPkiCertIssue), c.IssueCertificate)
	certs.Get("/", base.AdminAuth.RequireAdminAuth(security.PermPkiRead), c.ListCertificates)
	certs.Get("/:id", base.AdminAuth.RequireAdminAuth(security.PermPkiRead), c.GetCertificate)
	certs.Get("/:id/bundle", base.AdminAuth.RequireAdminAuth(security.PermPkiCertExport), c.GetBundle)
	certs.Post("/:id/renew", base.AdminAuth.RequireAdminAuth(security.PermPkiCertRenew), c.RenewCertificate)
	certs.Post("/:id/revoke", base.AdminAuth.RequireAdminAuth(security.PermPkiCertRevoke), c.RevokeCertificate)
	certs.Put("/:id/auto-renew", base.AdminAuth.RequireAdminAuth(security.PermPkiCertRenew), c.SetAutoRenew)
	certs.Post("/:id/deploy", base.AdminAuth.RequireAdminAuth(security.PermPkiCertDeploy), c.Deploy)
	certs.Post("/:id/rotate", base.AdminAuth.RequireAdminAuth(security.PermPkiCertDeploy), c.Rotate)
	certs.Get("/:id/deploy-logs", base.AdminAuth.RequireAdminAuth(security.PermPkiRead), c.ListDeployLogs)

	pki.Post("/sweeps/auto-renew", base.AdminAuth.RequireAdminAuth(security.PermPkiCertRenew), c.AutoRenewSweep)
	pki.Post("/sweeps/expiry", base.AdminAuth.RequireAdminAuth(security.PermPkiCertRenew), c.ExpirySweep)

	pki.Get("/deploy-logs/:operationId", base.AdminAuth.RequireAdminAuth(security.PermPkiRead), c.GetDeployLog)
	pki.Get("/deploy-logs/:operationId/stream", base.AdminAuth.RequireAdminAuth(security.PermPkiRead), c.StreamDeployLog)
	pki.Get("/deploy-targets", base.AdminAuth.RequireAdminAuth(security.PermPkiRead), c.DeployTargets)
	pki.Get("/audit-events", base.AdminAuth.RequireAdminAuth(security.PermPkiAuditRead), c.ListAuditEvents)
}

// RegisterPublicRoutes 注册无需鉴权的 CRL 分发点、OCSP 和状态查询
func (c *PkiController) RegisterPublicRoutes(api fiber.Router) {
	pki := api.Group("/pki")
	pki.Get("/crl/:id", c.DownloadCrl)
	pki.Get("/crl/:id/pem", c.DownloadCrlPem)
	pki.Get("/chain/:id", c.DownloadChain)
	pki.Post("/ocsp/:id", c.OCSP)
	pki.Get("/ocsp/:id/*", c.OCSP)
	pki.Get("/status/:id/:serial", c.CheckStatus)
}

func (c *PkiController) paramID(ctx *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(ctx.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, c.err.New("无效的 "+name, err).ValidWithCtx()
	}
	return id, nil
}

func (c *PkiController) parseBody(ctx *fiber.Ctx, req interface{}) error {
	if err := ctx.BodyParser(req); err != nil {
		return c.err.New("解析请求参数失败", err).ValidWithCtx()
	}
	return utils.ValidateRequest(req)
}

// publicContext 公开接口没有登录信息，审计主体记为匿名
func publicContext(ctx *fiber.Ctx) context.Context {
	return security.WithPrincipal(util.Context(ctx), security.Principal{Actor: anonymousActor, SourceIP: ctx.IP()})
}

// ===== CA 管理 =====

func (c *PkiController) CreateRoot(ctx *fiber.Ctx) error {
	var req dto.CreateAuthorityReq
	if err := c.parseBody(ctx, &req); err != nil {
		return err
	}
	authority, err := c.app.CreateRoot(util.Context(ctx), client.AuthorityRequest(&req))
	if err != nil {
		return err
	}
	return result.OK(ctx, client.ToAuthorityDTO(authority))
}

func (c *PkiController) CreateIntermediate(ctx *fiber.Ctx) error {
	parentID, err := c.paramID(ctx, "id")
	if err != nil {
		return err
	}
	var req dto.CreateAuthorityReq
	if err := c.parseBody(ctx, &req); err != nil {
		return err
	}
	authority, err := c.app.CreateIntermediate(util.Context(ctx), parentID, client.AuthorityRequest(&req))
	if err != nil {
		return err
	}
	return result.OK(ctx, client.ToAuthorityDTO(authority))
}

func (c *PkiController) ListAuthorities(ctx *fiber.Ctx) error {
	list, err := c.app.ListAuthorities(util.Context(ctx))
	if err != nil {
		return err
	}
	out := make([]*dto.AuthorityDTO, 0, len(list))
	for _, a := range list {
		out = append(out, client.ToAuthorityDTO(a))
	}
	return result.OK(ctx, out)
}

func (c *PkiController) GetAuthority(ctx *fiber.Ctx) error {
	id, err := c.paramID(ctx, "id")
	if err != nil {
		return err
	}
	authority, err := c.app.GetAuthority(util.Context(ctx), id)
	if err != nil {
		return err
	}
	return result.OK(ctx, client.ToAuthorityDTO(authority))
}

func (c *PkiController) RevokeAuthority(ctx *fiber.Ctx) error {
	id, err := c.paramID(ctx, "id")
	if err != nil {
		return err
	}
	reason, err := c.parseReason(ctx)
	if err != nil {
		return err
	}
	return result.Once(ctx, nil, c.app.RevokeAuthority(util.Context(ctx), id, reason))
}

func (c *PkiController) parseReason(ctx *fiber.Ctx) (model.RevocationReason, error) {
	var req dto.RevokeReq
	if err := c.parseBody(ctx, &req); err != nil {
		return 0, err
	}
	reason, ok := model.ParseRevocationReason(req.Reason)
	if !ok {
		return 0, c.err.BadRequest("无效的吊销原因: " + req.Reason)
	}
	return reason, nil
}

// ===== CRL =====

func (c *PkiController) GenerateCrl(ctx *fiber.Ctx) error {
	id, err := c.paramID(ctx, "id")
	if err != nil {
		return err
	}
	crl, err := c.app.GenerateCrl(util.Context(ctx), id)
	return result.Once(ctx, crl, err)
}

func (c *PkiController) ListCrls(ctx *fiber.Ctx) error {
	id, err := c.paramID(ctx, "id")
	if err != nil {
		return err
	}
	list, err := c.app.ListCrls(util.Context(ctx), id, ctx.QueryInt("limit", 20))
	return result.Once(ctx, list, err)
}

func (c *PkiController) DownloadCrl(ctx *fiber.Ctx) error {
	id, err := c.paramID(ctx, "id")
	if err != nil {
		return err
	}
	der, err := c.app.LatestCrlDer(publicContext(ctx), id)
	if err != nil {
		return err
	}
	return result.Download(ctx, fmt.Sprintf("ca-%d.crl", id), "application/pkix-crl", der)
}

func (c *PkiController) DownloadCrlPem(ctx *fiber.Ctx) error {
	id, err := c.paramID(ctx, "id")
	if err != nil {
		return err
	}
	crl, err := c.app.LatestCrl(publicContext(ctx), id)
	if err != nil {
		return err
	}
	return result.Download(ctx, fmt.Sprintf("ca-%d.crl.pem", id), "application/x-pem-file", []byte(crl.CrlPem))
}

func (c *PkiController) DownloadChain(ctx *fiber.Ctx) error {
	id, err := c.paramID(ctx, "id")
	if err != nil {
		return err
	}
	chain, err := c.app.GetChain(publicContext(ctx), id)
	if err != nil {
		return err
	}
	return result.Download(ctx, fmt.Sprintf("ca-%d-chain.pem", id), "application/x-pem-file", []byte(chain))
}

// OCSP POST 时请求体为 DER，GET 时路径为 base64 编码的 DER
func (c *PkiController) OCSP(ctx *fiber.Ctx) error {
	id, err := c.paramID(ctx, "id")
	if err != nil {
		return err
	}

	var der []byte
	if ctx.Method() == fiber.MethodGet {
		raw, err := url.PathUnescape(ctx.Params("*"))
		if err != nil {
			return c.err.New("OCSP 请求路径格式错误", err).ValidWithCtx()
		}
		if der, err = base64.StdEncoding.DecodeString(raw); err != nil {
			return c.err.New("OCSP 请求不是有效的 base64", err).ValidWithCtx()
		}
	} else {
		der = ctx.Body()
	}

	resp, err := c.app.OCSP(publicContext(ctx), id, der)
	if err != nil {
		return err
	}
	ctx.Set(fiber.HeaderContentType, "application/ocsp-response")
	return ctx.Status(fiber.StatusOK).Send(resp)
}

func (c *PkiController) CheckStatus(ctx *fiber.Ctx) error {
	id, err := c.paramID(ctx, "id")
	if err != nil {
		return err
	}
	serial, err := strconv.ParseInt(ctx.Params("serial"), 10, 64)
	if err != nil {
		return c.err.New("无效的序列号", err).ValidWithCtx()
	}
	status, err := c.app.CheckStatus(publicContext(ctx), id, serial)
	if err != nil {
		return err
	}
	return result.OK(ctx, client.ToStatusDTO(status))
}

// ===== 证书管理 =====

func (c *PkiController) IssueCertificate(ctx *fiber.Ctx) error {
	var req dto.IssueCertificateReq
	if err := c.parseBody(ctx, &req); err != nil {
		return err
	}
	cert, err := c.app.IssueCertificate(util.Context(ctx), client.IssueRequest(&req))
	if err != nil {
		return err
	}
	return result.OK(ctx, client.ToCertificateDTO(cert, time.Now()))
}

func (c *PkiController) ListCertificates(ctx *fiber.Ctx) error {
	query := dao.CertificateQuery{
		AuthorityID: int64(ctx.QueryInt("authorityId")),
		Status:      model.CertificateStatus(ctx.Query("status")),
		Purpose:     ctx.Query("purpose"),
		Keyword:     ctx.Query("keyword"),
	}
	page := &mvc.Page{PageNum: ctx.QueryInt("page", 1), Size: ctx.QueryInt("size", 20)}

	list, total, err := c.app.ListCertificates(util.Context(ctx), query, page)
	if err != nil {
		return err
	}
	now := time.Now()
	content := make([]*dto.CertificateDTO, 0, len(list))
	for _, cert := range list {
		content = append(content, client.ToCertificateDTO(cert, now))
	}
	return result.OK(ctx, fiber.Map{
		"total":   total,
		"content": content,
	})
}

func (c *PkiController) GetCertificate(ctx *fiber.Ctx) error {
	id, err := c.paramID(ctx, "id")
	if err != nil {
		return err
	}
	cert, err := c.app.GetCertificate(util.Context(ctx), id)
	if err != nil {
		return err
	}
	return result.OK(ctx, client.ToCertificateDTO(cert, time.Now()))
}

func (c *PkiController) GetBundle(ctx *fiber.Ctx) error {
	id, err := c.paramID(ctx, "id")
	if err != nil {
		return err
	}
	bundle, err := c.app.GetBundle(util.Context(ctx), id)
	return result.Once(ctx, bundle, err)
}

func (c *PkiController) RenewCertificate(ctx *fiber.Ctx) error {
	id, err := c.paramID(ctx, "id")
	if err != nil {
		return err
	}
	cert, err := c.app.RenewCertificate(util.Context(ctx), id)
	if err != nil {
		return err
	}
	return result.OK(ctx, client.ToCertificateDTO(cert, time.Now()))
}

func (c *PkiController) RevokeCertificate(ctx *fiber.Ctx) error {
	id, err := c.paramID(ctx, "id")
	if err != nil {
		return err
	}
	reason, err := c.parseReason(ctx)
	if err != nil {
		return err
	}
	return result.Once(ctx, nil, c.app.RevokeCertificate(util.Context(ctx), id, reason))
}

func (c *PkiController) SetAutoRenew(ctx *fiber.Ctx) error {
	id, err := c.paramID(ctx, "id")
	if err != nil {
		return err
	}
	var req dto.SetAutoRenewReq
	if err := c.parseBody(ctx, &req); err != nil {
		return err
	}
	cert, err := c.app.SetAutoRenew(util.Context(ctx), id, req.AutoRenew, req.RenewBeforeDays)
	if err != nil {
		return err
	}
	return result.OK(ctx, client.ToCertificateDTO(cert, time.Now()))
}

func (c *PkiController) AutoRenewSweep(ctx *fiber.Ctx) error {
	res, err := c.app.AutoRenewSweep(util.Context(ctx))
	return result.Once(ctx, res, err)
}

func (c *PkiController) ExpirySweep(ctx *fiber.Ctx) error {
	expired, err := c.app.ExpirySweep(util.Context(ctx))
	return result.Once(ctx, fiber.Map{"expired": expired}, err)
}

func (c *PkiController) Dashboard(ctx *fiber.Ctx) error {
	dashboard, err := c.app.Dashboard(util.Context(ctx))
	return result.Once(ctx, dashboard, err)
}

// ===== 部署 =====

// Deploy 默认异步执行，返回 running 记录，进度通过 stream 接口订阅
func (c *PkiController) Deploy(ctx *fiber.Ctx) error {
	id, err := c.paramID(ctx, "id")
	if err != nil {
		return err
	}
	var req dto.DeployReq
	if err := c.parseBody(ctx, &req); err != nil {
		return err
	}

	deployReq := client.DeployRequest(id, &req)
	if req.Wait {
		record, err := c.app.DeployAndWait(util.Context(ctx), deployReq)
		if err != nil && record == nil {
			return err
		}
		return result.OK(ctx, record)
	}
	record, err := c.app.StartDeploy(util.Context(ctx), deployReq)
	return result.Once(ctx, record, err)
}

func (c *PkiController) Rotate(ctx *fiber.Ctx) error {
	id, err := c.paramID(ctx, "id")
	if err != nil {
		return err
	}
	var req dto.DeployReq
	if err := c.parseBody(ctx, &req); err != nil {
		return err
	}
	res, err := c.app.RotateCertificate(util.Context(ctx), id, *client.DeployRequest(0, &req))
	if err != nil && res == nil {
		return err
	}
	return result.OK(ctx, res)
}

func (c *PkiController) ListDeployLogs(ctx *fiber.Ctx) error {
	id, err := c.paramID(ctx, "id")
	if err != nil {
		return err
	}
	list, err := c.app.ListDeployLogs(util.Context(ctx), id, ctx.QueryInt("limit", 20))
	return result.Once(ctx, list, err)
}

func (c *PkiController) GetDeployLog(ctx *fiber.Ctx) error {
	record, err := c.app.GetDeployLog(util.Context(ctx), ctx.Params("operationId"))
	return result.Once(ctx, record, err)
}

// StreamDeployLog 以 SSE 推送部署日志，先回放已有日志，部署结束后关闭
func (c *PkiController) StreamDeployLog(ctx *fiber.Ctx) error {
	opID := ctx.Params("operationId")
	reqCtx := util.Context(ctx)
	if _, err := c.app.GetDeployLog(reqCtx, opID); err != nil {
		return err
	}

	ctx.Set(fiber.HeaderContentType, "text/event-stream")
	ctx.Set(fiber.HeaderCacheControl, "no-cache")
	ctx.Set(fiber.HeaderConnection, "keep-alive")
	ctx.Set("X-Accel-Buffering", "no")

	// fiber.Ctx 在写入回调执行时已回收，只能使用提前取出的值
	streamCtx := context.WithoutCancel(reqCtx)
	log := c.log.WithTrace(reqCtx).WithField("operation_id", opID)
	ctx.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		err := c.app.StreamDeployLog(streamCtx, opID, func(msg *service.LiveMessage) error {
			return writeEvent(w, msg)
		})
		if err != nil {
			log.WithErr(err).Debug("部署日志推送中断")
		}
	}))
	return nil
}

func writeEvent(w *bufio.Writer, msg *service.LiveMessage) error {
	payload, err := jsoniter.Marshal(msg)
	if err != nil {
		return err
	}
	event := "line"
	if msg.Terminal() {
		event = "status"
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	// 客户端断开时 Flush 返回错误，推送随之结束
	return w.Flush()
}

func (c *PkiController) DeployTargets(ctx *fiber.Ctx) error {
	return result.OK(ctx, c.app.DeployTargets())
}

func (c *PkiController) ListAuditEvents(ctx *fiber.Ctx) error {
	query := dao.AuditQuery{Limit: ctx.QueryInt("limit", 100)}
	if v := int64(ctx.QueryInt("certificateId")); v > 0 {
		query.CertificateID = &v
	}
	if v := int64(ctx.QueryInt("authorityId")); v > 0 {
		query.AuthorityID = &v
	}
	if raw := ctx.Query("eventType"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return c.err.New("无效的事件类型", err).ValidWithCtx()
		}
		t := model.AuditEventType(v)
		query.EventType = &t
	}
	events, err := c.app.ListAuditEvents(util.Context(ctx), query)
	return result.Once(ctx, events, err)
}
