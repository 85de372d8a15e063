package service

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"strings"
	"time"

	errorc "github.com/xsxdot/aio-pki/pkg/core/err"
	"github.com/xsxdot/aio-pki/pkg/core/logger"
	"github.com/xsxdot/aio-pki/system/pki/internal/model"

	"golang.org/x/crypto/ocsp"
)

// KeyPair 生成的密钥对，PrivateKeyPem 为 PKCS#8 编码
type KeyPair struct {
	Signer        crypto.Signer
	Algorithm     model.KeyAlgorithm
	Size          int
	PrivateKeyPem string
}

// Subject 证书主题
type Subject struct {
	CommonName         string `json:"commonName"`
	Organization       string `json:"organization"`
	OrganizationalUnit string `json:"organizationalUnit"`
	Country            string `json:"country"`
	State              string `json:"state"`
	Locality           string `json:"locality"`
}

func (s Subject) Name() pkix.Name {
	name := pkix.Name{CommonName: s.CommonName}
	if s.Organization != "" {
		name.Organization = []string{s.Organization}
	}
	if s.OrganizationalUnit != "" {
		name.OrganizationalUnit = []string{s.OrganizationalUnit}
	}
	if s.Country != "" {
		name.Country = []string{s.Country}
	}
	if s.State != "" {
		name.Province = []string{s.State}
	}
	if s.Locality != "" {
		name.Locality = []string{s.Locality}
	}
	return name
}

// Issuer 签发者证书和私钥
type Issuer struct {
	AuthorityID int64
	Cert        *x509.Certificate
	Signer      crypto.Signer
}

// SignRequest 签发请求，IsCA 为 true 时签发中间 CA
type SignRequest struct {
	Subject   Subject
	PublicKey crypto.PublicKey
	Serial    int64
	NotBefore time.Time
	NotAfter  time.Time
	IsCA      bool
	PathLen   int // 仅 CA，-1 表示不限
	CertType  model.CertType
	SANs      []string
}

// SignedCert 签发结果
type SignedCert struct {
	Cert        *x509.Certificate
	Pem         string
	Fingerprint string
}

// RevokedEntry CRL 条目
type RevokedEntry struct {
	Serial    *big.Int
	RevokedAt time.Time
	Reason    model.RevocationReason
}

// SignedCrl 签名后的 CRL
type SignedCrl struct {
	Der         []byte
	Pem         string
	Fingerprint string
}

// CryptoBackend 密钥生成与签名，除时钟外不持有状态
type CryptoBackend struct {
	baseURL string
	now     func() time.Time
	log     *logger.Log
	err     *errorc.ErrorBuilder
}

func NewCryptoBackend(baseURL string, now func() time.Time, log *logger.Log) *CryptoBackend {
	if now == nil {
		now = time.Now
	}
	return &CryptoBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     now,
		log:     log.WithEntryName("CryptoBackend"),
		err:     errorc.NewErrorBuilder("CryptoBackend"),
	}
}

// GenerateKey RSA 支持 2048/3072/4096，ECDSA 支持 256/384/521
func (b *CryptoBackend) GenerateKey(algorithm model.KeyAlgorithm, size int) (*KeyPair, error) {
	var (
		signer crypto.Signer
		err    error
	)

	switch algorithm {
	case model.KeyAlgorithmRSA:
		switch size {
		case 2048, 3072, 4096:
			signer, err = rsa.GenerateKey(rand.Reader, size)
		default:
			return nil, b.err.New(fmt.Sprintf("不支持的 RSA 密钥长度: %d", size), nil).CryptoFailure()
		}
	case model.KeyAlgorithmECDSA:
		var curve elliptic.Curve
		switch size {
		case 256:
			curve = elliptic.P256()
		case 384:
			curve = elliptic.P384()
		case 521:
			curve = elliptic.P521()
		default:
			return nil, b.err.New(fmt.Sprintf("不支持的 ECDSA 曲线长度: %d", size), nil).CryptoFailure()
		}
		signer, err = ecdsa.GenerateKey(curve, rand.Reader)
	default:
		return nil, b.err.New("不支持的密钥算法: "+string(algorithm), nil).CryptoFailure()
	}
	if err != nil {
		return nil, b.err.New("生成密钥失败", err).CryptoFailure()
	}

	der, err := x509.MarshalPKCS8PrivateKey(signer)
	if err != nil {
		return nil, b.err.New("编码私钥失败", err).CryptoFailure()
	}

	return &KeyPair{
		Signer:        signer,
		Algorithm:     algorithm,
		Size:          size,
		PrivateKeyPem: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
	}, nil
}

// SelfSignRoot 自签根证书，序列号随机生成
func (b *CryptoBackend) SelfSignRoot(subject Subject, key *KeyPair, notBefore, notAfter time.Time, pathLen int) (*SignedCert, error) {
	if err := b.validateSubject(subject); err != nil {
		return nil, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 127))
	if err != nil {
		return nil, b.err.New("生成根证书序列号失败", err).CryptoFailure()
	}
	ski, err := subjectKeyID(key.Signer.Public())
	if err != nil {
		return nil, b.err.New("计算密钥标识失败", err).CryptoFailure()
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               subject.Name(),
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		SubjectKeyId:          ski,
	}
	applyPathLen(template, pathLen)

	return b.create(template, template, key.Signer.Public(), key.Signer)
}

// SignCertificate 用签发者私钥签发叶子证书或中间 CA
func (b *CryptoBackend) SignCertificate(issuer *Issuer, req *SignRequest) (*SignedCert, error) {
	if err := b.validateSubject(req.Subject); err != nil {
		return nil, err
	}
	if issuer == nil || issuer.Cert == nil || issuer.Signer == nil {
		return nil, b.err.New("签发者证书或私钥缺失", nil).CryptoFailure()
	}
	if b.now().After(issuer.Cert.NotAfter) {
		return nil, b.err.New("签发者证书已过期", nil).CryptoFailure()
	}
	if req.Serial <= 0 {
		return nil, b.err.New("序列号必须为正数", nil).CryptoFailure()
	}

	ski, err := subjectKeyID(req.PublicKey)
	if err != nil {
		return nil, b.err.New("计算密钥标识失败", err).CryptoFailure()
	}

	template := &x509.Certificate{
		SerialNumber:   big.NewInt(req.Serial),
		Subject:        req.Subject.Name(),
		NotBefore:      req.NotBefore,
		NotAfter:       req.NotAfter,
		SubjectKeyId:   ski,
		AuthorityKeyId: issuer.Cert.SubjectKeyId,
	}

	if req.IsCA {
		template.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature
		template.BasicConstraintsValid = true
		template.IsCA = true
		applyPathLen(template, req.PathLen)
	} else {
		template.BasicConstraintsValid = true
		template.KeyUsage, template.ExtKeyUsage = usageFor(req.CertType)
		dnsNames, ips := ClassifySANs(req.SANs)
		if req.CertType != model.CertTypeClient && !containsFold(dnsNames, req.Subject.CommonName) && net.ParseIP(req.Subject.CommonName) == nil {
			dnsNames = append([]string{req.Subject.CommonName}, dnsNames...)
		}
		template.DNSNames = dnsNames
		template.IPAddresses = ips
	}

	if b.baseURL != "" && issuer.AuthorityID > 0 {
		template.CRLDistributionPoints = []string{fmt.Sprintf("%s/api/pki/crl/%d", b.baseURL, issuer.AuthorityID)}
		template.OCSPServer = []string{fmt.Sprintf("%s/api/pki/ocsp/%d", b.baseURL, issuer.AuthorityID)}
	}

	return b.create(template, issuer.Cert, req.PublicKey, issuer.Signer)
}

func (b *CryptoBackend) create(template, parent *x509.Certificate, pub crypto.PublicKey, signer crypto.Signer) (*SignedCert, error) {
	der, err := x509.CreateCertificate(rand.Reader, template, parent, pub, signer)
	if err != nil {
		return nil, b.err.New("签发证书失败", err).CryptoFailure()
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, b.err.New("解析签发结果失败", err).CryptoFailure()
	}
	return &SignedCert{
		Cert:        cert,
		Pem:         string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})),
		Fingerprint: Fingerprint(der),
	}, nil
}

// SignCRL 生成完整的吊销列表
func (b *CryptoBackend) SignCRL(issuer *Issuer, entries []RevokedEntry, number int64, thisUpdate, nextUpdate time.Time) (*SignedCrl, error) {
	if issuer == nil || issuer.Cert == nil || issuer.Signer == nil {
		return nil, b.err.New("签发者证书或私钥缺失", nil).CryptoFailure()
	}
	if !nextUpdate.After(thisUpdate) {
		return nil, b.err.New("CRL 下次更新时间必须晚于本次更新时间", nil).CryptoFailure()
	}

	revoked := make([]x509.RevocationListEntry, 0, len(entries))
	for _, e := range entries {
		revoked = append(revoked, x509.RevocationListEntry{
			SerialNumber:   e.Serial,
			RevocationTime: e.RevokedAt.UTC(),
			ReasonCode:     int(e.Reason),
		})
	}

	template := &x509.RevocationList{
		Number:                    big.NewInt(number),
		ThisUpdate:                thisUpdate.UTC(),
		NextUpdate:                nextUpdate.UTC(),
		RevokedCertificateEntries: revoked,
	}

	der, err := x509.CreateRevocationList(rand.Reader, template, issuer.Cert, issuer.Signer)
	if err != nil {
		return nil, b.err.New("签名 CRL 失败", err).CryptoFailure()
	}
	return &SignedCrl{
		Der:         der,
		Pem:         string(pem.EncodeToMemory(&pem.Block{Type: "X509 CRL", Bytes: der})),
		Fingerprint: Fingerprint(der),
	}, nil
}

// OCSPStatus OCSP 应答内容
type OCSPStatus struct {
	Serial    *big.Int
	Status    int // ocsp.Good / ocsp.Revoked / ocsp.Unknown
	RevokedAt time.Time
	Reason    model.RevocationReason
}

// SignOCSPResponse 由 CA 直接签名 OCSP 应答
func (b *CryptoBackend) SignOCSPResponse(issuer *Issuer, status OCSPStatus, thisUpdate, nextUpdate time.Time) ([]byte, error) {
	template := ocsp.Response{
		Status:       status.Status,
		SerialNumber: status.Serial,
		ThisUpdate:   thisUpdate.UTC(),
		NextUpdate:   nextUpdate.UTC(),
	}
	if status.Status == ocsp.Revoked {
		template.RevokedAt = status.RevokedAt.UTC()
		template.RevocationReason = int(status.Reason)
	}

	der, err := ocsp.CreateResponse(issuer.Cert, issuer.Cert, template, issuer.Signer)
	if err != nil {
		return nil, b.err.New("签名 OCSP 应答失败", err).CryptoFailure()
	}
	return der, nil
}

// LoadIssuer 从 PEM 还原签发者
func (b *CryptoBackend) LoadIssuer(authorityID int64, certPem, keyPem string) (*Issuer, error) {
	cert, err := ParseCertificatePem(certPem)
	if err != nil {
		return nil, b.err.New("解析 CA 证书失败", err).CryptoFailure()
	}
	signer, err := ParsePrivateKeyPem(keyPem)
	if err != nil {
		return nil, b.err.New("解析 CA 私钥失败", err).CryptoFailure()
	}
	return &Issuer{AuthorityID: authorityID, Cert: cert, Signer: signer}, nil
}

func (b *CryptoBackend) validateSubject(subject Subject) error {
	if strings.TrimSpace(subject.CommonName) == "" {
		return b.err.New("通用名称不能为空", nil).CryptoFailure()
	}
	if subject.Country != "" && len(subject.Country) != 2 {
		return b.err.New("国家代码必须为两位字母", nil).CryptoFailure()
	}
	return nil
}

// Fingerprint DER 的 SHA-256，小写十六进制
func Fingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}

// SerialHex 16 位大写十六进制
func SerialHex(serial int64) string {
	return fmt.Sprintf("%016X", serial)
}

func ParseCertificatePem(certPem string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(certPem))
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("无效的证书 PEM")
	}
	return x509.ParseCertificate(block.Bytes)
}

func ParsePrivateKeyPem(keyPem string) (crypto.Signer, error) {
	block, _ := pem.Decode([]byte(keyPem))
	if block == nil {
		return nil, fmt.Errorf("无效的私钥 PEM")
	}

	var (
		key interface{}
		err error
	)
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	default:
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	}
	if err != nil {
		return nil, err
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("不支持的私钥类型")
	}
	return signer, nil
}

// ClassifySANs 区分 IP 与 DNS 名称
func ClassifySANs(sans []string) ([]string, []net.IP) {
	var (
		dnsNames []string
		ips      []net.IP
	)
	for _, san := range sans {
		san = strings.TrimSpace(san)
		if san == "" {
			continue
		}
		if ip := net.ParseIP(san); ip != nil {
			ips = append(ips, ip)
			continue
		}
		dnsNames = append(dnsNames, san)
	}
	return dnsNames, ips
}

func usageFor(certType model.CertType) (x509.KeyUsage, []x509.ExtKeyUsage) {
	switch certType {
	case model.CertTypeClient:
		return x509.KeyUsageDigitalSignature, []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
	case model.CertTypeBoth:
		return x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
			[]x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth}
	default:
		return x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment, []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
	}
}

func applyPathLen(template *x509.Certificate, pathLen int) {
	if pathLen < 0 {
		template.MaxPathLen = -1
		return
	}
	template.MaxPathLen = pathLen
	template.MaxPathLenZero = pathLen == 0
}

// subjectKeyID RFC 5280 方法一：公钥 BIT STRING 的 SHA-1
func subjectKeyID(pub crypto.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	var info struct {
		Algorithm        pkix.AlgorithmIdentifier
		SubjectPublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(der, &info); err != nil {
		return nil, err
	}
	sum := sha1.Sum(info.SubjectPublicKey.Bytes)
	return sum[:], nil
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
