package service

import (
	errorc "github.com/xsxdot/aio-pki/pkg/core/err"
	"github.com/xsxdot/aio-pki/pkg/core/logger"
	"github.com/xsxdot/aio-pki/pkg/core/util"
)

// KeySealService 私钥落库加密
// 复用 pkg/core/util 的 AES-GCM 加密能力，未配置盐值时明文存储
type KeySealService struct {
	log  *logger.Log
	err  *errorc.ErrorBuilder
	salt string
}

func NewKeySealService(salt string, log *logger.Log) *KeySealService {
	return &KeySealService{
		log:  log.WithEntryName("KeySealService"),
		err:  errorc.NewErrorBuilder("KeySealService"),
		salt: salt,
	}
}

// Seal 加密私钥 PEM
func (s *KeySealService) Seal(keyPem string) (string, error) {
	if keyPem == "" || s.salt == "" {
		return keyPem, nil
	}
	sealed, err := util.EncryptAES(keyPem, s.salt)
	if err != nil {
		return "", s.err.New("加密私钥失败", err).CryptoFailure()
	}
	return sealed, nil
}

// Open 解密私钥 PEM，兼容未加密的历史数据
func (s *KeySealService) Open(stored string) (string, error) {
	if !util.IsEncrypted(stored) {
		return stored, nil
	}
	if s.salt == "" {
		return "", s.err.New("私钥已加密但未配置解密盐值", nil).CryptoFailure()
	}
	keyPem, err := util.DecryptAES(stored, s.salt)
	if err != nil {
		return "", s.err.New("解密私钥失败", err).CryptoFailure()
	}
	return keyPem, nil
}
