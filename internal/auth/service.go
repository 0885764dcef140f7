package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"os"
	"strings"

	"ChainPilot/internal/config"
)

type credential struct {
	digest  [sha256.Size]byte
	subject Subject
}

// Service 校验请求携带的静态访问令牌。令牌只以摘要形式保存在内存中。
type Service struct {
	mode        Mode
	credentials []credential
}

// NewService 根据配置构造认证服务。mode 为空时视为 disabled。
func NewService(cfg config.AuthConfig) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(cfg.Mode)))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{mode: mode}
	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeToken:
	default:
		return nil, fmt.Errorf("不支持的认证模式: %s", cfg.Mode)
	}

	seen := make(map[string]struct{}, len(cfg.Tokens))
	for _, tc := range cfg.Tokens {
		name := strings.TrimSpace(tc.Name)
		if name == "" {
			return nil, fmt.Errorf("访问令牌缺少名称")
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("访问令牌名称重复: %s", name)
		}
		seen[name] = struct{}{}

		secret := strings.TrimSpace(tc.Token)
		if secret == "" && tc.TokenEnv != "" {
			secret = strings.TrimSpace(os.Getenv(tc.TokenEnv))
		}
		if secret == "" {
			return nil, fmt.Errorf("访问令牌 %s 未配置取值", name)
		}
		scopes := make([]string, 0, len(tc.Scopes))
		for _, s := range tc.Scopes {
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
				scopes = append(scopes, s)
			}
		}
		if len(scopes) == 0 {
			scopes = []string{ScopeAll}
		}
		svc.credentials = append(svc.credentials, credential{
			digest:  sha256.Sum256([]byte(secret)),
			subject: Subject{Name: name, Scopes: scopes},
		})
	}
	if len(svc.credentials) == 0 {
		return nil, fmt.Errorf("token 模式至少需要一个访问令牌")
	}
	return svc, nil
}

// Enabled 报告是否需要认证。
func (s *Service) Enabled() bool {
	return s != nil && s.mode != ModeDisabled
}

// AuthenticateRequest 解析 Authorization 头并返回对应的调用方。
func (s *Service) AuthenticateRequest(authorization string) (*Subject, error) {
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, ErrMissingToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return nil, ErrMissingToken
	}
	digest := sha256.Sum256([]byte(token))
	var match *credential
	for i := range s.credentials {
		if subtle.ConstantTimeCompare(digest[:], s.credentials[i].digest[:]) == 1 {
			match = &s.credentials[i]
		}
	}
	if match == nil {
		return nil, ErrInvalidToken
	}
	subject := match.subject
	subject.Scopes = append([]string(nil), match.subject.Scopes...)
	return &subject, nil
}
