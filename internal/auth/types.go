package auth

import (
	"strings"

	xerrors "ChainPilot/internal/errors"
)

// Mode 选择 API 的认证方式。
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeToken    Mode = "token"
)

// 访问范围。未列出范围的路由只要求通过认证。
const (
	ScopeChat = "chat"
	ScopeJobs = "jobs"
	ScopeAll  = "*"
)

const (
	CodeUnauthenticated  xerrors.Code = "UNAUTHENTICATED"
	CodePermissionDenied xerrors.Code = "PERMISSION_DENIED"
)

func init() {
	xerrors.Register(CodeUnauthenticated, xerrors.Attributes{
		Message:  "缺少或无效的访问令牌",
		Severity: xerrors.SeverityWarning,
		Category: xerrors.CategoryValidation,
	})
	xerrors.Register(CodePermissionDenied, xerrors.Attributes{
		Message:  "访问令牌无权执行该操作",
		Severity: xerrors.SeverityWarning,
		Category: xerrors.CategoryValidation,
	})
}

var (
	ErrMissingToken     = xerrors.New(CodeUnauthenticated, "缺少 Bearer 令牌")
	ErrInvalidToken     = xerrors.New(CodeUnauthenticated, "访问令牌无效")
	ErrPermissionDenied = xerrors.New(CodePermissionDenied, "访问令牌无权执行该操作")
)

// Subject 是通过认证的调用方，Name 对应配置中的令牌名称。
type Subject struct {
	Name   string
	Scopes []string
}

// HasScope 判断调用方是否拥有指定范围。
func (s *Subject) HasScope(scope string) bool {
	if s == nil {
		return false
	}
	scope = strings.ToLower(strings.TrimSpace(scope))
	for _, granted := range s.Scopes {
		if granted == ScopeAll || granted == scope {
			return true
		}
	}
	return false
}

// Authorize 要求调用方拥有全部 scopes。
func (s *Subject) Authorize(scopes ...string) error {
	if s == nil {
		return ErrInvalidToken
	}
	for _, scope := range scopes {
		if scope != "" && !s.HasScope(scope) {
			return xerrors.New(CodePermissionDenied, "缺少访问范围 "+scope)
		}
	}
	return nil
}
