package session

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/palemoky/realtime-chat/internal/protocol"
	"github.com/palemoky/realtime-chat/internal/types"
)

// 权限
const (
	PermChatRead    = "chat:read"
	PermChatWrite   = "chat:write"
	PermHistoryRead = "history:read"
	PermAdmin       = "admin"
)

const guestIdentity = "guest"

// StubAuthenticator 占位认证器：任何非空 token 都通过，admin token 额外获得管理权限
type StubAuthenticator struct {
	adminTokens []string
}

// NewStubAuthenticator 创建占位认证器
func NewStubAuthenticator(adminTokens []string) *StubAuthenticator {
	return &StubAuthenticator{adminTokens: slices.Clone(adminTokens)}
}

var _ types.Authenticator = (*StubAuthenticator)(nil)

// ValidateCredentials 校验 auth 消息的 payload
func (a *StubAuthenticator) ValidateCredentials(payload json.RawMessage) types.AuthResult {
	var creds protocol.AuthPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &creds); err != nil {
			return types.AuthResult{Reason: "malformed credentials"}
		}
	}

	token := strings.TrimSpace(creds.Token)
	if token == "" {
		return types.AuthResult{Reason: "missing token"}
	}

	identity := strings.TrimSpace(creds.Name)
	if identity == "" {
		identity = guestIdentity
	}

	perms := []string{PermChatRead, PermChatWrite, PermHistoryRead}
	if slices.Contains(a.adminTokens, token) {
		perms = append(perms, PermAdmin)
	}

	return types.AuthResult{
		Success:     true,
		Identity:    identity,
		Permissions: perms,
	}
}
