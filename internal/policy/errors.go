package policy

import (
	"net/http"

	xerrors "SpendGuard/internal/errors"
	"SpendGuard/internal/lock"
)

// 策略引擎注册的错误码。
const (
	CodeAgentNotFound   xerrors.Code = "AGENT_NOT_FOUND"
	CodePaymentRequired xerrors.Code = "PAYMENT_REQUIRED"
)

// CodeServiceBusy 在代理锁等待超时时返回。
const CodeServiceBusy = lock.CodeServiceBusy

// Reason 说明 402 拒绝的原因。
type Reason string

const (
	ReasonKilled             Reason = "killed"
	ReasonZombie             Reason = "zombie"
	ReasonInsufficientBudget Reason = "insufficient_budget"
)

// MetadataReason 是拒绝原因在错误元数据中的键。
const MetadataReason = "reason"

var rejectionMessages = map[Reason]string{
	ReasonKilled:             "Payment Required: Agent Killed",
	ReasonZombie:             "Payment Required: Zombie Agent Detected",
	ReasonInsufficientBudget: "Payment Required: Insufficient Budget",
}

func init() {
	xerrors.Register(CodeAgentNotFound, xerrors.Attributes{
		Message:    "Agent not found",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusNotFound,
	})
	xerrors.Register(CodePaymentRequired, xerrors.Attributes{
		Message:    "Payment Required",
		Severity:   xerrors.SeverityWarning,
		HTTPStatus: http.StatusPaymentRequired,
	})
}

func errAgentNotFound(agentID string) error {
	return xerrors.New(CodeAgentNotFound, "Agent not found", xerrors.WithMetadata("agent_id", agentID))
}

func errPaymentRequired(agentID string, reason Reason) error {
	opts := []xerrors.Option{
		xerrors.WithMetadata(MetadataReason, string(reason)),
		xerrors.WithMetadata("agent_id", agentID),
	}
	// 僵尸检测意味着代理失控，级别高于普通的余额不足。
	if reason == ReasonZombie {
		opts = append(opts, xerrors.WithSeverity(xerrors.SeverityCritical))
	}
	return xerrors.New(CodePaymentRequired, rejectionMessages[reason], opts...)
}

func errInvalid(message string) error {
	return xerrors.New(xerrors.CodeInvalidArgument, message)
}

// ReasonOf 返回 402 错误携带的拒绝原因，其他错误返回空串。
func ReasonOf(err error) Reason {
	if xerrors.CodeOf(err) != CodePaymentRequired {
		return ""
	}
	return Reason(xerrors.MetadataValue(err, MetadataReason))
}
