package ledger

import (
	"math"
	"strconv"
	"strings"
)

const (
	// BreachesKey 记录被拒绝的心跳总数（熔断开关或余额不足）。
	BreachesKey = "stats:breaches"
	// ZombiesKey 记录因僵尸检测而被关停的次数。
	ZombiesKey = "stats:zombies"

	killedTrue  = "true"
	killedFalse = "false"
)

// BalanceKey 返回代理剩余余额的键。
func BalanceKey(agentID string) string { return "agent:" + agentID + ":balance" }

// SpentKey 返回代理累计花费的键。
func SpentKey(agentID string) string { return "agent:" + agentID + ":spent" }

// KilledKey 返回代理熔断开关的键。
func KilledKey(agentID string) string { return "agent:" + agentID + ":killed" }

// LockKey 返回分布式锁使用的键。
func LockKey(resource string) string { return "lock:" + resource }

// FormatKilled 将布尔值编码为账本中的 "true"/"false"。
func FormatKilled(killed bool) string {
	if killed {
		return killedTrue
	}
	return killedFalse
}

// ParseKilled 只把字面量 "true" 视为已关停。
func ParseKilled(raw string) bool {
	return strings.TrimSpace(raw) == killedTrue
}

// amountScale 是金额量化的精度，所有写入账本的金额都对齐到 1e-9。
const amountScale = 1e9

// Quantize 将金额对齐到固定精度，消除重复浮点减法带来的漂移。
func Quantize(amount float64) float64 {
	q := math.Round(amount*amountScale) / amountScale
	if q == 0 {
		return 0
	}
	return q
}

// FormatAmount 以最短可往返的十进制形式编码金额。
func FormatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}

// ParseAmount 解析账本中的金额，空值视为 0。
func ParseAmount(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseFloat(raw, 64)
}
