// Package policy 实现权威的支出策略引擎：在每个代理的分布式锁内完成
// 熔断开关、僵尸检测与预算扣减，并把裁决写入流水与告警。
package policy
