// Package resilience keeps the bot responsive while its external
// dependencies fail.
//
// Each dependency is guarded by a CircuitBreaker that tracks consecutive
// failures and short-circuits calls once the service trips, probing again
// after a recovery period. The DegradationManager routes calls through the
// breakers and substitutes registered fallback responses so a broken LLM
// backend or chat API degrades the experience instead of taking the bot
// down. A Retrier with exponential backoff covers transient faults that
// do not warrant tripping a breaker.
package resilience
