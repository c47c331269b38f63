package domain

// Audit event type constants. The event log is append-only and consumed by
// external indexers, never read back by the engine itself.
const (
	EventFundsReceived         = "funds_received"
	EventProtocolShareExecuted = "protocol_share_executed"
	EventDLPShareExecuted      = "dlp_share_executed"
	EventSwapExecuted          = "swap_executed"
	EventLiquidityAdded        = "liquidity_added"
	EventContributionTracked   = "contribution_tracked"
	EventRewardDistributed     = "reward_distributed"
	EventConfigUpdated         = "config_updated"
)

// AuditEvent is one append-only audit log record.
// Amounts are decimal strings so 256-bit values survive every backend.
type AuditEvent struct {
	EventType       string
	Timestamp       int64 // Unix timestamp in milliseconds
	EntityID        int64 // 0 for protocol-scope events
	Epoch           int64 // 0 when not epoch-bound
	Asset           string
	Amount          string // primary amount
	AmountSecondary string // counterpart amount (e.g. skim, entity share)
	Detail          string // free-form context
}
