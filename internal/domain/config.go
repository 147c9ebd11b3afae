package domain

import "time"

// Config bundles the tunables spec §9's open questions leave unpinned
// ("keep them configurable"): retention windows, ratchet cadence, and the
// optimize_* policy crossover points. Callers needing defaults embed
// DefaultConfig; the CLI harness and tests override individual fields.
type Config struct {
	// SPK_lifetime_days / SPK_limbo_days (spec §3, §4.5).
	SPkLifetime time.Duration
	SPkLimbo    time.Duration

	// OPk_limbo_days, OPk_server_low_limit, OPk_batch_size (spec §4.5).
	OPkLimbo         time.Duration
	OPkServerLowLimit int
	OPkBatchSize      int
	InitialOPkBatchSize int

	// DR_session_limbo_days (spec §3).
	SessionLimbo time.Duration

	// max_sending_chain forces a fresh X3DH after this many consecutive
	// sends without a reply (spec §4.4).
	MaxSendingChain uint32

	// max_messages_after_skip / MK_limbo_days bound skipped-key retention
	// (spec §4.4, §3).
	MaxMessagesAfterSkip int
	MKLimbo              time.Duration

	// KEM_ratchet_chain_size / max_KEM_ratchet_period bound PQ
	// asymmetric-ratchet cadence (spec §4.4).
	KEMRatchetChainSize int
	MaxKEMRatchetPeriod time.Duration

	// CipherMessageOverhead is the fixed per-call overhead (bytes) of the
	// cipher_message framing (outer AEAD tag + per-recipient wrapped-key
	// entries), used by optimize_upload_size's crossover (spec §4.7).
	CipherMessageOverhead int

	// GlobalBandwidthCrossoverFactor scales the optimize_upload_size
	// comparison for optimize_global_bandwidth, which additionally weighs
	// the network-wide cost of re-uploading the same plaintext once per
	// recipient versus once total (spec §4.7; exact source constant is not
	// exposed, per spec §9 open questions — kept configurable).
	GlobalBandwidthCrossoverFactor float64
}

// DefaultConfig matches the boundary-behaviour scenarios of spec §8.
var DefaultConfig = Config{
	SPkLifetime:                    7 * 24 * time.Hour,
	SPkLimbo:                       7 * 24 * time.Hour,
	OPkLimbo:                       7 * 24 * time.Hour,
	OPkServerLowLimit:              10,
	OPkBatchSize:                   25,
	InitialOPkBatchSize:            25,
	SessionLimbo:                   30 * 24 * time.Hour,
	MaxSendingChain:                2000,
	MaxMessagesAfterSkip:           1000,
	MKLimbo:                        30 * 24 * time.Hour,
	KEMRatchetChainSize:            16,
	MaxKEMRatchetPeriod:            24 * time.Hour,
	CipherMessageOverhead:          64,
	GlobalBandwidthCrossoverFactor: 0.5,
}
