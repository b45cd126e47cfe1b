package mediation

// Named tunables consulted through the parameter store. Thresholds are soft:
// a missing row falls back to the default, and brief staleness is tolerated.
const (
	ParamAggUsage             = "AGG_USAGE"
	ParamAggSeqnoCount        = "AGG_SEQNOCOUNT"
	ParamStalenessThresholdMs = "STALENESS_THRESHOLD_MS"
	ParamAggWindowSizeMs      = "AGG_WINDOW_SIZE_MS"
	ParamStalenessRowLimit    = "STALENESS_ROWLIMIT"
	ParamMaxRecordAgeMs       = "MAX_RECORD_AGE_MS"
)

// Defaults applied when a parameter row is unset.
const (
	DefaultAggUsageThreshold    int64 = 1_000_000
	DefaultAggSeqnoThreshold    int64 = 50
	DefaultStalenessThresholdMs int64 = 300_000
	DefaultAggWindowSizeMs      int64 = 2_000
	DefaultStalenessRowLimit    int64 = 1_000
	DefaultMaxRecordAgeMs       int64 = 7 * 24 * 60 * 60 * 1000
)
