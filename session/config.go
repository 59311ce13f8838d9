package session

import "time"

// PinConfig is the closed set of pin-tuning options from spec.md §4.2.
type PinConfig struct {
	ReturnGlobalExistenceFast            bool
	UseLocalLocationsOnlyOnUnverifiedPin bool
	PinMinUnverifiedCount                int
	AsyncCopyOnPinThreshold              int
	ProactiveCopyOnPin                   bool
	RespectSkipRegisterHint              bool
	// MaxIOOperations bounds remote-pin parallelism (spec.md §4.2 step
	// 5). Defaults to 1 if <= 0. The bound is held by one worker pool per
	// session, so concurrent PinBulk calls share it; it is not a separate
	// bound for each call.
	MaxIOOperations int64
}

// Config is the closed enumeration of tuning knobs spec.md §6 lists.
type Config struct {
	MaxConcurrentPutAndPlaceFileOperations int64

	Pin PinConfig

	ProactiveCopyMode                  ProactiveCopyMode
	ProactiveCopyOnPut                 bool
	ProactiveCopyLocationsThreshold    int
	ProactiveCopyMaxRetries            int
	ProactiveCopyUsePreferredLocations bool
	ProactiveCopyGetBulkBatchSize      int
	ProactiveCopyGetBulkInterval       time.Duration
	ProactiveCopyInRingCacheTTL        time.Duration
	PushProactiveCopies                bool

	RegisterEagerlyOnPut     bool
	RespectSkipRegisterHint  bool
	InlineOperationsForTests bool

	GRPCCopyCompressionSizeThreshold int64
	GRPCCopyCompressionAlgorithm     string

	// TrustedPutSizeThreshold is spec.md §4.3's "copy-and-put detail"
	// size threshold: a copy landed from a candidate machine is
	// committed via a trusted put (the CAS accepts the hash the
	// directory already advertised, skipping a re-hash) once its size
	// reaches this threshold and the local CAS reports
	// Capabilities().TrustedPut; smaller copies are always committed
	// via an untrusted put, letting the CAS re-hash and catch a
	// mismatch cheaply.
	TrustedPutSizeThreshold int64

	// BuildID, if set, is this session's build identifier; its presence
	// enables the build-ring tracker (spec.md §4.6).
	BuildID []byte
}

// DefaultConfig returns a Config with the defaults spec.md calls out
// explicitly (pin_configuration.max_io_operations defaults to 1) and
// conservative values for the rest.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentPutAndPlaceFileOperations: 4,
		Pin: PinConfig{
			PinMinUnverifiedCount: 1,
			MaxIOOperations:       1,
		},
		ProactiveCopyMode:                ProactiveCopyDisabled,
		ProactiveCopyLocationsThreshold:  2,
		ProactiveCopyMaxRetries:          2,
		ProactiveCopyGetBulkBatchSize:    32,
		ProactiveCopyGetBulkInterval:     10 * time.Millisecond,
		ProactiveCopyInRingCacheTTL:      time.Minute,
		GRPCCopyCompressionSizeThreshold: 64 * 1024,
		GRPCCopyCompressionAlgorithm:     "snappy",
		TrustedPutSizeThreshold:          256 * 1024,
	}
}
