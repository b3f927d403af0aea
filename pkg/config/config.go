package config

import "time"

// Server defaults
const (
	DefaultPort         = "8080"
	DefaultReadTimeout  = 15 * time.Second
	DefaultWriteTimeout = 15 * time.Second
	DefaultMaxMemoryMB  = 48
	ShutdownTimeout     = 10 * time.Second
)

// Hot state defaults
const (
	HotStateTTL        = 1 * time.Hour
	HotStateHistoryCap = 500
)

// Ingest defaults and limits
const (
	IngestBatchSize       = 50
	IngestQueueSize       = 1024
	IngestDispatchWorkers = 2
	IngestMaxBodyBytes    = 4 << 20
	IngestDefaultHistory  = 100
	IngestMaxHistory      = HotStateHistoryCap
)

// Geofence engine intervals
const (
	WatchdogInterval     = 5 * time.Second
	GeofenceCacheRefresh = 30 * time.Second
	DefaultAlarmTimeout  = 30 * time.Second
)

// Compaction and retention
const (
	CompactionInterval     = 5 * time.Second
	BadgerGCInterval       = 10 * time.Minute
	RetentionDays          = 30
	DiskSpaceThreshold     = 20.0
	RetentionRunAt         = "02:00"
	RetentionMaxIteration  = 1000
	TrajectoryPageSize     = 100
	TrajectoryMaxPageSize  = 5000
	TrajectoryQueryTimeout = 30 * time.Second
)

// Trajectory export and import
const (
	ExportDefaultWindow = 24 * time.Hour
	ExportMaxWindow     = 31 * 24 * time.Hour
	ImportBatchSize     = 5000
	ImportMaxBodyBytes  = 64 << 20
)

// Circuit breaker defaults for catalog lookups
const (
	BreakerMaxRequests      = 3
	BreakerInterval         = 60 * time.Second
	BreakerTimeout          = 30 * time.Second
	BreakerFailureThreshold = 5
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 64
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)
