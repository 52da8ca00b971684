package config

import "time"

// Server defaults
const (
	DefaultPort        = "8080"
	DefaultReportsPath = "./data/reports"
	DefaultStorage     = StorageFilesystem
	DefaultMaxMemoryMB = 48
	DefaultAPIPort     = 443
	Version            = "1.0.0"
)

// Storage backends
const (
	StorageFilesystem = "filesystem"
	StorageBadger     = "badger"
	StorageMemory     = "memory"
)

// Extraction policy. These are fixed for every installation.
const (
	MinRequiredReports    = 1024 + 60
	MaxReportsUsedAtOnce  = 1200
	MaxAcceptedReportGap  = 5 * time.Minute
	MaxMeasuresPerPacket  = 60
	RegistryShards        = 32
	StorageUsageCacheTime = 10 * time.Second
)

// Kafka defaults
const (
	DefaultKafkaBrokers     = "localhost:9092"
	DefaultKafkaInputTopic  = "tix-reports"
	DefaultKafkaOutputTopic = "tix-batches"
	DefaultKafkaGroup       = "tix-condenser"
	KafkaWriteTimeout       = 10 * time.Second
	KafkaMaxBatchBytes      = 16 << 20
)

// Submission retry
const (
	SubmitRetryAttempts = 5
	SubmitRetryBackoff  = 500 * time.Millisecond
)

// TIX API client
const (
	APITimeout = 10 * time.Second
)

// Background tasks
const (
	BadgerGCInterval     = 10 * time.Minute
	BadgerGCDiscardRatio = 0.5
	ReconcileTimeout     = 5 * time.Minute
	IngestTimeout        = 30 * time.Second
	MaxReportBodyBytes   = 1 << 20
)

// Batch event stream
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSSubscriberQueue = 64 // events buffered per subscriber before it is dropped
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)
