package ingest

import (
	"fmt"
	"time"
)

// MaxS3Keys is the largest page of a bucket listing
const MaxS3Keys = 1000

// ValidateConfig performs additional validation beyond required field checks
func ValidateConfig() error {
	logLevel := ConfigSpec.GetString("log-level")
	validLevels := map[string]bool{"error": true, "warn": true, "info": true, "debug": true}
	if !validLevels[logLevel] {
		return fmt.Errorf("invalid log-level: %s (must be error|warn|info|debug)", logLevel)
	}

	backend := ConfigSpec.GetString("store.backend")
	switch backend {
	case "clickhouse", "postgres", "memory":
	default:
		return fmt.Errorf("invalid store.backend: %s (must be clickhouse|postgres|memory)", backend)
	}

	sourceType := ConfigSpec.GetString("source.type")
	switch sourceType {
	case "dir":
		if ConfigSpec.GetString("source.dir") == "" {
			return fmt.Errorf("source.dir is required with the dir source")
		}
	case "s3":
		if ConfigSpec.GetString("s3.bucket") == "" {
			return fmt.Errorf("s3.bucket is required with the s3 source")
		}
	default:
		return fmt.Errorf("invalid source.type: %s (must be dir|s3)", sourceType)
	}

	maxKeys := ConfigSpec.GetInt("s3.max-keys")
	if maxKeys <= 0 || maxKeys > MaxS3Keys {
		return fmt.Errorf("s3.max-keys must be between 1 and %d, got %d", MaxS3Keys, maxKeys)
	}

	batchSize := ConfigSpec.GetInt("ingest.batch-size")
	if batchSize <= 0 {
		return fmt.Errorf("ingest.batch-size must be positive, got %d", batchSize)
	}

	if batchSize > MaxBatchSize {
		return fmt.Errorf("ingest.batch-size (%d) exceeds maximum allowed (%d)", batchSize, MaxBatchSize)
	}

	numWorkers := ConfigSpec.GetInt("ingest.num-workers")
	if numWorkers <= 0 {
		return fmt.Errorf("ingest.num-workers must be positive, got %d", numWorkers)
	}

	if _, err := ParseDedupMode(ConfigSpec.GetString("ingest.dedup-mode")); err != nil {
		return fmt.Errorf("invalid ingest.dedup-mode: %w", err)
	}

	switch policy := FailurePolicy(ConfigSpec.GetString("ingest.failure-policy")); policy {
	case FailureAbort, FailureRetryOnce:
	default:
		return fmt.Errorf("invalid ingest.failure-policy: %s (must be abort|retry-once)", policy)
	}

	switch policy := MalformedLinePolicy(ConfigSpec.GetString("ingest.malformed-line-policy")); policy {
	case MalformedSkip, MalformedFailFile:
	default:
		return fmt.Errorf("invalid ingest.malformed-line-policy: %s (must be skip|fail-file)", policy)
	}

	if interval := ConfigSpec.GetInt("ingest.run-interval-seconds"); interval < 0 {
		return fmt.Errorf("ingest.run-interval-seconds must not be negative, got %d", interval)
	}

	jitter := ConfigSpec.GetFloat64("ingest.run-interval-jitter-factor")
	if jitter < 0 || jitter > 1 {
		return fmt.Errorf("ingest.run-interval-jitter-factor must be between 0 and 1, got %g", jitter)
	}

	if timeout := ConfigSpec.GetInt("ingest.final-flush-timeout-seconds"); timeout <= 0 {
		return fmt.Errorf("ingest.final-flush-timeout-seconds must be positive, got %d", timeout)
	}

	if _, err := time.Parse(time.RFC3339, ConfigSpec.GetString("analytics.start-time")); err != nil {
		return fmt.Errorf("invalid analytics.start-time: %w", err)
	}

	if pageSize := ConfigSpec.GetInt("analytics.page-size"); pageSize <= 0 {
		return fmt.Errorf("analytics.page-size must be positive, got %d", pageSize)
	}

	if hours := ConfigSpec.GetInt("analytics.interval-hours"); hours <= 0 {
		return fmt.Errorf("analytics.interval-hours must be positive, got %d", hours)
	}

	if ConfigSpec.GetBool("enrichment.enabled") {
		if ConfigSpec.GetString("enrichment.base-url") == "" {
			return fmt.Errorf("enrichment.base-url is required when enrichment is enabled")
		}
		if rps := ConfigSpec.GetFloat64("enrichment.requests-per-second"); rps <= 0 {
			return fmt.Errorf("enrichment.requests-per-second must be positive, got %v", rps)
		}
	}

	maxRetries := ConfigSpec.GetInt("retry.max-retries")
	if maxRetries < 0 {
		return fmt.Errorf("retry.max-retries must not be negative, got %d", maxRetries)
	}

	return nil
}
