package ingest_test

import (
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/pflag"

	"github.com/scality/log-analytics/pkg/ingest"
)

var _ = Describe("Configuration", Ordered, func() {
	envVars := []string{
		"LOG_ANALYTICS_LOG_LEVEL",
		"LOG_ANALYTICS_SOURCE_TYPE",
		"LOG_ANALYTICS_S3_BUCKET",
		"LOG_ANALYTICS_INGEST_BATCH_SIZE",
		"LOG_ANALYTICS_INGEST_DEDUP_MODE",
		"LOG_ANALYTICS_ANALYTICS_EXCLUDED_REQUESTERS",
		"LOG_ANALYTICS_ENRICHMENT_ENABLED",
		"LOG_ANALYTICS_ENRICHMENT_REQUESTS_PER_SECOND",
	}

	AfterEach(func() {
		ingest.ConfigSpec.Reset()
		pflag.CommandLine = pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
		for _, name := range envVars {
			_ = os.Unsetenv(name)
		}
	})

	load := func() {
		Expect(ingest.ConfigSpec.LoadConfiguration("", "", nil)).To(Succeed())
	}

	Describe("ConfigSpec", func() {
		It("should have defaults", func() {
			load()

			Expect(ingest.ConfigSpec.GetString("log-level")).To(Equal("info"))
			Expect(ingest.ConfigSpec.GetString("source.dir")).To(Equal("s3_logs"))
			Expect(ingest.ConfigSpec.GetInt("ingest.batch-size")).To(Equal(ingest.DefaultBatchSize))
			Expect(ingest.ConfigSpec.GetString("ingest.dedup-mode")).To(Equal("early-exit"))
			Expect(ingest.ConfigSpec.GetStringSlice("analytics.excluded-requesters")).To(BeEmpty())
		})

		It("should load values from environment variables", func() {
			Expect(os.Setenv("LOG_ANALYTICS_INGEST_BATCH_SIZE", "250")).To(Succeed())
			Expect(os.Setenv("LOG_ANALYTICS_ANALYTICS_EXCLUDED_REQUESTERS", "10.0.0.1, crawler")).To(Succeed())
			load()

			Expect(ingest.ConfigSpec.GetInt("ingest.batch-size")).To(Equal(250))
			Expect(ingest.ConfigSpec.GetStringSlice("analytics.excluded-requesters")).
				To(Equal([]string{"10.0.0.1", "crawler"}))
		})

		It("should load a list from file", func() {
			tmpFile, err := os.CreateTemp("", "config-*.yaml")
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = os.Remove(tmpFile.Name()) }()

			_, err = tmpFile.WriteString("analytics:\n  excluded-requesters:\n    - 10.0.0.1\n    - crawler\n")
			Expect(err).NotTo(HaveOccurred())
			Expect(tmpFile.Close()).To(Succeed())

			Expect(ingest.ConfigSpec.LoadConfiguration(tmpFile.Name(), "", nil)).To(Succeed())

			Expect(ingest.ConfigSpec.GetStringSlice("analytics.excluded-requesters")).
				To(Equal([]string{"10.0.0.1", "crawler"}))
		})

		It("should override environment with flag", func() {
			Expect(os.Setenv("LOG_ANALYTICS_INGEST_DEDUP_MODE", "per-line")).To(Succeed())

			ingest.ConfigSpec.AddFlag(pflag.CommandLine, "dedup-mode", "ingest.dedup-mode")
			Expect(pflag.CommandLine.Set("dedup-mode", "early-exit")).To(Succeed())
			load()

			Expect(ingest.ConfigSpec.GetString("ingest.dedup-mode")).To(Equal("early-exit"))
		})
	})

	Describe("ValidateConfig", func() {
		It("should accept the defaults", func() {
			load()
			Expect(ingest.ValidateConfig()).To(Succeed())
		})

		It("should require a bucket with the s3 source", func() {
			Expect(os.Setenv("LOG_ANALYTICS_SOURCE_TYPE", "s3")).To(Succeed())
			load()

			err := ingest.ValidateConfig()
			Expect(err).To(MatchError(ContainSubstring("s3.bucket is required")))

			Expect(os.Setenv("LOG_ANALYTICS_S3_BUCKET", "logs")).To(Succeed())
			load()
			Expect(ingest.ValidateConfig()).To(Succeed())
		})

		DescribeTable("should reject invalid values",
			func(key string, value any, message string) {
				load()
				ingest.ConfigSpec.Set(key, value)

				err := ingest.ValidateConfig()
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring(message))
			},
			Entry("log level", "log-level", "verbose", "invalid log-level"),
			Entry("store backend", "store.backend", "mysql", "invalid store.backend"),
			Entry("source type", "source.type", "ftp", "invalid source.type"),
			Entry("empty directory", "source.dir", "", "source.dir is required"),
			Entry("too many keys per page", "s3.max-keys", ingest.MaxS3Keys+1, "s3.max-keys"),
			Entry("zero batch size", "ingest.batch-size", 0, "must be positive"),
			Entry("huge batch size", "ingest.batch-size", ingest.MaxBatchSize+1, "exceeds maximum"),
			Entry("zero workers", "ingest.num-workers", 0, "ingest.num-workers"),
			Entry("dedup mode", "ingest.dedup-mode", "never", "invalid ingest.dedup-mode"),
			Entry("failure policy", "ingest.failure-policy", "ignore", "invalid ingest.failure-policy"),
			Entry("malformed line policy", "ingest.malformed-line-policy", "panic", "invalid ingest.malformed-line-policy"),
			Entry("negative interval", "ingest.run-interval-seconds", -1, "must not be negative"),
			Entry("jitter factor", "ingest.run-interval-jitter-factor", 1.5, "between 0 and 1"),
			Entry("start time", "analytics.start-time", "yesterday", "invalid analytics.start-time"),
			Entry("page size", "analytics.page-size", 0, "analytics.page-size"),
			Entry("interval width", "analytics.interval-hours", 0, "analytics.interval-hours"),
			Entry("negative retries", "retry.max-retries", -1, "retry.max-retries"),
		)

		It("should check the catalog settings only when enrichment is enabled", func() {
			load()
			ingest.ConfigSpec.Set("enrichment.requests-per-second", 0)
			Expect(ingest.ValidateConfig()).To(Succeed())

			ingest.ConfigSpec.Set("enrichment.enabled", true)
			Expect(ingest.ValidateConfig()).To(MatchError(ContainSubstring("requests-per-second")))
		})

		It("should accept a catalog rate below one request per second", func() {
			Expect(os.Setenv("LOG_ANALYTICS_ENRICHMENT_ENABLED", "true")).To(Succeed())
			Expect(os.Setenv("LOG_ANALYTICS_ENRICHMENT_REQUESTS_PER_SECOND", "0.5")).To(Succeed())
			load()

			Expect(ingest.ConfigSpec.GetFloat64("enrichment.requests-per-second")).To(Equal(0.5))
			Expect(ingest.ValidateConfig()).To(Succeed())

			Expect(os.Setenv("LOG_ANALYTICS_ENRICHMENT_REQUESTS_PER_SECOND", "0")).To(Succeed())
			Expect(ingest.ValidateConfig()).To(MatchError(ContainSubstring("requests-per-second")))
		})
	})
})
