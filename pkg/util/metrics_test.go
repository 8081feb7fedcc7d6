package util_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/scality/log-analytics/pkg/util"
)

var _ = Describe("StartMetricsServerIfEnabled", func() {
	var (
		logger     *slog.Logger
		configSpec util.ConfigSpec
		server     *http.Server
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		configSpec = util.ConfigSpec{
			"ingest-metrics.enabled":        util.ConfigVarSpec{DefaultValue: true},
			"ingest-metrics.listen-address": util.ConfigVarSpec{DefaultValue: "127.0.0.1"},
			"ingest-metrics.listen-port":    util.ConfigVarSpec{DefaultValue: 0},
		}
		configSpec.SetDefault("ingest-metrics.enabled", true)
		configSpec.SetDefault("ingest-metrics.listen-address", "127.0.0.1")
		configSpec.SetDefault("ingest-metrics.listen-port", 0)
		server = nil

		DeferCleanup(func() {
			configSpec.Reset()
			if server != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = server.Shutdown(ctx)
			}
		})
	})

	start := func(gatherer prometheus.Gatherer) {
		var err error
		server, err = util.StartMetricsServerIfEnabled(configSpec, "ingest-metrics", gatherer, logger)
		Expect(err).ToNot(HaveOccurred())
		Expect(server).ToNot(BeNil())
	}

	get := func(path string) (int, string) {
		resp, err := http.Get(fmt.Sprintf("http://%s%s", server.Addr, path))
		Expect(err).ToNot(HaveOccurred())
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(resp.Body)
		Expect(err).ToNot(HaveOccurred())
		return resp.StatusCode, string(body)
	}

	It("should not start when disabled", func() {
		configSpec.Set("ingest-metrics.enabled", false)

		s, err := util.StartMetricsServerIfEnabled(configSpec, "ingest-metrics", nil, logger)
		Expect(err).ToNot(HaveOccurred())
		Expect(s).To(BeNil())
	})

	It("should fail on an address it cannot listen on", func() {
		configSpec.Set("ingest-metrics.listen-address", "invalid-address")
		configSpec.Set("ingest-metrics.listen-port", 9999)

		s, err := util.StartMetricsServerIfEnabled(configSpec, "ingest-metrics", nil, logger)
		Expect(err).To(HaveOccurred())
		Expect(s).To(BeNil())
	})

	It("should report the port it actually listens on", func() {
		start(nil)

		Expect(server.Addr).To(HavePrefix("127.0.0.1:"))
		Expect(server.Addr).NotTo(HaveSuffix(":0"))
	})

	DescribeTable("should route requests",
		func(path string, status int) {
			start(nil)

			code, _ := get(path)
			Expect(code).To(Equal(status))
		},
		Entry("metrics", "/metrics", http.StatusOK),
		Entry("health", "/healthz", http.StatusOK),
		Entry("anything else", "/records", http.StatusNotFound),
	)

	It("should expose the default registry without a gatherer", func() {
		start(nil)

		_, body := get("/metrics")
		Expect(body).To(ContainSubstring("# HELP go_goroutines"))
	})

	It("should expose only the given registry", func() {
		registry := prometheus.NewRegistry()
		flushed := prometheus.NewCounter(prometheus.CounterOpts{
			Name: "log_analytics_test_batches_flushed_total",
			Help: "Batches flushed during the metrics server test",
		})
		registry.MustRegister(flushed)
		flushed.Add(3)

		start(registry)

		_, body := get("/metrics")
		Expect(body).To(ContainSubstring("log_analytics_test_batches_flushed_total 3"))
		Expect(body).NotTo(ContainSubstring("go_goroutines"))
	})

	It("should stop serving after shutdown", func() {
		start(nil)
		code, _ := get("/healthz")
		Expect(code).To(Equal(http.StatusOK))

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		Expect(server.Shutdown(ctx)).To(Succeed())

		_, err := http.Get(fmt.Sprintf("http://%s/healthz", server.Addr))
		Expect(err).To(HaveOccurred())
		server = nil
	})
})
