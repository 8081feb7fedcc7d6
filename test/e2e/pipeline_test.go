package e2e_test

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scality/log-analytics/pkg/accesslog"
	"github.com/scality/log-analytics/pkg/analytics"
	"github.com/scality/log-analytics/pkg/ingest"
	"github.com/scality/log-analytics/pkg/store"
	"github.com/scality/log-analytics/pkg/testutil"
)

var _ = Describe("Log analytics pipeline", func() {
	var (
		ctx  context.Context
		e2e  *E2ETestContext
		day  time.Time
		page = analytics.Page{Number: 1}
	)

	BeforeEach(func() {
		ctx = context.Background()
		day = time.Date(2019, 6, 1, 0, 0, 0, 0, time.UTC)
		e2e = NewE2ETestContext(ctx, store.NewMemoryStore(), "service-account")
		DeferCleanup(e2e.Close)
	})

	deliverDay := func() {
		e2e.Deliver("2019-06-01-00-00-00-A",
			testutil.NewLogLine("r1").Key("ENCFF001AAA.bam").IP("1.2.3.4").At(day).String(),
			testutil.NewLogLine("r2").Key("ENCFF001AAA.bam").IP("1.2.3.4").At(day.Add(time.Hour)).String(),
			testutil.NewLogLine("r3").Key("ENCFF001AAA.bam").IP("5.6.7.8").At(day.Add(3*time.Hour)).String(),
			testutil.NewLogLine("p1").Operation("REST.PUT.OBJECT").Key("upload.bam").At(day).String(),
		)
		e2e.Deliver("2019-06-01-06-00-00-B",
			testutil.NewLogLine("r4").Key("ENCFF002BBB.bed").IP("5.6.7.8").At(day.Add(6*time.Hour)).String(),
			testutil.NewLogLine("r5").Operation(accesslog.OperationHeadObject).Key("ENCFF002BBB.bed").
				Requester("service-account").IP("9.9.9.9").At(day.Add(7*time.Hour)).String(),
			"not an access log line",
		)
		e2e.Deliver("2019-06-01-12-00-00-C",
			testutil.NewLogLine("r6").Key("ENCFF003CCC.txt").IP("1.2.3.4").At(day.Add(12*time.Hour)).String(),
		)
	}

	It("should ingest a bucket and answer queries over it", func() {
		deliverDay()

		report := e2e.Ingest(ctx, ingest.DedupEarlyExit)
		Expect(report.CompletedFiles).To(Equal(3))
		Expect(report.RecordsInserted).To(Equal(int64(6)))
		Expect(report.FilteredLines).To(Equal(int64(1)))
		Expect(report.MalformedLines).To(Equal(int64(1)))

		items, err := e2e.Service.MostQueriedItems(ctx, page, store.TimeRange{}, store.Filter{})
		Expect(err).NotTo(HaveOccurred())
		Expect(items).To(HaveLen(3))
		Expect(items[0].Item.Key).To(Equal("ENCFF001AAA.bam"))
		Expect(items[0].Count).To(Equal(uint64(2)))

		requesters, err := e2e.Service.MostActiveRequesters(ctx, page, store.TimeRange{}, store.Filter{})
		Expect(err).NotTo(HaveOccurred())
		Expect(requesters).To(Equal([]store.GroupCount{
			{Group: "1.2.3.4", Count: 3},
			{Group: "5.6.7.8", Count: 2},
		}))

		stats, err := e2e.Service.GeneralStats(ctx, store.TimeRange{}, store.Filter{})
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.TotalRequests).To(Equal(uint64(6)))
		Expect(stats.UniqueKeys).To(Equal(uint64(3)))

		var total uint64
		for c, err := range e2e.Service.QueryCountIntervals(ctx, day, day.Add(24*time.Hour), 6*time.Hour, store.Filter{}) {
			Expect(err).NotTo(HaveOccurred())
			total += c.Count
		}
		// r3 sits on the bound of the 0h and 6h windows
		Expect(total).To(Equal(uint64(7)))
	})

	It("should not add records when run again", func() {
		deliverDay()
		e2e.Ingest(ctx, ingest.DedupEarlyExit)

		report := e2e.Ingest(ctx, ingest.DedupEarlyExit)
		Expect(report.SkippedFiles).To(Equal(3))
		Expect(report.RecordsInserted).To(BeZero())

		// Reading every line again is served by the cache
		downloads := e2e.Server.GetRequests()
		report = e2e.Ingest(ctx, ingest.DedupPerLine)
		Expect(report.CompletedFiles).To(Equal(3))
		Expect(report.RecordsInserted).To(BeZero())
		Expect(report.DuplicateLines).To(Equal(int64(6)))
		Expect(e2e.Server.GetRequests()).To(Equal(downloads))

		count, err := e2e.Store.Count(ctx, store.TimeRange{}, store.Filter{})
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(uint64(6)))
	})

	It("should pick up newly delivered objects", func() {
		deliverDay()
		e2e.Ingest(ctx, ingest.DedupPerLine)

		e2e.Deliver("2019-06-02-00-00-00-D",
			testutil.NewLogLine("r7").Key("ENCFF003CCC.txt").IP("7.7.7.7").At(day.Add(24*time.Hour)).String(),
		)
		report := e2e.Ingest(ctx, ingest.DedupPerLine)
		Expect(report.CompletedFiles).To(Equal(4))
		Expect(report.RecordsInserted).To(Equal(int64(1)))
		Expect(report.DuplicateLines).To(Equal(int64(6)))

		result, err := e2e.Service.RequestersForItem(ctx, "ENCFF003CCC.txt", store.TimeRange{})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.ByIP).To(ConsistOf(
			store.GroupCount{Group: "1.2.3.4", Count: 1},
			store.GroupCount{Group: "7.7.7.7", Count: 1},
		))
	})

	It("should materialize daily counts", func() {
		for i := range 5 {
			e2e.Deliver(fmt.Sprintf("2019-06-0%d-00-00-00-X", i+1),
				testutil.NewLogLine(fmt.Sprintf("d%d", i)).At(day.Add(time.Duration(i)*24*time.Hour)).String())
		}
		e2e.Ingest(ctx, ingest.DedupEarlyExit)

		n, err := e2e.Service.MaterializeIntervals(ctx, "daily", day, day.Add(5*24*time.Hour), 24*time.Hour, store.Filter{})
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(5))

		stored, err := e2e.Service.StoredIntervals(ctx, "daily", store.TimeRange{})
		Expect(err).NotTo(HaveOccurred())
		Expect(stored).To(HaveLen(5))
		for _, c := range stored {
			Expect(c.Count).To(Equal(uint64(1)))
		}
	})
})
