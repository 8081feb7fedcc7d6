package analytics_test

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scality/log-analytics/pkg/analytics"
	"github.com/scality/log-analytics/pkg/store"
	"github.com/scality/log-analytics/pkg/testutil"
)

var _ = Describe("Service", func() {
	var (
		ctx      context.Context
		memStore *store.MemoryStore
		service  *analytics.Service
		now      time.Time
		base     time.Time
	)

	newService := func(cfg analytics.ServiceConfig) *analytics.Service {
		cfg.Store = memStore
		cfg.Logger = discardLogger()
		cfg.Metrics = NewTestMetrics()
		cfg.Now = func() time.Time { return now }
		s, err := analytics.NewService(cfg)
		Expect(err).NotTo(HaveOccurred())
		return s
	}

	insert := func(records ...store.LogRecord) {
		_, err := memStore.BulkInsert(ctx, records)
		Expect(err).NotTo(HaveOccurred())
	}

	BeforeEach(func() {
		ctx = context.Background()
		memStore = store.NewMemoryStore()
		base = time.Date(2020, 1, 10, 0, 0, 0, 0, time.UTC)
		now = base.Add(30 * 24 * time.Hour)
		service = newService(analytics.ServiceConfig{})
	})

	Describe("MostActiveRequesters", func() {
		It("should leave out the excluded identities", func() {
			service = newService(analytics.ServiceConfig{ExcludedRequesters: []string{"service-account"}})
			insert(
				testutil.Record("1", testutil.WithIP("1.2.3.4"), testutil.WithTime(base)),
				testutil.Record("2", testutil.WithIP("1.2.3.4"), testutil.WithTime(base)),
				testutil.Record("3", testutil.WithIP("5.6.7.8"), testutil.WithRequester("service-account"), testutil.WithTime(base)),
			)

			counts, err := service.MostActiveRequesters(ctx, analytics.Page{Number: 1}, store.TimeRange{}, store.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(counts).To(Equal([]store.GroupCount{{Group: "1.2.3.4", Count: 2}}))
		})

		It("should match the exclusions against IPs", func() {
			service = newService(analytics.ServiceConfig{ExcludedRequesters: []string{"10.0.0.9"}})
			insert(
				testutil.Record("1", testutil.WithIP("10.0.0.9"), testutil.WithTime(base)),
				testutil.Record("2", testutil.WithIP("1.2.3.4"), testutil.WithTime(base)),
			)

			counts, err := service.MostActiveRequesters(ctx, analytics.Page{Number: 1}, store.TimeRange{}, store.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(counts).To(Equal([]store.GroupCount{{Group: "1.2.3.4", Count: 1}}))
		})

		It("should count raw requests and paginate", func() {
			for i := range 6 {
				ip := fmt.Sprintf("10.0.0.%d", i%3)
				for j := 0; j <= i%3; j++ {
					insert(testutil.Record(fmt.Sprintf("%d-%d", i, j), testutil.WithIP(ip), testutil.WithTime(base)))
				}
			}

			counts, err := service.MostActiveRequesters(ctx, analytics.Page{Number: 1, Limit: 2}, store.TimeRange{}, store.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(counts).To(Equal([]store.GroupCount{
				{Group: "10.0.0.2", Count: 6},
				{Group: "10.0.0.1", Count: 4},
			}))

			counts, err = service.MostActiveRequesters(ctx, analytics.Page{Number: 2, Limit: 2}, store.TimeRange{}, store.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(counts).To(Equal([]store.GroupCount{{Group: "10.0.0.0", Count: 2}}))
		})

		It("should reject invalid pages", func() {
			_, err := service.MostActiveRequesters(ctx, analytics.Page{}, store.TimeRange{}, store.Filter{})
			Expect(err).To(MatchError(ContainSubstring("page number")))

			_, err = service.MostActiveRequesters(ctx, analytics.Page{Number: 1, Limit: -1}, store.TimeRange{}, store.Filter{})
			Expect(err).To(MatchError(ContainSubstring("page limit")))
		})
	})

	Describe("MostQueriedItems", func() {
		BeforeEach(func() {
			// k1: 3 identities, k2: 2 identities over 4 requests, k3 and k4: 1
			insert(
				testutil.Record("1", testutil.WithKey("k1"), testutil.WithIP("1.1.1.1"), testutil.WithTime(base)),
				testutil.Record("2", testutil.WithKey("k1"), testutil.WithIP("2.2.2.2"), testutil.WithTime(base)),
				testutil.Record("3", testutil.WithKey("k1"), testutil.WithIP("2.2.2.2"), testutil.WithRequester("alice"), testutil.WithTime(base)),
				testutil.Record("4", testutil.WithKey("k2"), testutil.WithIP("1.1.1.1"), testutil.WithTime(base)),
				testutil.Record("5", testutil.WithKey("k2"), testutil.WithIP("1.1.1.1"), testutil.WithTime(base)),
				testutil.Record("6", testutil.WithKey("k2"), testutil.WithIP("1.1.1.1"), testutil.WithTime(base)),
				testutil.Record("7", testutil.WithKey("k2"), testutil.WithIP("3.3.3.3"), testutil.WithTime(base)),
				testutil.Record("8", testutil.WithKey("k4"), testutil.WithIP("3.3.3.3"), testutil.WithTime(base)),
				testutil.Record("9", testutil.WithKey("k3"), testutil.WithIP("3.3.3.3"), testutil.WithTime(base)),
			)
		})

		It("should rank keys by distinct requesters, ties by key", func() {
			items, err := service.MostQueriedItems(ctx, analytics.Page{Number: 1}, store.TimeRange{}, store.Filter{})
			Expect(err).NotTo(HaveOccurred())

			var keys []string
			var counts []uint64
			for _, ic := range items {
				keys = append(keys, ic.Item.Key)
				counts = append(counts, ic.Count)
			}
			Expect(keys).To(Equal([]string{"k1", "k2", "k3", "k4"}))
			Expect(counts).To(Equal([]uint64{3, 2, 1, 1}))
		})

		It("should keep counts non-increasing and below the total", func() {
			items, err := service.MostQueriedItems(ctx, analytics.Page{Number: 1, Limit: 100}, store.TimeRange{}, store.Filter{})
			Expect(err).NotTo(HaveOccurred())

			seen := map[string]bool{}
			var sum uint64
			for i, ic := range items {
				Expect(seen[ic.Item.Key]).To(BeFalse())
				seen[ic.Item.Key] = true
				if i > 0 {
					Expect(ic.Count).To(BeNumerically("<=", items[i-1].Count))
				}
				sum += ic.Count
			}

			stats, err := service.GeneralStats(ctx, store.TimeRange{}, store.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(sum).To(BeNumerically("<=", stats.TotalRequests))
			Expect(sum).To(Equal(stats.UniqueRequestPairs))
		})

		It("should resolve each key to an item once", func() {
			items, err := service.MostQueriedItems(ctx, analytics.Page{Number: 1, Limit: 2}, store.TimeRange{}, store.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(items).To(HaveLen(2))
			Expect(items[0].Item.ID).NotTo(BeZero())
			Expect(items[0].Item.Name).To(Equal("k1"))

			again, err := service.MostQueriedItems(ctx, analytics.Page{Number: 1, Limit: 2}, store.TimeRange{}, store.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(again[0].Item.ID).To(Equal(items[0].Item.ID))

			keys, err := memStore.ItemKeys(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(keys).To(HaveLen(2))
		})

		It("should apply the default range", func() {
			insert(
				testutil.Record("old", testutil.WithKey("k9"), testutil.WithIP("9.9.9.9"), testutil.WithTime(analytics.DefaultStartTime.Add(-time.Second))),
				testutil.Record("future", testutil.WithKey("k9"), testutil.WithIP("8.8.8.8"), testutil.WithTime(now.Add(time.Second))),
			)

			items, err := service.MostQueriedItems(ctx, analytics.Page{Number: 1, Limit: 100}, store.TimeRange{}, store.Filter{})
			Expect(err).NotTo(HaveOccurred())
			for _, ic := range items {
				Expect(ic.Item.Key).NotTo(Equal("k9"))
			}

			items, err = service.MostQueriedItems(ctx, analytics.Page{Number: 1, Limit: 100},
				store.TimeRange{Start: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), End: now.Add(time.Hour)}, store.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(items[0].Item.Key).To(Equal("k1"))
			Expect(items).To(ContainElement(HaveField("Item.Key", "k9")))
		})
	})

	Describe("ItemsForSource", func() {
		BeforeEach(func() {
			insert(
				testutil.Record("1", testutil.WithKey("k1"), testutil.WithIP("1.1.1.1"), testutil.WithTime(base)),
				testutil.Record("2", testutil.WithKey("k2"), testutil.WithIP("1.1.1.1"), testutil.WithTime(base)),
				testutil.Record("3", testutil.WithKey("k2"), testutil.WithIP("1.1.1.1"), testutil.WithTime(base)),
				testutil.Record("4", testutil.WithKey("k3"), testutil.WithIP("2.2.2.2"), testutil.WithRequester("alice"), testutil.WithTime(base)),
			)
		})

		It("should rank the keys of one IP by raw count", func() {
			items, err := service.ItemsForSource(ctx, analytics.Page{Number: 1}, store.TimeRange{}, analytics.SourceFilter{IP: "1.1.1.1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(items).To(HaveLen(2))
			Expect(items[0].Item.Key).To(Equal("k2"))
			Expect(items[0].Count).To(Equal(uint64(2)))
			Expect(items[1].Item.Key).To(Equal("k1"))
		})

		It("should select one requester", func() {
			items, err := service.ItemsForSource(ctx, analytics.Page{Number: 1}, store.TimeRange{}, analytics.SourceFilter{Requester: "alice"})
			Expect(err).NotTo(HaveOccurred())
			Expect(items).To(HaveLen(1))
			Expect(items[0].Item.Key).To(Equal("k3"))
		})

		It("should require exactly one source", func() {
			_, err := service.ItemsForSource(ctx, analytics.Page{Number: 1}, store.TimeRange{}, analytics.SourceFilter{})
			Expect(err).To(HaveOccurred())

			_, err = service.ItemsForSource(ctx, analytics.Page{Number: 1}, store.TimeRange{}, analytics.SourceFilter{IP: "1.1.1.1", Requester: "alice"})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("RequestersForItem", func() {
		It("should break down the requests by requester and IP", func() {
			insert(
				testutil.Record("1", testutil.WithKey("k1"), testutil.WithIP("1.1.1.1"), testutil.WithRequester("alice"), testutil.WithTime(base)),
				testutil.Record("2", testutil.WithKey("k1"), testutil.WithIP("1.1.1.1"), testutil.WithRequester("alice"), testutil.WithTime(base)),
				testutil.Record("3", testutil.WithKey("k1"), testutil.WithIP("2.2.2.2"), testutil.WithTime(base)),
				testutil.Record("4", testutil.WithKey("k2"), testutil.WithIP("3.3.3.3"), testutil.WithRequester("bob"), testutil.WithTime(base)),
			)

			result, err := service.RequestersForItem(ctx, "k1", store.TimeRange{})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Key).To(Equal("k1"))
			Expect(result.ByRequester).To(Equal([]store.GroupCount{{Group: "alice", Count: 2}}))
			Expect(result.ByIP).To(Equal([]store.GroupCount{
				{Group: "1.1.1.1", Count: 2},
				{Group: "2.2.2.2", Count: 1},
			}))
		})

		It("should return empty breakdowns for an unknown key", func() {
			result, err := service.RequestersForItem(ctx, "missing", store.TimeRange{})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.ByRequester).To(BeEmpty())
			Expect(result.ByIP).To(BeEmpty())
		})

		It("should require a key", func() {
			_, err := service.RequestersForItem(ctx, "", store.TimeRange{})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("GeneralStats", func() {
		It("should return zeros without records", func() {
			stats, err := service.GeneralStats(ctx, store.TimeRange{}, store.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(stats).To(Equal(store.Summary{}))
		})

		It("should restrict the statistics to the range", func() {
			insert(
				testutil.Record("1", testutil.WithKey("k1"), testutil.WithObjectSize(10), testutil.WithTime(base)),
				testutil.Record("2", testutil.WithKey("k2"), testutil.WithObjectSize(30), testutil.WithTime(base.Add(48*time.Hour))),
			)

			stats, err := service.GeneralStats(ctx, store.TimeRange{End: base.Add(time.Hour)}, store.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.TotalRequests).To(Equal(uint64(1)))
			Expect(stats.AverageObjectSize).To(Equal(10.0))

			stats, err = service.GeneralStats(ctx, store.TimeRange{}, store.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.TotalRequests).To(Equal(uint64(2)))
			Expect(stats.AverageObjectSize).To(Equal(20.0))
		})
	})

	It("should require a store", func() {
		_, err := analytics.NewService(analytics.ServiceConfig{})
		Expect(err).To(HaveOccurred())
	})
})
