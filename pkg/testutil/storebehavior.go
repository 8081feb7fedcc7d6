package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo DSL
	. "github.com/onsi/gomega"    //nolint:revive // gomega DSL

	"github.com/scality/log-analytics/pkg/store"
)

// DescribeStoreBehavior registers the tests every store backend must pass.
// newStore is called before each spec and must return an empty store; it may Skip.
func DescribeStoreBehavior(newStore func(ctx context.Context) store.Store) {
	var (
		ctx context.Context
		s   store.Store
	)

	base := time.Date(2019, 3, 1, 12, 0, 0, 0, time.UTC)

	BeforeEach(func() {
		ctx = context.Background()
		s = newStore(ctx)
	})

	AfterEach(func() {
		if s != nil {
			_ = s.Close()
		}
	})

	scanIDs := func() []string {
		var ids []string
		Expect(s.ScanRequestIDs(ctx, func(id string) { ids = append(ids, id) })).To(Succeed())
		return ids
	}

	insert := func(records ...store.LogRecord) {
		_, err := s.BulkInsert(ctx, records)
		Expect(err).NotTo(HaveOccurred())
	}

	Describe("BulkInsert", func() {
		It("should report the number of new records", func() {
			n, err := s.BulkInsert(ctx, []store.LogRecord{Record("A"), Record("B")})
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(2)))

			Expect(scanIDs()).To(ConsistOf("A", "B"))
		})

		It("should ignore request ids already stored", func() {
			insert(Record("A"), Record("B"))

			n, err := s.BulkInsert(ctx, []store.LogRecord{Record("B"), Record("C")})
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))

			Expect(scanIDs()).To(ConsistOf("A", "B", "C"))

			count, err := s.Count(ctx, store.TimeRange{}, store.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(uint64(3)))
		})

		It("should accept an empty batch", func() {
			n, err := s.BulkInsert(ctx, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())
		})

		It("should list each source file once", func() {
			insert(
				Record("A", WithSource("file-1")),
				Record("B", WithSource("file-1")),
				Record("C", WithSource("file-2")),
			)

			var sources []string
			Expect(s.ScanSourceFiles(ctx, func(source string) { sources = append(sources, source) })).To(Succeed())
			Expect(sources).To(ConsistOf("file-1", "file-2"))
		})

		It("should record ingested files once", func() {
			Expect(s.MarkFilesIngested(ctx, nil)).To(Succeed())
			Expect(s.MarkFilesIngested(ctx, []string{"file-1", "file-2"})).To(Succeed())
			Expect(s.MarkFilesIngested(ctx, []string{"file-2", "file-3"})).To(Succeed())

			var files []string
			Expect(s.ScanIngestedFiles(ctx, func(f string) { files = append(files, f) })).To(Succeed())
			Expect(files).To(ConsistOf("file-1", "file-2", "file-3"))

			// Records of a file do not make it ingested
			insert(Record("A", WithSource("file-4")))
			files = nil
			Expect(s.ScanIngestedFiles(ctx, func(f string) { files = append(files, f) })).To(Succeed())
			Expect(files).NotTo(ContainElement("file-4"))
		})

		It("should keep nullable fields", func() {
			rec := Record("A", WithoutKey(), WithRequester("alice"))
			rec.HTTPStatus = nil
			rec.ObjectSize = nil
			insert(rec)

			counts, err := s.Aggregate(ctx, store.AggregationRequest{GroupBy: store.GroupByRequester})
			Expect(err).NotTo(HaveOccurred())
			Expect(counts).To(Equal([]store.GroupCount{{Group: "alice", Count: 1}}))

			counts, err = s.Aggregate(ctx, store.AggregationRequest{GroupBy: store.GroupByKey})
			Expect(err).NotTo(HaveOccurred())
			Expect(counts).To(BeEmpty())
		})
	})

	Describe("Aggregate", func() {
		BeforeEach(func() {
			insert(
				Record("1", WithKey("k1"), WithIP("1.1.1.1"), WithTime(base)),
				Record("2", WithKey("k1"), WithIP("1.1.1.1"), WithTime(base.Add(time.Hour))),
				Record("3", WithKey("k1"), WithIP("2.2.2.2"), WithTime(base.Add(2*time.Hour))),
				Record("4", WithKey("k2"), WithIP("1.1.1.1"), WithRequester("alice"), WithTime(base)),
				Record("5", WithKey("k2"), WithIP("3.3.3.3"), WithRequester("alice"), WithTime(base)),
				Record("6", WithKey("k3"), WithIP("3.3.3.3"), WithRequester("svc"), WithTime(base.Add(24*time.Hour))),
			)
		})

		It("should count distinct identities per key", func() {
			counts, err := s.Aggregate(ctx, store.AggregationRequest{
				GroupBy: store.GroupByKey,
				Count:   store.CountDistinctIdentities,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(counts).To(Equal([]store.GroupCount{
				{Group: "k1", Count: 2},
				{Group: "k2", Count: 1},
				{Group: "k3", Count: 1},
			}))
		})

		It("should count rows per IP", func() {
			counts, err := s.Aggregate(ctx, store.AggregationRequest{GroupBy: store.GroupByIP})
			Expect(err).NotTo(HaveOccurred())
			Expect(counts).To(Equal([]store.GroupCount{
				{Group: "1.1.1.1", Count: 3},
				{Group: "3.3.3.3", Count: 2},
				{Group: "2.2.2.2", Count: 1},
			}))
		})

		It("should paginate", func() {
			counts, err := s.Aggregate(ctx, store.AggregationRequest{GroupBy: store.GroupByIP, Limit: 1, Offset: 1})
			Expect(err).NotTo(HaveOccurred())
			Expect(counts).To(Equal([]store.GroupCount{{Group: "3.3.3.3", Count: 2}}))

			counts, err = s.Aggregate(ctx, store.AggregationRequest{GroupBy: store.GroupByIP, Limit: 10, Offset: 10})
			Expect(err).NotTo(HaveOccurred())
			Expect(counts).To(BeEmpty())
		})

		It("should apply the time range inclusively", func() {
			counts, err := s.Aggregate(ctx, store.AggregationRequest{
				GroupBy: store.GroupByKey,
				Range:   store.TimeRange{Start: base.Add(time.Hour), End: base.Add(2 * time.Hour)},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(counts).To(Equal([]store.GroupCount{{Group: "k1", Count: 2}}))
		})

		It("should apply inclusion and exclusion filters", func() {
			counts, err := s.Aggregate(ctx, store.AggregationRequest{
				GroupBy: store.GroupByIP,
				Filter: store.Filter{
					KeyPrefix:         "k",
					ExcludeRequesters: []string{"svc"},
					ExcludeIPs:        []string{"2.2.2.2"},
				},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(counts).To(Equal([]store.GroupCount{
				{Group: "1.1.1.1", Count: 3},
				{Group: "3.3.3.3", Count: 1},
			}))

			counts, err = s.Aggregate(ctx, store.AggregationRequest{
				GroupBy: store.GroupByKey,
				Filter:  store.Filter{Requesters: []string{"alice"}, IPs: []string{"3.3.3.3"}},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(counts).To(Equal([]store.GroupCount{{Group: "k2", Count: 1}}))

			counts, err = s.Aggregate(ctx, store.AggregationRequest{
				GroupBy: store.GroupByRequester,
				Filter:  store.Filter{Keys: []string{"k2", "k3"}},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(counts).To(Equal([]store.GroupCount{
				{Group: "alice", Count: 2},
				{Group: "svc", Count: 1},
			}))
		})

		It("should reject a negative limit", func() {
			_, err := s.Aggregate(ctx, store.AggregationRequest{Limit: -1})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Summarize", func() {
		It("should return zeros without records", func() {
			summary, err := s.Summarize(ctx, store.TimeRange{}, store.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(summary).To(Equal(store.Summary{}))
		})

		It("should average the object size over distinct keys", func() {
			insert(
				Record("1", WithKey("k1"), WithIP("1.1.1.1"), WithObjectSize(100)),
				Record("2", WithKey("k1"), WithIP("2.2.2.2"), WithObjectSize(100)),
				Record("3", WithKey("k1"), WithIP("2.2.2.2"), WithObjectSize(100)),
				Record("4", WithKey("k2"), WithIP("1.1.1.1"), WithRequester("alice"), WithObjectSize(300)),
				Record("5", WithoutKey(), WithIP("4.4.4.4")),
			)

			summary, err := s.Summarize(ctx, store.TimeRange{}, store.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(summary).To(Equal(store.Summary{
				TotalRequests:      5,
				UniqueRequestPairs: 3,
				UniqueIPs:          3,
				UniqueKeys:         2,
				UniqueRequesters:   1,
				AverageObjectSize:  200,
			}))
		})
	})

	Describe("GetOrCreateItem", func() {
		factory := func(_ context.Context, key string) (store.Item, error) {
			return store.Item{Key: key, Name: store.DisplayName(key), FileFormat: StrPtr("bam")}, nil
		}

		It("should create the item once", func() {
			item, created, err := s.GetOrCreateItem(ctx, "ENCFF1/ENCFF1.bam", factory)
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeTrue())
			Expect(item.Name).To(Equal("ENCFF1.bam"))
			Expect(*item.FileFormat).To(Equal("bam"))

			again, created, err := s.GetOrCreateItem(ctx, "ENCFF1/ENCFF1.bam", factory)
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeFalse())
			Expect(again.ID).To(Equal(item.ID))

			keys, err := s.ItemKeys(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(keys).To(Equal(map[string]int64{"ENCFF1/ENCFF1.bam": item.ID}))
		})

		It("should create at most one item under concurrent lookups", func() {
			var (
				wg      sync.WaitGroup
				created atomic.Int32
				ids     sync.Map
			)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					item, isNew, err := s.GetOrCreateItem(ctx, "shared-key", factory)
					Expect(err).NotTo(HaveOccurred())
					if isNew {
						created.Add(1)
					}
					ids.Store(item.ID, true)
				}()
			}
			wg.Wait()

			Expect(created.Load()).To(Equal(int32(1)))
			distinct := 0
			ids.Range(func(_, _ any) bool {
				distinct++
				return true
			})
			Expect(distinct).To(Equal(1))
		})

		It("should not hold other keys while building an item", func() {
			slowStarted := make(chan struct{})
			fastDone := make(chan struct{})

			blockingFactory := func(ctx context.Context, key string) (store.Item, error) {
				if key == "slow-key" {
					close(slowStarted)
					select {
					case <-fastDone:
					case <-time.After(5 * time.Second):
						return store.Item{}, context.DeadlineExceeded
					}
				}
				return factory(ctx, key)
			}

			slowErr := make(chan error, 1)
			go func() {
				_, _, err := s.GetOrCreateItem(ctx, "slow-key", blockingFactory)
				slowErr <- err
			}()

			Eventually(slowStarted).Should(BeClosed())
			_, created, err := s.GetOrCreateItem(ctx, "fast-key", blockingFactory)
			close(fastDone)
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeTrue())

			Eventually(slowErr, 10*time.Second).Should(Receive(BeNil()))
		})
	})

	Describe("IntervalCounts", func() {
		It("should upsert by segment and sample time", func() {
			computed := base.Add(48 * time.Hour)
			Expect(s.SaveIntervalCounts(ctx, []store.IntervalCount{
				{Segment: "all", SampleTime: base.Add(time.Hour), Count: 1, ComputedAt: computed},
				{Segment: "all", SampleTime: base, Count: 2, ComputedAt: computed},
				{Segment: "other", SampleTime: base, Count: 9, ComputedAt: computed},
			})).To(Succeed())
			Expect(s.SaveIntervalCounts(ctx, []store.IntervalCount{
				{Segment: "all", SampleTime: base, Count: 5, ComputedAt: computed.Add(time.Hour)},
			})).To(Succeed())

			counts, err := s.IntervalCounts(ctx, "all", store.TimeRange{})
			Expect(err).NotTo(HaveOccurred())
			Expect(counts).To(HaveLen(2))
			Expect(counts[0].SampleTime).To(BeTemporally("==", base))
			Expect(counts[0].Count).To(Equal(uint64(5)))
			Expect(counts[1].SampleTime).To(BeTemporally("==", base.Add(time.Hour)))
			Expect(counts[1].Count).To(Equal(uint64(1)))

			counts, err = s.IntervalCounts(ctx, "all", store.TimeRange{Start: base.Add(time.Minute)})
			Expect(err).NotTo(HaveOccurred())
			Expect(counts).To(HaveLen(1))
		})
	})
}
