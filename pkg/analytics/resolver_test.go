package analytics_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scality/log-analytics/pkg/analytics"
	"github.com/scality/log-analytics/pkg/enrich"
	"github.com/scality/log-analytics/pkg/store"
	"github.com/scality/log-analytics/pkg/testutil"
)

var _ = Describe("ItemResolver", func() {
	var (
		ctx      context.Context
		memStore *store.MemoryStore
		enricher *fakeEnricher
		metrics  *analytics.Metrics
		resolver *analytics.ItemResolver
	)

	BeforeEach(func() {
		ctx = context.Background()
		memStore = store.NewMemoryStore()
		enricher = &fakeEnricher{meta: &enrich.Metadata{
			Experiment: testutil.StrPtr("ENCSR000XYZ"),
			AssayTitle: testutil.StrPtr("ChIP-seq"),
		}}
		metrics = NewTestMetrics()

		var err error
		resolver, err = analytics.NewItemResolver(analytics.ItemResolverConfig{
			Store:    memStore,
			Enricher: enricher,
			Logger:   discardLogger(),
			Metrics:  metrics,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("should create an enriched item on first resolution", func() {
		item, err := resolver.Resolve(ctx, "2019/ENCFF001ABC.bam")
		Expect(err).NotTo(HaveOccurred())
		Expect(item.ID).NotTo(BeZero())
		Expect(item.Name).To(Equal("ENCFF001ABC.bam"))
		Expect(item.AssayTitle).To(HaveValue(Equal("ChIP-seq")))
		Expect(item.Experiment).To(HaveValue(Equal("ENCSR000XYZ")))
	})

	It("should serve later resolutions from the cache", func() {
		first, err := resolver.Resolve(ctx, "k")
		Expect(err).NotTo(HaveOccurred())
		second, err := resolver.Resolve(ctx, "k")
		Expect(err).NotTo(HaveOccurred())

		Expect(second).To(Equal(first))
		Expect(enricher.calls.Load()).To(Equal(int32(1)))
		Expect(resolver.Cache().Len()).To(Equal(1))
	})

	It("should read the stored item again after invalidation", func() {
		first, err := resolver.Resolve(ctx, "k")
		Expect(err).NotTo(HaveOccurred())

		resolver.Cache().Invalidate()
		Expect(resolver.Cache().Len()).To(BeZero())

		second, err := resolver.Resolve(ctx, "k")
		Expect(err).NotTo(HaveOccurred())
		Expect(second.ID).To(Equal(first.ID))
		// The item exists, so the catalog is not asked again
		Expect(enricher.calls.Load()).To(Equal(int32(1)))
	})

	It("should create the item without metadata when enrichment fails", func() {
		enricher.err = errors.New("catalog down")

		item, err := resolver.Resolve(ctx, "k")
		Expect(err).NotTo(HaveOccurred())
		Expect(item.ID).NotTo(BeZero())
		Expect(item.AssayTitle).To(BeNil())
	})

	It("should fail when the lookup is canceled", func() {
		enricher.delay = time.Second
		ctx, cancel := context.WithCancel(ctx)
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()

		_, err := resolver.Resolve(ctx, "k")
		Expect(err).To(MatchError(context.Canceled))

		keys, err := memStore.ItemKeys(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(keys).To(BeEmpty())
	})

	It("should create one item under concurrent resolutions", func() {
		enricher.delay = 50 * time.Millisecond

		var (
			wg  sync.WaitGroup
			mu  sync.Mutex
			ids = map[int64]bool{}
		)
		for range 10 {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				item, err := resolver.Resolve(ctx, "shared")
				Expect(err).NotTo(HaveOccurred())
				mu.Lock()
				ids[item.ID] = true
				mu.Unlock()
			}()
		}
		wg.Wait()

		Expect(ids).To(HaveLen(1))
		Expect(enricher.calls.Load()).To(Equal(int32(1)))

		keys, err := memStore.ItemKeys(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(keys).To(HaveLen(1))
	})

	It("should require a store", func() {
		_, err := analytics.NewItemResolver(analytics.ItemResolverConfig{})
		Expect(err).To(HaveOccurred())
	})
})
