package clickhouse_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scality/log-analytics/pkg/clickhouse"
	"github.com/scality/log-analytics/pkg/store"
	"github.com/scality/log-analytics/pkg/testutil"
)

// connect returns a helper on the test database, skipping the test when no
// server is reachable
func connect(ctx context.Context) *testutil.ClickHouseTestHelper {
	helper, err := testutil.NewClickHouseTestHelper(ctx)
	if err != nil {
		Skip("ClickHouse not available: " + err.Error())
	}
	DeferCleanup(func() {
		_ = helper.TeardownSchema(context.Background())
		_ = helper.Close()
	})
	return helper
}

func countTables(ctx context.Context, client *clickhouse.Client) uint64 {
	var count uint64
	err := client.QueryRow(ctx,
		"SELECT count() FROM system.tables WHERE database = ? AND name IN (?, ?, ?)",
		testutil.TestClickHouseDatabase,
		clickhouse.TableAccessLogs, clickhouse.TableItems, clickhouse.TableIntervalCounts,
	).Scan(&count)
	Expect(err).NotTo(HaveOccurred())
	return count
}

var _ = Describe("ClickHouse Client", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("Connection", func() {
		It("should require a host", func() {
			_, err := clickhouse.NewClient(ctx, clickhouse.Config{})
			Expect(err).To(MatchError(ContainSubstring("at least one host")))
		})

		It("should use the configured database", func() {
			helper := connect(ctx)
			Expect(helper.Client.Database()).To(Equal(testutil.TestClickHouseDatabase))
		})

		It("should query and return results", func() {
			helper := connect(ctx)

			rows, err := helper.Client.Query(ctx, "SELECT 1 AS value")
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = rows.Close() }()

			Expect(rows.Next()).To(BeTrue())
			var value uint8
			Expect(rows.Scan(&value)).To(Succeed())
			Expect(value).To(Equal(uint8(1)))
		})

		It("should give up once the retries are exhausted", func() {
			ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			_, err := clickhouse.NewClient(ctx, clickhouse.Config{
				Hosts:          []string{"127.0.0.1:1"},
				Timeout:        500 * time.Millisecond,
				MaxRetries:     1,
				InitialBackoff: 10 * time.Millisecond,
				MaxBackoff:     10 * time.Millisecond,
			})
			Expect(err).To(MatchError(ContainSubstring("after 2 attempts")))
		})
	})

	Describe("Schema Management", func() {
		It("should create the tables idempotently", func() {
			helper := connect(ctx)

			Expect(helper.SetupSchema(ctx)).To(Succeed())
			Expect(helper.SetupSchema(ctx)).To(Succeed())
			Expect(countTables(ctx, helper.Client)).To(Equal(uint64(3)))
		})

		It("should drop the tables", func() {
			helper := connect(ctx)

			Expect(helper.SetupSchema(ctx)).To(Succeed())
			Expect(helper.TeardownSchema(ctx)).To(Succeed())
			Expect(countTables(ctx, helper.Client)).To(BeZero())
		})
	})
})

var _ = Describe("ClickHouse Store", func() {
	newStore := func(ctx context.Context) *clickhouse.Store {
		helper := connect(ctx)
		Expect(helper.TeardownSchema(ctx)).To(Succeed())
		Expect(helper.SetupSchema(ctx)).To(Succeed())
		return clickhouse.NewStore(helper.Client, nil)
	}

	It("should derive stable item ids from keys", func() {
		ctx := context.Background()
		factory := func(_ context.Context, key string) (store.Item, error) {
			return store.Item{Key: key}, nil
		}

		first, created, err := newStore(ctx).GetOrCreateItem(ctx, "ENCFF2/ENCFF2.bed", factory)
		Expect(err).NotTo(HaveOccurred())
		Expect(created).To(BeTrue())
		Expect(first.ID).To(BeNumerically(">", 0))

		second, created, err := newStore(ctx).GetOrCreateItem(ctx, "ENCFF2/ENCFF2.bed", factory)
		Expect(err).NotTo(HaveOccurred())
		Expect(created).To(BeTrue())
		Expect(second.ID).To(Equal(first.ID))
	})

	Describe("conformance", func() {
		testutil.DescribeStoreBehavior(func(ctx context.Context) store.Store {
			// The cleanup closes the client
			return &unclosable{newStore(ctx)}
		})
	})
})

type unclosable struct {
	*clickhouse.Store
}

func (unclosable) Close() error { return nil }
