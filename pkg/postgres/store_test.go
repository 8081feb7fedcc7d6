package postgres_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scality/log-analytics/pkg/postgres"
	"github.com/scality/log-analytics/pkg/store"
	"github.com/scality/log-analytics/pkg/testutil"
)

// connect returns a helper on an empty schema, skipping the test when no
// server is reachable
func connect(ctx context.Context) *testutil.PostgresTestHelper {
	helper, err := testutil.NewPostgresTestHelper(ctx)
	if err != nil {
		Skip("PostgreSQL not available: " + err.Error())
	}
	DeferCleanup(func() {
		_ = helper.TeardownSchema(context.Background())
		helper.Close()
	})

	Expect(helper.TeardownSchema(ctx)).To(Succeed())
	Expect(helper.SetupSchema(ctx)).To(Succeed())
	return helper
}

var _ = Describe("PostgreSQL Store", func() {
	Describe("Connection", func() {
		It("should reject an empty DSN", func() {
			_, err := postgres.NewPool(context.Background(), postgres.Config{})
			Expect(err).To(MatchError(ContainSubstring("DSN")))
		})

		It("should reject a malformed DSN", func() {
			_, err := postgres.NewPool(context.Background(), postgres.Config{DSN: "postgres://:bad port"})
			Expect(err).To(MatchError(ContainSubstring("failed to parse")))
		})

		It("should give up once the retries are exhausted", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			_, err := postgres.NewPool(ctx, postgres.Config{
				DSN:            "postgres://nobody@127.0.0.1:1/none?connect_timeout=1",
				MaxRetries:     1,
				InitialBackoff: 10 * time.Millisecond,
				MaxBackoff:     10 * time.Millisecond,
			})
			Expect(err).To(MatchError(ContainSubstring("after 2 attempts")))
		})
	})

	Describe("Schema", func() {
		It("should be idempotent", func() {
			ctx := context.Background()
			helper := connect(ctx)

			Expect(helper.SetupSchema(ctx)).To(Succeed())

			var tables int
			err := helper.Pool.QueryRow(ctx, `
				SELECT count(*) FROM information_schema.tables
				WHERE table_schema = $1 AND table_name = ANY($2)
			`, testutil.TestPostgresSchema, []string{
				postgres.TableAccessLogs, postgres.TableItems, postgres.TableIntervalCounts,
			}).Scan(&tables)
			Expect(err).NotTo(HaveOccurred())
			Expect(tables).To(Equal(3))
		})
	})

	Describe("BulkInsert", func() {
		It("should store a request id repeated in one batch once", func() {
			ctx := context.Background()
			s := postgres.NewStore(connect(ctx).Pool, nil)

			first := testutil.Record("A", testutil.WithKey("first"))
			second := testutil.Record("A", testutil.WithKey("second"))
			n, err := s.BulkInsert(ctx, []store.LogRecord{first, second})
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))

			count, err := s.Count(ctx, store.TimeRange{}, store.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(uint64(1)))
		})

		It("should reject a batch with a record without request id", func() {
			ctx := context.Background()
			s := postgres.NewStore(connect(ctx).Pool, nil)

			_, err := s.BulkInsert(ctx, []store.LogRecord{testutil.Record("A"), testutil.Record("")})
			Expect(err).To(HaveOccurred())

			count, err := s.Count(ctx, store.TimeRange{}, store.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(BeZero())
		})
	})

	Describe("conformance", func() {
		testutil.DescribeStoreBehavior(func(ctx context.Context) store.Store {
			helper := connect(ctx)
			// The store would close the pool the cleanup still needs
			return &unclosable{postgres.NewStore(helper.Pool, nil)}
		})
	})
})

type unclosable struct {
	*postgres.Store
}

func (unclosable) Close() error { return nil }
