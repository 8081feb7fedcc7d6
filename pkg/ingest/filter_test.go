package ingest_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scality/log-analytics/pkg/accesslog"
	"github.com/scality/log-analytics/pkg/ingest"
	"github.com/scality/log-analytics/pkg/testutil"
)

var _ = Describe("RecordFilter", func() {
	var filter *ingest.RecordFilter

	BeforeEach(func() {
		filter = ingest.NewRecordFilter(map[string]int64{"ENCFF000AAA/ENCFF000AAA.bam": 42})
	})

	It("should keep GET requests and copy their fields", func() {
		line := testutil.NewLogLine("A").Requester("alice").Line()

		rec, ok := filter.Apply(line, "file-1")
		Expect(ok).To(BeTrue())
		Expect(rec.SourceFile).To(Equal("file-1"))
		Expect(rec.RequestID).To(Equal("A"))
		Expect(rec.Bucket).To(Equal("encode-public"))
		Expect(*rec.Requester).To(Equal("alice"))
		Expect(*rec.RemoteIP).To(Equal("10.0.0.1"))
		Expect(*rec.ObjectSize).To(Equal(uint64(1024)))
		Expect(rec.Time).To(BeTemporally("==", testutil.DefaultLogTime))
	})

	It("should keep HEAD requests", func() {
		_, ok := filter.Apply(testutil.NewLogLine("A").Operation(accesslog.OperationHeadObject).Line(), "f")
		Expect(ok).To(BeTrue())
	})

	DescribeTable("should drop other operations",
		func(operation string) {
			rec, ok := filter.Apply(testutil.NewLogLine("A").Operation(operation).Line(), "f")
			Expect(ok).To(BeFalse())
			Expect(rec).To(BeNil())
		},
		Entry("PUT", "REST.PUT.OBJECT"),
		Entry("DELETE", "REST.DELETE.OBJECT"),
		Entry("bucket listing", "REST.GET.BUCKET"),
		Entry("bucket ACL", "REST.GET.ACL"),
	)

	It("should resolve known keys to their item", func() {
		rec, ok := filter.Apply(testutil.NewLogLine("A").Line(), "f")
		Expect(ok).To(BeTrue())
		Expect(rec.ItemID).NotTo(BeNil())
		Expect(*rec.ItemID).To(Equal(int64(42)))
	})

	It("should leave unknown keys without item", func() {
		rec, ok := filter.Apply(testutil.NewLogLine("A").Key("other").Line(), "f")
		Expect(ok).To(BeTrue())
		Expect(rec.ItemID).To(BeNil())
	})

	It("should accept a nil item table", func() {
		rec, ok := ingest.NewRecordFilter(nil).Apply(testutil.NewLogLine("A").Line(), "f")
		Expect(ok).To(BeTrue())
		Expect(rec.ItemID).To(BeNil())
	})
})
