package accesslog_test

import (
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scality/log-analytics/pkg/accesslog"
	"github.com/scality/log-analytics/pkg/testutil"
)

var _ = Describe("Format", func() {
	It("should reproduce a parsed line", func() {
		line, err := accesslog.Parse(sampleLine)
		Expect(err).NotTo(HaveOccurred())

		Expect(accesslog.Format(line)).To(Equal(sampleLine))
	})

	It("should write absent fields as dashes", func() {
		line := &accesslog.Line{
			Bucket:    "bucket",
			Time:      time.Date(2019, 3, 1, 0, 0, 0, 0, time.UTC),
			RequestID: "REQ",
			Operation: accesslog.OperationHeadObject,
		}

		Expect(accesslog.Format(line)).To(Equal(
			`- bucket [01/Mar/2019:00:00:00 +0000] - - REQ REST.HEAD.OBJECT - "-" - - - - - - "-" "-" -`))
	})

	It("should terminate every line with a newline", func() {
		lines := []*accesslog.Line{
			testutil.NewLogLine("A").Line(),
			testutil.NewLogLine("B").Line(),
		}

		content := string(accesslog.FormatLines(lines))
		Expect(strings.Count(content, "\n")).To(Equal(2))
		Expect(strings.HasSuffix(content, "\n")).To(BeTrue())
	})

	DescribeTable("parse after format recovers the fields",
		func(line *accesslog.Line) {
			parsed, err := accesslog.Parse(accesslog.Format(line))
			Expect(err).NotTo(HaveOccurred())

			Expect(parsed.Time).To(BeTemporally("==", line.Time))
			parsed.Time = line.Time
			Expect(parsed).To(Equal(line))
		},
		Entry("default GET", testutil.NewLogLine("A").Line()),
		Entry("HEAD with requester",
			testutil.NewLogLine("B").
				Operation(accesslog.OperationHeadObject).
				Requester("arn:aws:iam::123456789012:user/alice").
				Line()),
		Entry("key with spaces escaped in the URI",
			testutil.NewLogLine("C").Key("dir/file%20name.txt").Line()),
		Entry("quoted user agent with quotes and backslash",
			func() *accesslog.Line {
				l := testutil.NewLogLine("D").Line()
				l.UserAgent = testutil.StrPtr(`agent "x" \ y`)
				l.Referrer = testutil.StrPtr("https://www.encodeproject.org/files/")
				return l
			}()),
		Entry("empty quoted field",
			func() *accesslog.Line {
				l := testutil.NewLogLine("E").Line()
				l.UserAgent = testutil.StrPtr("")
				return l
			}()),
		Entry("trailing fields",
			func() *accesslog.Line {
				l := testutil.NewLogLine("F").Line()
				l.Extra = []string{"-", "SigV4", "ECDHE-RSA-AES128-GCM-SHA256", "AuthHeader", `"quoted extra"`}
				return l
			}()),
		Entry("all optional fields absent",
			&accesslog.Line{
				Bucket:    "bucket",
				Time:      time.Date(2020, 1, 2, 3, 4, 5, 0, time.FixedZone("", -7*3600)),
				RequestID: "G",
				Operation: accesslog.OperationGetObject,
			}),
	)
})
