package testutil

import (
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// TestS3AccessKey and TestS3SecretKey are accepted by MockS3Server
	TestS3AccessKey = "LSOVSCTL01CME9OETI5A"
	//nolint:gosec // Test credentials
	TestS3SecretKey = "6xHQtgUX46WwfsxyhhdatdWqlZj0omlgVSLx4qNV"
)

// MockS3Server serves the path-style ListObjectsV2 and GetObject calls
// of one in-memory object store
type MockS3Server struct {
	*httptest.Server

	mu      sync.Mutex
	objects map[string]map[string][]byte // bucket -> key -> content

	listRequests atomic.Int32
	getRequests  atomic.Int32
	failures     atomic.Int32
}

// NewMockS3Server starts a mock S3 server; Close it when done
func NewMockS3Server() *MockS3Server {
	m := &MockS3Server{objects: make(map[string]map[string][]byte)}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// PutObject stores an object, creating the bucket if needed
func (m *MockS3Server) PutObject(bucket, key string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.objects[bucket] == nil {
		m.objects[bucket] = make(map[string][]byte)
	}
	m.objects[bucket][key] = content
}

// FailNext answers the next n requests with 503 Service Unavailable
func (m *MockS3Server) FailNext(n int) {
	m.failures.Store(int32(n)) //nolint:gosec // test helper
}

// ListRequests returns the number of listing requests served
func (m *MockS3Server) ListRequests() int {
	return int(m.listRequests.Load())
}

// GetRequests returns the number of object requests received
func (m *MockS3Server) GetRequests() int {
	return int(m.getRequests.Load())
}

type listObject struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int    `xml:"Size"`
}

type listBucketResult struct {
	XMLName               xml.Name     `xml:"http://s3.amazonaws.com/doc/2006-03-01/ ListBucketResult"`
	Name                  string       `xml:"Name"`
	Prefix                string       `xml:"Prefix"`
	StartAfter            string       `xml:"StartAfter,omitempty"`
	NextContinuationToken string       `xml:"NextContinuationToken,omitempty"`
	Contents              []listObject `xml:"Contents"`
	KeyCount              int          `xml:"KeyCount"`
	MaxKeys               int          `xml:"MaxKeys"`
	IsTruncated           bool         `xml:"IsTruncated"`
}

func writeS3Error(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<Error>
  <Code>` + code + `</Code>
  <Message>` + message + `</Message>
</Error>`))
}

func (m *MockS3Server) handle(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	bucket, key, _ := strings.Cut(path, "/")

	if key == "" && r.URL.Query().Get("list-type") == "2" {
		m.listRequests.Add(1)
	} else {
		m.getRequests.Add(1)
	}

	if m.failures.Load() > 0 {
		m.failures.Add(-1)
		writeS3Error(w, http.StatusServiceUnavailable, "ServiceUnavailable", "Service is temporarily unavailable")
		return
	}

	if r.Method != http.MethodGet {
		writeS3Error(w, http.StatusNotImplemented, "NotImplemented", "Only GET is supported")
		return
	}

	m.mu.Lock()
	objects, ok := m.objects[bucket]
	m.mu.Unlock()
	if !ok {
		writeS3Error(w, http.StatusNotFound, "NoSuchBucket", "The specified bucket does not exist")
		return
	}

	if key == "" {
		m.list(w, r, bucket, objects)
		return
	}

	m.mu.Lock()
	content, ok := objects[key]
	m.mu.Unlock()
	if !ok {
		writeS3Error(w, http.StatusNotFound, "NoSuchKey", "The specified key does not exist.")
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

func (m *MockS3Server) list(w http.ResponseWriter, r *http.Request, bucket string, objects map[string][]byte) {
	query := r.URL.Query()
	prefix := query.Get("prefix")

	// A continuation token is the last key of the previous page
	after := query.Get("start-after")
	if token := query.Get("continuation-token"); token != "" {
		after = token
	}

	maxKeys := 1000
	if v, err := strconv.Atoi(query.Get("max-keys")); err == nil && v > 0 && v < maxKeys {
		maxKeys = v
	}

	m.mu.Lock()
	keys := make([]string, 0, len(objects))
	sizes := make(map[string]int, len(objects))
	for k, content := range objects {
		if strings.HasPrefix(k, prefix) && k > after {
			keys = append(keys, k)
			sizes[k] = len(content)
		}
	}
	m.mu.Unlock()
	slices.Sort(keys)

	result := listBucketResult{
		Name:       bucket,
		Prefix:     prefix,
		StartAfter: query.Get("start-after"),
		MaxKeys:    maxKeys,
	}
	if len(keys) > maxKeys {
		keys = keys[:maxKeys]
		result.IsTruncated = true
		result.NextContinuationToken = keys[len(keys)-1]
	}
	modified := time.Date(2019, 3, 1, 0, 0, 0, 0, time.UTC).Format(time.RFC3339)
	for _, k := range keys {
		result.Contents = append(result.Contents, listObject{
			Key:          k,
			LastModified: modified,
			ETag:         `"etag"`,
			Size:         sizes[k],
		})
	}
	result.KeyCount = len(result.Contents)

	data, err := xml.Marshal(result)
	if err != nil {
		writeS3Error(w, http.StatusInternalServerError, "InternalError", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(data)
}
