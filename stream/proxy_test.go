package stream_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/time/rate"

	"github.com/Open-PiliPili/EmbyStream-sub000/stream"
)

var _ = Describe("Remote", func() {
	var (
		noLimit *rate.Limiter
		origin  *httptest.Server
		hits    atomic.Int32
		seen    struct {
			rangeHeader string
			userAgent   string
			session     string
			host        string
		}
		payload []byte
	)

	BeforeEach(func() {
		noLimit = rate.NewLimiter(rate.Inf, 0)
		hits.Store(0)

		payload = make([]byte, 1024)
		for i := range payload {
			payload[i] = byte(i)
		}
		origin = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			seen.rangeHeader = r.Header.Get("Range")
			seen.userAgent = r.Header.Get("User-Agent")
			seen.session = r.Header.Get("X-Playback-Session")
			seen.host = r.Host
			w.Header().Set("Content-Type", "video/mp4")
			w.Header().Set("Content-Range", "bytes 0-1023/*")
			w.Header().Set("X-Origin-Marker", "cdn-7")
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write(payload)
		}))
		DeferCleanup(origin.Close)
	})

	newRequest := func(rangeHeader string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/stream?sign=abc", nil)
		r.Host = "backend.example"
		if rangeHeader != "" {
			r.Header.Set("Range", rangeHeader)
		}
		r.Header.Set("User-Agent", "VLC/3.0")
		r.Header.Set("X-Playback-Session", "sess-1")
		return r
	}

	It("refuses requests without a Range header before touching the origin", func() {
		w := httptest.NewRecorder()
		err := stream.NewRemote("").Serve(w, newRequest(""), origin.URL, noLimit)
		Expect(err).To(MatchError(stream.ErrNoRange))
		Expect(hits.Load()).To(BeZero())
		Expect(w.Body.Len()).To(BeZero())
	})

	It("forwards client headers minus Host", func() {
		w := httptest.NewRecorder()
		err := stream.NewRemote("").Serve(w, newRequest("bytes=0-1023"), origin.URL, noLimit)
		Expect(err).NotTo(HaveOccurred())

		Expect(seen.rangeHeader).To(Equal("bytes=0-1023"))
		Expect(seen.session).To(Equal("sess-1"))
		Expect(seen.userAgent).To(Equal("VLC/3.0"))
		Expect(seen.host).NotTo(Equal("backend.example"))
	})

	It("overrides the User-Agent when one is configured", func() {
		w := httptest.NewRecorder()
		err := stream.NewRemote("Gateway/1.0").Serve(w, newRequest("bytes=0-1023"), origin.URL, noLimit)
		Expect(err).NotTo(HaveOccurred())
		Expect(seen.userAgent).To(Equal("Gateway/1.0"))
	})

	It("passes the origin's status, headers, and body through verbatim", func() {
		w := httptest.NewRecorder()
		err := stream.NewRemote("").Serve(w, newRequest("bytes=0-1023"), origin.URL, noLimit)
		Expect(err).NotTo(HaveOccurred())

		Expect(w.Code).To(Equal(http.StatusPartialContent))
		Expect(w.Header().Get("Content-Range")).To(Equal("bytes 0-1023/*"))
		Expect(w.Header().Get("X-Origin-Marker")).To(Equal("cdn-7"))
		Expect(w.Body.Bytes()).To(Equal(payload))
	})

	It("passes origin error statuses through too", func() {
		gone := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "object expired", http.StatusNotFound)
		}))
		defer gone.Close()

		w := httptest.NewRecorder()
		err := stream.NewRemote("").Serve(w, newRequest("bytes=0-"), gone.URL, noLimit)
		Expect(err).NotTo(HaveOccurred())
		Expect(w.Code).To(Equal(http.StatusNotFound))
		Expect(w.Body.String()).To(ContainSubstring("object expired"))
	})

	It("reports an unreachable origin", func() {
		dead := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		dead.Close()

		w := httptest.NewRecorder()
		err := stream.NewRemote("").Serve(w, newRequest("bytes=0-"), dead.URL, noLimit)
		Expect(err).To(MatchError(stream.ErrUpstream))
		Expect(w.Body.Len()).To(BeZero())
	})

	It("ties the upstream fetch to the request context", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		r := newRequest("bytes=0-").WithContext(ctx)

		w := httptest.NewRecorder()
		err := stream.NewRemote("").Serve(w, r, origin.URL, noLimit)
		Expect(err).To(MatchError(stream.ErrUpstream))
		Expect(hits.Load()).To(BeZero())
	})
})
