package token_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Open-PiliPili/EmbyStream-sub000/token"
)

var _ = Describe("Sign", func() {

	// ── Validity ──

	Describe("Valid", func() {
		const expiredAt = int64(1_700_000_000)
		sign := token.Sign{URI: "/media/movie.mkv", ExpiredAt: expiredAt}

		It("accepts a time well before expiry", func() {
			Expect(sign.Valid(time.Unix(expiredAt-3600, 0))).To(BeTrue())
		})

		It("accepts a time inside the grace window", func() {
			Expect(sign.Valid(time.Unix(expiredAt+299, 0))).To(BeTrue())
		})

		It("rejects the instant the grace window closes", func() {
			Expect(sign.Valid(time.Unix(expiredAt+300, 0))).To(BeFalse())
		})

		It("rejects any later time", func() {
			Expect(sign.Valid(time.Unix(expiredAt+301, 0))).To(BeFalse())
		})

		It("rejects an empty URI regardless of expiry", func() {
			s := token.Sign{URI: "", ExpiredAt: expiredAt}
			Expect(s.Valid(time.Unix(expiredAt-3600, 0))).To(BeFalse())
		})

		It("rejects a zero expiry", func() {
			s := token.Sign{URI: "/media/movie.mkv"}
			Expect(s.Valid(time.Unix(0, 0))).To(BeFalse())
		})
	})

	Describe("New", func() {
		It("sets expiry ttl from now", func() {
			before := time.Now().Add(4 * time.Hour).Unix()
			s := token.New("/media/movie.mkv", 4*time.Hour)
			after := time.Now().Add(4 * time.Hour).Unix()

			Expect(s.URI).To(Equal("/media/movie.mkv"))
			Expect(s.ExpiredAt).To(BeNumerically(">=", before))
			Expect(s.ExpiredAt).To(BeNumerically("<=", after))
		})
	})

	// ── Local vs remote ──

	DescribeTable("IsLocal",
		func(uri string, local bool) {
			Expect(token.Sign{URI: uri}.IsLocal()).To(Equal(local))
		},
		Entry("absolute path", "/media/movies/film.mkv", true),
		Entry("file scheme", "file:///media/movies/film.mkv", true),
		Entry("path with spaces and percent", "/media/100% legit (2024)/film.mkv", true),
		Entry("http URL", "http://origin.example/stream/film.mkv", false),
		Entry("https URL", "https://origin.example/stream/film.mkv", false),
		Entry("empty", "", false),
	)

	Describe("LocalPath", func() {
		It("strips a file scheme", func() {
			s := token.Sign{URI: "file:///media/a.mkv"}
			Expect(s.LocalPath()).To(Equal("/media/a.mkv"))
		})

		It("leaves a bare path alone", func() {
			s := token.Sign{URI: "/media/a.mkv"}
			Expect(s.LocalPath()).To(Equal("/media/a.mkv"))
		})
	})

	Describe("SourcePath", func() {
		It("returns the local path for filesystem sources", func() {
			s := token.Sign{URI: "file:///media/a.mkv"}
			Expect(s.SourcePath()).To(Equal("/media/a.mkv"))
		})

		It("returns the URI for remote sources", func() {
			s := token.Sign{URI: "https://origin.example/a.mkv"}
			Expect(s.SourcePath()).To(Equal("https://origin.example/a.mkv"))
		})
	})

	// ── Serialization ──

	Describe("Map and FromMap", func() {
		It("round-trips", func() {
			s := token.Sign{URI: "/media/片名.mkv", ExpiredAt: 1_700_000_000}
			Expect(token.FromMap(s.Map())).To(Equal(s))
		})

		It("emits decimal expired_at", func() {
			m := token.Sign{URI: "/a", ExpiredAt: 42}.Map()
			Expect(m).To(Equal(map[string]string{
				"uri":        "/a",
				"expired_at": "42",
			}))
		})

		It("tolerates a missing expiry", func() {
			s := token.FromMap(map[string]string{"uri": "/a"})
			Expect(s.URI).To(Equal("/a"))
			Expect(s.ExpiredAt).To(BeZero())
		})

		It("tolerates garbage expiry", func() {
			s := token.FromMap(map[string]string{"uri": "/a", "expired_at": "soon"})
			Expect(s.ExpiredAt).To(BeZero())
			Expect(s.Valid(time.Unix(0, 0))).To(BeFalse())
		})

		It("tolerates an empty map", func() {
			s := token.FromMap(map[string]string{})
			Expect(s).To(Equal(token.Sign{}))
		})
	})
})
