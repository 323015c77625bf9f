package hls

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Sources", func() {
	It("stores and retrieves case-insensitively", func() {
		s := NewSources(time.Minute)
		defer s.Stop()
		s.Put("Item-1", "/media/a.mkv")

		source, ok := s.Get("ITEM-1")
		Expect(ok).To(BeTrue())
		Expect(source).To(Equal("/media/a.mkv"))
	})

	It("misses unknown items", func() {
		s := NewSources(time.Minute)
		defer s.Stop()
		_, ok := s.Get("nope")
		Expect(ok).To(BeFalse())
	})

	It("drops idle entries", func() {
		s := NewSources(80 * time.Millisecond)
		defer s.Stop()
		s.Put("item-1", "/media/a.mkv")
		time.Sleep(200 * time.Millisecond)
		_, ok := s.Get("item-1")
		Expect(ok).To(BeFalse())
	})

	It("keeps entries alive while they are read", func() {
		s := NewSources(150 * time.Millisecond)
		defer s.Stop()
		s.Put("item-1", "/media/a.mkv")

		for i := 0; i < 4; i++ {
			time.Sleep(60 * time.Millisecond)
			_, ok := s.Get("item-1")
			Expect(ok).To(BeTrue())
		}
	})
})
