package strm_test

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Open-PiliPili/EmbyStream-sub000/strm"
)

var _ = Describe("Is", func() {
	DescribeTable("extension matching",
		func(path string, want bool) {
			Expect(strm.Is(path)).To(Equal(want))
		},
		Entry("lowercase", "/media/a.strm", true),
		Entry("uppercase", "/media/a.STRM", true),
		Entry("mixed case", "/media/a.Strm", true),
		Entry("video file", "/media/a.mkv", false),
		Entry("no extension", "/media/strm", false),
		Entry("empty", "", false),
	)
})

var _ = Describe("Resolve", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	write := func(name string, content []byte) string {
		path := filepath.Join(dir, name)
		Expect(os.WriteFile(path, content, 0o644)).To(Succeed())
		return path
	}

	It("returns the trimmed target", func() {
		path := write("a.strm", []byte("  https://origin.example/a.mkv\n"))
		target, err := strm.Resolve(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(target).To(Equal("https://origin.example/a.mkv"))
	})

	It("handles local path targets", func() {
		path := write("b.strm", []byte("/mnt/cloud/b.mkv"))
		target, err := strm.Resolve(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(target).To(Equal("/mnt/cloud/b.mkv"))
	})

	It("rejects an empty file", func() {
		path := write("empty.strm", nil)
		_, err := strm.Resolve(path)
		Expect(err).To(MatchError(strm.ErrEmpty))
	})

	It("rejects a whitespace-only file", func() {
		path := write("blank.strm", []byte(" \n\t\n"))
		_, err := strm.Resolve(path)
		Expect(err).To(MatchError(strm.ErrEmpty))
	})

	It("rejects a file over the size cap", func() {
		path := write("big.strm", bytes.Repeat([]byte("a"), strm.MaxSize+1))
		_, err := strm.Resolve(path)
		Expect(err).To(MatchError(strm.ErrTooLarge))
	})

	It("accepts a file exactly at the size cap", func() {
		path := write("edge.strm", bytes.Repeat([]byte("a"), strm.MaxSize))
		_, err := strm.Resolve(path)
		Expect(err).NotTo(HaveOccurred())
	})

	It("rejects non-UTF-8 content", func() {
		path := write("bin.strm", []byte{0xff, 0xfe, 0x00, 0x41})
		_, err := strm.Resolve(path)
		Expect(err).To(MatchError(strm.ErrNotUTF8))
	})

	It("surfaces a missing file", func() {
		_, err := strm.Resolve(filepath.Join(dir, "missing.strm"))
		Expect(err).To(MatchError(fs.ErrNotExist))
	})
})
