package hls

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func stream(codecType, language, title string) ProbeStream {
	s := ProbeStream{CodecType: codecType}
	s.Tags.Language = language
	s.Tags.Title = title
	return s
}

var _ = Describe("MasterPlaylist", func() {
	It("lists every rendition and one variant", func() {
		res := &ProbeResult{
			Streams: []ProbeStream{
				stream("video", "", ""),
				stream("audio", "eng", "English"),
				stream("audio", "jpn", ""),
				stream("subtitle", "eng", ""),
			},
			Format: ProbeFormat{BitRate: "5000000"},
		}
		text := string(MasterPlaylist(res))

		Expect(text).To(HavePrefix("#EXTM3U\n#EXT-X-VERSION:3\n"))
		Expect(text).To(ContainSubstring(
			`#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="audio",NAME="English",DEFAULT=YES,AUTOSELECT=YES,LANGUAGE="eng"`))
		Expect(text).To(ContainSubstring(
			`#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="audio",NAME="jpn",DEFAULT=NO,AUTOSELECT=YES,LANGUAGE="jpn"`))
		Expect(text).To(ContainSubstring(
			`#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID="subs",NAME="eng",DEFAULT=NO,AUTOSELECT=YES,LANGUAGE="eng",URI="subtitle_0.m3u8"`))
		Expect(text).To(ContainSubstring(
			`#EXT-X-STREAM-INF:BANDWIDTH=5000000,AUDIO="audio",SUBTITLES="subs"`))
		Expect(text).To(HaveSuffix("\nvideo.m3u8\n"))
	})

	It("marks only the first audio track as default", func() {
		res := &ProbeResult{Streams: []ProbeStream{
			stream("audio", "eng", ""),
			stream("audio", "jpn", ""),
			stream("audio", "fra", ""),
		}}
		text := string(MasterPlaylist(res))
		Expect(strings.Count(text, "DEFAULT=YES")).To(Equal(1))
	})

	It("omits rendition groups without tracks", func() {
		res := &ProbeResult{Streams: []ProbeStream{stream("video", "", "")}}
		text := string(MasterPlaylist(res))

		Expect(text).NotTo(ContainSubstring("#EXT-X-MEDIA"))
		Expect(text).To(ContainSubstring("#EXT-X-STREAM-INF:BANDWIDTH=2000000\nvideo.m3u8\n"))
	})

	It("names untagged tracks by position", func() {
		res := &ProbeResult{Streams: []ProbeStream{stream("audio", "", "")}}
		Expect(string(MasterPlaylist(res))).To(ContainSubstring(`NAME="Audio 1"`))
	})

	It("falls back to the default bandwidth on a missing bit rate", func() {
		res := &ProbeResult{Format: ProbeFormat{BitRate: "N/A"}}
		Expect(string(MasterPlaylist(res))).To(ContainSubstring("BANDWIDTH=2000000"))
	})

	It("sanitizes quotes in track names", func() {
		res := &ProbeResult{Streams: []ProbeStream{stream("audio", "", `Director's "cut"`)}}
		Expect(string(MasterPlaylist(res))).To(ContainSubstring(`NAME="Director's 'cut'"`))
	})
})
