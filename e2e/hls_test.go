package e2e

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Open-PiliPili/EmbyStream-sub000/config"
	"github.com/Open-PiliPili/EmbyStream-sub000/token"
)

// segmenterStub discovers its spool from the -segment_list argument,
// drops a media playlist and one segment there, then idles like a live
// encoder.
const segmenterStub = `#!/bin/sh
spool=""
prev=""
for a in "$@"; do
	if [ "$prev" = "-segment_list" ]; then
		spool=$(dirname "$a")
	fi
	prev="$a"
done
printf '#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:6\n#EXTINF:6.000000,\nsegment00000.ts\n#EXT-X-ENDLIST\n' > "$spool/video.m3u8"
printf 'e2e-ts-payload' > "$spool/segment00000.ts"
exec sleep 60
`

const proberStub = `#!/bin/sh
echo '{"streams":[{"index":0,"codec_type":"video"},{"index":1,"codec_type":"audio","tags":{"language":"eng"}}],"format":{"bit_rate":"1500000"}}'
`

var _ = Describe("HLS flows", func() {
	// startHLSGateway boots a deployment whose encoder binaries are
	// shell stubs.
	startHLSGateway := func() *gateway {
		dir := GinkgoT().TempDir()
		ffmpeg := writeScript(dir, "ffmpeg", segmenterStub)
		ffprobe := writeScript(dir, "ffprobe", proberStub)
		g := startGateway(func(c *config.Config) {
			c.Backend.FFmpegPath = ffmpeg
			c.Backend.FFprobePath = ffprobe
		})
		DeferCleanup(g.Close)
		return g
	}

	writeMedia := func() string {
		path := filepath.Join(GinkgoT().TempDir(), "movie.mkv")
		Expect(os.WriteFile(path, []byte("matroska-bytes"), 0o644)).To(Succeed())
		return path
	}

	It("transmuxes a source end to end", func() {
		g := startHLSGateway()
		g.catalog.Set("item-h", "ms-1", writeMedia())

		// The HLS-flavored play URL redirects to the backend's master
		// playlist, sign attached.
		resp := get(g.frontend.URL+"/videos/item-h/hls/master.m3u8?MediaSourceId=ms-1&api_key=k", nil)
		drain(resp)
		Expect(resp.StatusCode).To(Equal(http.StatusFound))
		loc := resp.Header.Get("Location")
		Expect(loc).To(HavePrefix(g.backend.URL + "/videos/item-h/master.m3u8?sign="))

		master := get(loc, nil)
		Expect(master.StatusCode).To(Equal(http.StatusOK))
		Expect(master.Header.Get("Content-Type")).To(Equal("application/vnd.apple.mpegurl"))
		content := body(master)
		Expect(content).To(HavePrefix("#EXTM3U"))
		Expect(content).To(ContainSubstring(`#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="audio"`))
		Expect(content).To(ContainSubstring("video.m3u8"))

		// The media playlist and its segment come out of the spool.
		media := get(g.backend.URL+"/videos/item-h/video.m3u8", nil)
		Expect(media.StatusCode).To(Equal(http.StatusOK))
		Expect(body(media)).To(ContainSubstring("segment00000.ts"))

		segment := get(g.backend.URL+"/videos/item-h/segment00000.ts", nil)
		Expect(segment.StatusCode).To(Equal(http.StatusOK))
		Expect(segment.Header.Get("Content-Type")).To(Equal("video/mp2t"))
		Expect(segment.Header.Get("Cache-Control")).To(Equal("public, max-age=31536000"))
		Expect(body(segment)).To(Equal("e2e-ts-payload"))
	})

	It("recovers the source from the sign when the item map is cold", func() {
		// A backend on its own host (or freshly restarted) has no
		// item→source entry; the sign on the playlist request carries it.
		g := startHLSGateway()
		sign := g.sealSign(token.New(writeMedia(), time.Hour))

		master := get(g.backend.URL+"/videos/item-x/master.m3u8?sign="+sign, nil)
		Expect(master.StatusCode).To(Equal(http.StatusOK))
		Expect(body(master)).To(HavePrefix("#EXTM3U"))

		// Follow-up segment requests ride the now-warm map, no sign.
		segment := get(g.backend.URL+"/videos/item-x/segment00000.ts", nil)
		Expect(segment.StatusCode).To(Equal(http.StatusOK))
		Expect(body(segment)).To(Equal("e2e-ts-payload"))
	})

	It("rejects spool requests with neither a map entry nor a sign", func() {
		g := startHLSGateway()

		resp := get(g.backend.URL+"/videos/item-unknown/master.m3u8", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		Expect(body(resp)).To(ContainSubstring("EmptySignature"))
	})
})
