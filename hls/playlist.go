package hls

import (
	"fmt"
	"strconv"
	"strings"
)

// Fallback when the container does not report an overall bit rate. With
// a single variant the value only feeds player buffering heuristics.
const defaultBandwidth = 2_000_000

// MasterPlaylist renders the master playlist for a probed source: one
// variant stream pointing at video.m3u8, an alternative-rendition entry
// per audio track (the first one default), and one per subtitle track.
func MasterPlaylist(res *ProbeResult) []byte {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	audio := res.StreamsByType("audio")
	for i, s := range audio {
		def := "NO"
		if i == 0 {
			def = "YES"
		}
		b.WriteString(fmt.Sprintf(
			"#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID=\"audio\",NAME=%q,DEFAULT=%s,AUTOSELECT=YES",
			trackName(s, "Audio", i), def))
		if s.Tags.Language != "" {
			b.WriteString(fmt.Sprintf(",LANGUAGE=%q", s.Tags.Language))
		}
		b.WriteString("\n")
	}

	subs := res.StreamsByType("subtitle")
	for i, s := range subs {
		b.WriteString(fmt.Sprintf(
			"#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID=\"subs\",NAME=%q,DEFAULT=NO,AUTOSELECT=YES",
			trackName(s, "Subtitle", i)))
		if s.Tags.Language != "" {
			b.WriteString(fmt.Sprintf(",LANGUAGE=%q", s.Tags.Language))
		}
		b.WriteString(fmt.Sprintf(",URI=\"subtitle_%d.m3u8\"\n", i))
	}

	b.WriteString(fmt.Sprintf("#EXT-X-STREAM-INF:BANDWIDTH=%d", bandwidth(res)))
	if len(audio) > 0 {
		b.WriteString(",AUDIO=\"audio\"")
	}
	if len(subs) > 0 {
		b.WriteString(",SUBTITLES=\"subs\"")
	}
	b.WriteString("\nvideo.m3u8\n")
	return []byte(b.String())
}

func trackName(s ProbeStream, kind string, i int) string {
	name := s.Tags.Title
	if name == "" {
		name = s.Tags.Language
	}
	if name == "" {
		name = fmt.Sprintf("%s %d", kind, i+1)
	}
	return strings.ReplaceAll(name, `"`, "'")
}

func bandwidth(res *ProbeResult) int {
	if v, err := strconv.Atoi(res.Format.BitRate); err == nil && v > 0 {
		return v
	}
	return defaultBandwidth
}
