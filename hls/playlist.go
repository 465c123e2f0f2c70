// Package hls parses media playlists and decrypts their segments.
package hls

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"

	"github.com/pahedl-app/pahedl/errs"
	"github.com/samber/mo"
)

// SegmentRef is one media segment in playlist order. Index is the
// authoritative ordering key for decryption IVs and assembly.
type SegmentRef struct {
	Index int
	URI   string
}

// KeyInfo describes the AES-128 encryption declared by the playlist. IV is
// nil when the tag carries none; the per-segment default applies then.
type KeyInfo struct {
	Method string
	URI    string
	IV     []byte
}

// MediaPlaylist is the parsed form of one media playlist. Segment order is
// the concatenation order and must be preserved.
type MediaPlaylist struct {
	Segments      []SegmentRef
	Key           mo.Option[KeyInfo]
	TotalDuration mo.Option[float64]
}

// Encrypted reports whether segments require decryption.
func (p *MediaPlaylist) Encrypted() bool {
	return p.Key.IsPresent()
}

// DefaultIV returns the IV used when the key tag declares none: the 16-byte
// big-endian encoding of the segment index.
func DefaultIV(index int) []byte {
	iv := make([]byte, 16)
	binary.BigEndian.PutUint64(iv[8:], uint64(index))
	return iv
}

// Parse decodes a media playlist body. Relative segment and key URIs are
// resolved against the playlist URL. Exactly one EXT-X-KEY tag is honoured;
// EXT-X-ENDLIST is required; EXT-X-BYTERANGE is rejected as the engine only
// performs whole-segment fetches.
func Parse(body []byte, playlistURL string) (*MediaPlaylist, error) {
	base, err := url.Parse(playlistURL)
	if err != nil {
		return nil, errs.New(errs.ParseError, "playlist URL: %v", err)
	}

	playlist := &MediaPlaylist{}
	var (
		duration   float64
		hasInf     bool
		hasEndlist bool
	)

	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue

		case strings.HasPrefix(line, "#EXT-X-ENDLIST"):
			hasEndlist = true

		case strings.HasPrefix(line, "#EXT-X-BYTERANGE"):
			return nil, errs.New(errs.UnsupportedFeature, "byte-range playlists are not supported")

		case strings.HasPrefix(line, "#EXT-X-KEY:"):
			key, err := parseKey(line[len("#EXT-X-KEY:"):], base)
			if err != nil {
				return nil, err
			}
			if key != nil && playlist.Key.IsAbsent() {
				playlist.Key = mo.Some(*key)
			}

		case strings.HasPrefix(line, "#EXTINF:"):
			value := strings.SplitN(line[len("#EXTINF:"):], ",", 2)[0]
			if seconds, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
				duration += seconds
				hasInf = true
			}

		case strings.HasPrefix(line, "#"):
			// Unrecognized tags are ignored.

		default:
			uri, err := resolve(base, line)
			if err != nil {
				return nil, errs.New(errs.ParseError, "segment URI %q: %v", line, err)
			}
			playlist.Segments = append(playlist.Segments, SegmentRef{
				Index: len(playlist.Segments),
				URI:   uri,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.Wrap(errs.ParseError, err)
	}

	if !hasEndlist {
		return nil, errs.New(errs.ParseError, "live or partial playlist")
	}
	if len(playlist.Segments) == 0 {
		return nil, errs.New(errs.ParseError, "no segments in playlist")
	}
	if hasInf {
		playlist.TotalDuration = mo.Some(duration)
	}

	return playlist, nil
}

// parseKey decodes one EXT-X-KEY attribute list. METHOD=NONE yields no key;
// methods other than AES-128 are unsupported.
func parseKey(attrs string, base *url.URL) (*KeyInfo, error) {
	values := parseAttributes(attrs)

	method := values["METHOD"]
	switch method {
	case "NONE":
		return nil, nil
	case "AES-128":
	default:
		return nil, errs.New(errs.UnsupportedFeature, "encryption method %q", method)
	}

	rawURI := values["URI"]
	if rawURI == "" {
		return nil, errs.New(errs.ParseError, "EXT-X-KEY without URI")
	}
	uri, err := resolve(base, rawURI)
	if err != nil {
		return nil, errs.New(errs.ParseError, "key URI %q: %v", rawURI, err)
	}

	key := &KeyInfo{Method: method, URI: uri}
	if rawIV := values["IV"]; rawIV != "" {
		trimmed := strings.TrimPrefix(strings.TrimPrefix(rawIV, "0x"), "0X")
		iv, err := hex.DecodeString(trimmed)
		if err != nil || len(iv) != 16 {
			return nil, errs.New(errs.ParseError, "malformed IV %q", rawIV)
		}
		key.IV = iv
	}
	return key, nil
}

// parseAttributes splits a comma-separated attribute list, honouring quoted
// values which may themselves contain commas.
func parseAttributes(input string) map[string]string {
	out := make(map[string]string)
	for len(input) > 0 {
		eq := strings.IndexByte(input, '=')
		if eq < 0 {
			break
		}
		name := strings.TrimSpace(input[:eq])
		rest := input[eq+1:]

		var value string
		if strings.HasPrefix(rest, `"`) {
			end := strings.IndexByte(rest[1:], '"')
			if end < 0 {
				value = rest[1:]
				rest = ""
			} else {
				value = rest[1 : 1+end]
				rest = rest[2+end:]
			}
			rest = strings.TrimPrefix(rest, ",")
		} else if comma := strings.IndexByte(rest, ','); comma >= 0 {
			value = rest[:comma]
			rest = rest[comma+1:]
		} else {
			value = rest
			rest = ""
		}

		out[name] = value
		input = rest
	}
	return out
}

func resolve(base *url.URL, ref string) (string, error) {
	parsed, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(parsed).String(), nil
}
