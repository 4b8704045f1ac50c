package tags

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// ReadPNGMetadata walks the PNG chunk stream of the file at path and
// returns the text chunks (tEXt, iTXt, zTXt) keyed by chunk keyword,
// plus Width/Height from IHDR. A non-PNG file yields an empty map, not
// an error; only I/O failures are reported.
func ReadPNGMetadata(path string) (map[string]string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = fh.Close()
	}()
	return readPNGChunks(fh), nil
}

func readPNGChunks(r io.Reader) map[string]string {
	out := make(map[string]string)
	signature := make([]byte, 8)
	if _, err := io.ReadFull(r, signature); err != nil || !bytes.Equal(signature, pngSignature) {
		return out
	}
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			return out
		}
		length := binary.BigEndian.Uint32(header[:4])
		chunkType := string(header[4:8])
		data := make([]byte, length)
		if _, err := io.ReadFull(r, data); err != nil {
			return out
		}
		// CRC
		if _, err := io.CopyN(io.Discard, r, 4); err != nil {
			return out
		}

		switch chunkType {
		case "IHDR":
			if length >= 8 {
				out["Width"] = uitoa(binary.BigEndian.Uint32(data[0:4]))
				out["Height"] = uitoa(binary.BigEndian.Uint32(data[4:8]))
			}
		case "tEXt":
			key, value, ok := bytes.Cut(data, []byte{0})
			if ok {
				out[string(key)] = string(value)
			}
		case "iTXt":
			if key, text, ok := parseITXt(data); ok {
				out[key] = text
			}
		case "zTXt":
			key, rest, ok := bytes.Cut(data, []byte{0})
			if ok && len(rest) >= 1 {
				out[string(key)] = inflateOrRaw(rest[1:])
			}
		case "IEND":
			return out
		}
	}
}

// parseITXt decodes an iTXt chunk: keyword, compression flag and
// method, language tag, translated keyword, then the text payload.
func parseITXt(data []byte) (string, string, bool) {
	key, rest, ok := bytes.Cut(data, []byte{0})
	if !ok || len(rest) < 2 {
		return "", "", false
	}
	compressed := rest[0] != 0
	rest = rest[2:]
	if _, rest, ok = bytes.Cut(rest, []byte{0}); !ok {
		return "", "", false
	}
	if _, rest, ok = bytes.Cut(rest, []byte{0}); !ok {
		return "", "", false
	}
	if compressed {
		return string(key), inflateOrRaw(rest), true
	}
	return string(key), string(rest), true
}

func inflateOrRaw(data []byte) string {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return string(data)
	}
	defer func() {
		_ = zr.Close()
	}()
	inflated, err := io.ReadAll(zr)
	if err != nil {
		return string(data)
	}
	return string(inflated)
}

func uitoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// CommentMetadata decodes the JSON generation payload that NovelAI-style
// generators store under the Comment text chunk. Malformed JSON yields
// an empty map.
func CommentMetadata(chunks map[string]string) map[string]any {
	comment := chunks["Comment"]
	if comment == "" {
		return map[string]any{}
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(comment), &meta); err != nil {
		return map[string]any{}
	}
	return meta
}

// Collect extracts all tag records embedded in an image's text chunks:
// the Description block, the prompt and per-character captions from the
// Comment JSON (including the v4 caption layout), and the negative
// prompt sources. The result is deduplicated by (kind, norm), keeping
// the larger absolute weight, in first-seen order. It also returns the
// description text and the decoded Comment metadata.
func Collect(chunks map[string]string) ([]Record, string, map[string]any) {
	meta := CommentMetadata(chunks)

	type promptSource struct {
		text string
		kind string
	}
	var sources []promptSource
	description := ""
	if text, ok := chunks["Description"]; ok {
		description = text
		sources = append(sources, promptSource{text, KindDescription})
	}
	if prompt, ok := meta["prompt"].(string); ok {
		sources = append(sources, promptSource{prompt, KindPrompt})
	}
	if v4, ok := meta["v4_prompt"].(map[string]any); ok {
		base, chars := v4Captions(v4)
		if base != "" {
			sources = append(sources, promptSource{base, KindPrompt})
		}
		for _, cc := range chars {
			sources = append(sources, promptSource{cc, KindCharacter})
		}
	}

	var negatives []string
	if uc, ok := meta["uc"].(string); ok {
		negatives = append(negatives, uc)
	}
	if v4, ok := meta["v4_negative_prompt"].(map[string]any); ok {
		base, chars := v4Captions(v4)
		if base != "" {
			negatives = append(negatives, base)
		}
		negatives = append(negatives, chars...)
	}

	var groups [][]Record
	for _, src := range sources {
		kind := KindPrompt
		if src.kind == KindCharacter {
			kind = KindCharacter
		}
		groups = append(groups, Parse(src.text, kind))
	}
	for _, neg := range negatives {
		groups = append(groups, Parse(neg, KindNegative))
	}

	return Merge(groups...), description, meta
}

// v4Captions pulls the base caption and per-character captions out of a
// v4_prompt / v4_negative_prompt payload.
func v4Captions(v4 map[string]any) (string, []string) {
	caption, ok := v4["caption"].(map[string]any)
	if !ok {
		return "", nil
	}
	base, _ := caption["base_caption"].(string)
	var chars []string
	if list, ok := caption["char_captions"].([]any); ok {
		for _, item := range list {
			char, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if cc, ok := char["char_caption"].(string); ok && cc != "" {
				chars = append(chars, cc)
			}
		}
	}
	return base, chars
}
