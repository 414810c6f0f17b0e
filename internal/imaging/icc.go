package imaging

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"hash/crc32"
	"io"
	"sort"
)

// ICC profile handling works directly on the encoded container bytes. The
// stdlib codecs expose neither the profile on decode nor a way to attach one
// on encode, so the profile is lifted out of (and spliced back into) the
// JPEG APP2 segments and the PNG iCCP chunk here.

const jpegICCIdentifier = "ICC_PROFILE\x00"

// jpegExtractICC reassembles the ICC profile from a JPEG's APP2 segments.
// Returns nil when no profile is present.
func jpegExtractICC(data []byte) []byte {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return nil
	}
	type chunk struct {
		seq  int
		data []byte
	}
	var chunks []chunk

	i := 2
	for i+4 <= len(data) {
		if data[i] != 0xFF {
			break
		}
		marker := data[i+1]
		if marker == 0xFF { // fill byte
			i++
			continue
		}
		if marker == 0xD8 || (marker >= 0xD0 && marker <= 0xD7) || marker == 0x01 {
			i += 2
			continue
		}
		if marker == 0xDA || marker == 0xD9 { // start of scan / end of image
			break
		}
		segLen := int(data[i+2])<<8 | int(data[i+3])
		if segLen < 2 || i+2+segLen > len(data) {
			break
		}
		payload := data[i+4 : i+2+segLen]
		if marker == 0xE2 && len(payload) > len(jpegICCIdentifier)+2 &&
			string(payload[:len(jpegICCIdentifier)]) == jpegICCIdentifier {
			chunks = append(chunks, chunk{
				seq:  int(payload[len(jpegICCIdentifier)]),
				data: payload[len(jpegICCIdentifier)+2:],
			})
		}
		i += 2 + segLen
	}
	if len(chunks) == 0 {
		return nil
	}
	sort.Slice(chunks, func(a, b int) bool { return chunks[a].seq < chunks[b].seq })
	var out []byte
	for _, c := range chunks {
		out = append(out, c.data...)
	}
	return out
}

// jpegEmbedICC inserts profile as APP2 segments after any JFIF/EXIF headers.
// Input that does not look like a JPEG, or a profile too large for 255
// segments, is returned unchanged.
func jpegEmbedICC(data, profile []byte) []byte {
	if len(profile) == 0 || len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		return data
	}
	insert := 2
	for insert+4 <= len(data) {
		if data[insert] != 0xFF {
			break
		}
		marker := data[insert+1]
		if marker != 0xE0 && marker != 0xE1 {
			break
		}
		segLen := int(data[insert+2])<<8 | int(data[insert+3])
		if segLen < 2 || insert+2+segLen > len(data) {
			break
		}
		insert += 2 + segLen
	}

	// Segment length is a uint16 covering itself, the identifier and the
	// sequence bytes.
	const maxChunk = 65535 - 2 - len(jpegICCIdentifier) - 2
	total := (len(profile) + maxChunk - 1) / maxChunk
	if total > 255 {
		return data
	}

	var segs bytes.Buffer
	for idx := 0; idx < total; idx++ {
		start := idx * maxChunk
		end := start + maxChunk
		if end > len(profile) {
			end = len(profile)
		}
		part := profile[start:end]
		segLen := 2 + len(jpegICCIdentifier) + 2 + len(part)
		segs.WriteByte(0xFF)
		segs.WriteByte(0xE2)
		segs.WriteByte(byte(segLen >> 8))
		segs.WriteByte(byte(segLen))
		segs.WriteString(jpegICCIdentifier)
		segs.WriteByte(byte(idx + 1))
		segs.WriteByte(byte(total))
		segs.Write(part)
	}

	out := make([]byte, 0, len(data)+segs.Len())
	out = append(out, data[:insert]...)
	out = append(out, segs.Bytes()...)
	out = append(out, data[insert:]...)
	return out
}

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}

// pngExtractICC inflates the profile from the iCCP chunk, if any.
func pngExtractICC(data []byte) []byte {
	if !bytes.HasPrefix(data, pngSignature) {
		return nil
	}
	i := len(pngSignature)
	for i+8 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[i : i+4]))
		typ := string(data[i+4 : i+8])
		if length < 0 || i+8+length+4 > len(data) {
			return nil
		}
		if typ == "iCCP" {
			payload := data[i+8 : i+8+length]
			null := bytes.IndexByte(payload, 0)
			// A compression method byte follows the profile name.
			if null < 0 || null+2 > len(payload) || payload[null+1] != 0 {
				return nil
			}
			r, err := zlib.NewReader(bytes.NewReader(payload[null+2:]))
			if err != nil {
				return nil
			}
			profile, err := io.ReadAll(r)
			r.Close()
			if err != nil {
				return nil
			}
			return profile
		}
		if typ == "IDAT" || typ == "IEND" {
			return nil
		}
		i += 8 + length + 4
	}
	return nil
}

// pngEmbedICC inserts an iCCP chunk directly after IHDR. Input that does not
// look like a PNG is returned unchanged.
func pngEmbedICC(data, profile []byte) []byte {
	if len(profile) == 0 || !bytes.HasPrefix(data, pngSignature) {
		return data
	}
	// IHDR is always first: 4 length + 4 type + 13 data + 4 crc.
	insert := len(pngSignature) + 25
	if insert > len(data) {
		return data
	}

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(profile); err != nil {
		return data
	}
	if err := zw.Close(); err != nil {
		return data
	}

	payload := make([]byte, 0, 5+compressed.Len())
	payload = append(payload, []byte("icc")...) // profile name
	payload = append(payload, 0, 0)             // separator, deflate method
	payload = append(payload, compressed.Bytes()...)

	chunk := make([]byte, 0, len(payload)+12)
	var word [4]byte
	binary.BigEndian.PutUint32(word[:], uint32(len(payload)))
	chunk = append(chunk, word[:]...)
	chunk = append(chunk, []byte("iCCP")...)
	chunk = append(chunk, payload...)
	binary.BigEndian.PutUint32(word[:], crc32.ChecksumIEEE(chunk[4:]))
	chunk = append(chunk, word[:]...)

	out := make([]byte, 0, len(data)+len(chunk))
	out = append(out, data[:insert]...)
	out = append(out, chunk...)
	out = append(out, data[insert:]...)
	return out
}
