package cache

import (
	"crypto/rand"
	"encoding/binary"
	"hash/fnv"
)

// ComputeThreadID derives a stable thread id for an envelope, following
// the reference cache model's derivation order: prefer the first
// References entry when the message is a reply (has In-Reply-To and a
// non-empty References list), else fall back to the message's own
// Message-ID, else mint a random id for messages with no threading
// headers at all (e.g. malformed or synthetic messages).
func ComputeThreadID(inReplyTo, messageID string, references []string) string {
	if inReplyTo != "" && len(references) > 0 {
		return hashID(references[0])
	}
	if messageID != "" {
		return hashID(messageID)
	}
	return randomID()
}

func hashID(s string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return encodeUint64(h.Sum64())
}

func randomID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failure is unrecoverable on any real platform;
		// fall back to a zero id rather than panicking mid-sync.
		return encodeUint64(0)
	}
	return encodeUint64(binary.BigEndian.Uint64(b[:]))
}

func encodeUint64(v uint64) string {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	const hextable = "0123456789abcdef"
	out := make([]byte, 16)
	for i, c := range b {
		out[i*2] = hextable[c>>4]
		out[i*2+1] = hextable[c&0x0f]
	}
	return string(out)
}
