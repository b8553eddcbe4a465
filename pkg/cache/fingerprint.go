// Package cache holds the two bounded caches on the injection path.
//
// ConversationCache is an O(1) LRU keyed by a coarse Fingerprint of who is
// talking to whom in what mood. PromptCache keeps assembled injection text
// and stays valid while the memory and knowledge counts drift by no more
// than a small tolerance. Both measure age in simulation ticks and are safe
// for concurrent use.
package cache

import (
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/oceanbase/colonymem/pkg/host"
	"github.com/oceanbase/colonymem/pkg/textutil"
)

// DefaultFingerprintKeywords is the number of context keywords hashed by
// ContextFingerprint.
const DefaultFingerprintKeywords = 8

// Fingerprint is the conversation cache key. Mood and relationship are
// bucketed so that small state changes keep hitting the same entry.
type Fingerprint struct {
	Speaker        string
	Listener       string
	MoodBucket     int
	RelationBucket int
}

// MoodBucket maps a mood in [0,1] to one of five buckets, 0 to 4. Values
// outside the range are clamped.
func MoodBucket(mood float64) int {
	if mood != mood || mood <= 0 {
		return 0
	}
	b := int(mood * 5)
	if b > 4 {
		b = 4
	}
	return b
}

// OpinionBucket maps an opinion in -100..100 to one of five buckets, -2 to 2.
func OpinionBucket(opinion int) int {
	switch {
	case opinion <= -60:
		return -2
	case opinion <= -20:
		return -1
	case opinion < 20:
		return 0
	case opinion < 60:
		return 1
	default:
		return 2
	}
}

// FingerprintFor builds the fingerprint of speaker addressing listener from
// host state. Missing host data falls into the neutral buckets.
func FingerprintFor(q host.StateQuery, speaker, listener string) Fingerprint {
	fp := Fingerprint{Speaker: speaker, Listener: listener, MoodBucket: MoodBucket(0.5)}
	if mood, ok := host.MoodOf(q, speaker); ok {
		fp.MoodBucket = MoodBucket(mood)
	}
	if rel, ok := host.RelationshipOf(q, speaker, listener); ok {
		fp.RelationBucket = OpinionBucket(rel.Opinion)
	}
	return fp
}

// ContextFingerprint hashes the sorted top n keywords of text. Texts that
// differ only in stop words, case or punctuation share a fingerprint.
// n <= 0 means DefaultFingerprintKeywords.
func ContextFingerprint(text string, n int) uint64 {
	if n <= 0 {
		n = DefaultFingerprintKeywords
	}
	return xxhash.Sum64String(strings.Join(textutil.Keywords(text, n), "\x00"))
}
