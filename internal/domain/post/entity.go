package post

import (
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// AuthorMeta carries author attributes used by the scoring engine
type AuthorMeta struct {
	Followers int64 `json:"followers"`
	Verified  bool  `json:"verified"`
	Likes     int64 `json:"likes"`
	Reposts   int64 `json:"reposts"`
	Replies   int64 `json:"replies"`
	Views     int64 `json:"views"`
}

// RawPost is a post as delivered by the acquisition producer.
// It is consumed exactly once by a cleaning worker and never persisted.
type RawPost struct {
	ID        string     `json:"id"`
	Text      string     `json:"text"`
	AuthorID  string     `json:"author_id"`
	Author    AuthorMeta `json:"author_meta"`
	Timestamp time.Time  `json:"timestamp"`
	Tags      []string   `json:"tags"`
}

// CleanPost is a RawPost that passed validation and deduplication.
// Fingerprint is the dedup key; two CleanPosts never share one downstream.
type CleanPost struct {
	ID          string     `json:"id"`
	Text        string     `json:"text"`
	AuthorID    string     `json:"author_id"`
	Author      AuthorMeta `json:"author_meta"`
	Timestamp   time.Time  `json:"timestamp"`
	Tags        []string   `json:"tags"`
	Fingerprint string     `json:"fingerprint"`
	ProcessedAt time.Time  `json:"processed_at"`
}

// Key returns the instrument key this post is aggregated under.
// The primary tag wins; fallback keeps untagged traffic in one window.
func (p *CleanPost) Key(fallback string) string {
	if len(p.Tags) > 0 && p.Tags[0] != "" {
		return strings.ToLower(p.Tags[0])
	}
	return fallback
}

// Fingerprint computes the dedup fingerprint for normalized text.
// Including the author id keeps identical text from different accounts
// (coordinated posting) distinguishable.
func Fingerprint(normalizedText, authorID string) string {
	h := xxhash.New()
	h.WriteString(normalizedText)
	h.WriteString("\x00")
	h.WriteString(authorID)
	return strconv.FormatUint(h.Sum64(), 16)
}
