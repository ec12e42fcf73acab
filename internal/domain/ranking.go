package domain

import "sort"

// RanksBefore orders scored chunks: higher score first, then lower Seq,
// then DocID and ChunkID ascending.
func RanksBefore(a, b ScoredID) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	if a.DocID != b.DocID {
		return a.DocID < b.DocID
	}
	return a.ChunkID < b.ChunkID
}

// SortScored sorts ids in rank order.
func SortScored(ids []ScoredID) {
	sort.Slice(ids, func(i, j int) bool {
		return RanksBefore(ids[i], ids[j])
	})
}

// TopK sorts ids and truncates them to at most k entries.
func TopK(ids []ScoredID, k int) []ScoredID {
	SortScored(ids)
	if k >= 0 && len(ids) > k {
		ids = ids[:k]
	}
	return ids
}
