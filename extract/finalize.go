package extract

import "rankpool/models"

const DefaultTopN = 100

// Dedup collapses records sharing a native id, keeping the first occurrence
// and the original order. Records without an id are kept as they are; the
// normalizer skips them.
func Dedup(records []models.RawListing) []models.RawListing {
	seen := make(map[string]struct{}, len(records))
	out := make([]models.RawListing, 0, len(records))
	for _, r := range records {
		if r.NativeID != "" {
			if _, ok := seen[r.NativeID]; ok {
				continue
			}
			seen[r.NativeID] = struct{}{}
		}
		out = append(out, r)
	}
	return out
}

// Truncate caps records to the first n. n <= 0 means DefaultTopN.
func Truncate(records []models.RawListing, n int) []models.RawListing {
	if n <= 0 {
		n = DefaultTopN
	}
	if len(records) > n {
		return records[:n]
	}
	return records
}

// Finalize dedups then truncates.
func Finalize(records []models.RawListing, topN int) []models.RawListing {
	return Truncate(Dedup(records), topN)
}
