package services

import (
	"sort"

	"github.com/ajramos/mailsweep/internal/mail"
)

// BuildReferenceSet collects every Message-ID referenced by any record's
// In-Reply-To or References headers. The set is derived fresh per fetch
// pass and never mutated incrementally: a stale set directly causes wrong
// archive decisions.
func BuildReferenceSet(records []mail.Record) map[string]struct{} {
	refs := make(map[string]struct{})
	for i := range records {
		for _, id := range records[i].ReferencedIDs() {
			refs[id] = struct{}{}
		}
	}
	return refs
}

// ClassifySuperseded returns the record IDs whose own Message-ID appears in
// another scanned record's reference headers. This is a membership check,
// not thread reconstruction: a record is superseded even if the record
// referencing it was itself superseded later, and forked replies to one
// parent are each judged on their own Message-ID. Records with an empty
// Message-ID are never superseded and never supersede others.
func ClassifySuperseded(records []mail.Record) map[string]struct{} {
	refs := BuildReferenceSet(records)
	superseded := make(map[string]struct{})
	for i := range records {
		if records[i].MessageID == "" {
			continue
		}
		if _, ok := refs[records[i].MessageID]; ok {
			superseded[records[i].ID] = struct{}{}
		}
	}
	return superseded
}

// GroupDuplicates groups records sharing a Message-ID and returns only the
// groups with more than one record, ordered by descending group size with
// first-ingested first on ties. Within a group, records keep ingestion
// order, so the first record is the deterministic keeper. Records with an
// empty Message-ID never join a group.
func GroupDuplicates(records []mail.Record) []mail.DuplicateGroup {
	byID := make(map[string][]mail.Record)
	firstSeen := make(map[string]int)
	for i := range records {
		mid := records[i].MessageID
		if mid == "" {
			continue
		}
		if _, ok := firstSeen[mid]; !ok {
			firstSeen[mid] = i
		}
		byID[mid] = append(byID[mid], records[i])
	}

	groups := make([]mail.DuplicateGroup, 0)
	for mid, recs := range byID {
		if len(recs) < 2 {
			continue
		}
		groups = append(groups, mail.DuplicateGroup{MessageID: mid, Records: recs})
	}
	sort.SliceStable(groups, func(a, b int) bool {
		if len(groups[a].Records) != len(groups[b].Records) {
			return len(groups[a].Records) > len(groups[b].Records)
		}
		return firstSeen[groups[a].MessageID] < firstSeen[groups[b].MessageID]
	})
	return groups
}
