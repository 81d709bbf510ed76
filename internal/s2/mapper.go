package s2

import (
	"regexp"
	"strconv"
	"strings"
)

var versionSuffix = regexp.MustCompile(`v\d+$`)

// ReferenceKey normalizes an arXiv identifier into the dash-joined key used
// in references.json: "2101.00001v2" becomes "2101-00001". Old-style IDs
// without a dot keep their form, minus any version suffix.
func ReferenceKey(arxivID string) string {
	base := versionSuffix.ReplaceAllString(strings.TrimSpace(arxivID), "")
	if parts := strings.Split(base, "."); len(parts) >= 2 {
		return parts[0] + "-" + parts[1]
	}
	return base
}

// arxivExternalID returns the ArXiv external id of a reference, accepting
// either capitalisation the API has used. Other ids (CorpusId) are numbers.
func arxivExternalID(ids map[string]any) string {
	for _, key := range []string{"ArXiv", "arXiv"} {
		if id, ok := ids[key].(string); ok && id != "" {
			return id
		}
	}
	return ""
}

// MapReferences converts the API reference list into persisted records keyed
// by ReferenceKey. References without an arXiv identifier are skipped.
func MapReferences(refs []S2Reference) map[string]Reference {
	out := make(map[string]Reference, len(refs))
	for _, ref := range refs {
		id := arxivExternalID(ref.ExternalIDs)
		if id == "" {
			continue
		}

		authors := make([]string, 0, len(ref.Authors))
		for _, a := range ref.Authors {
			if name := strings.TrimSpace(a.Name); name != "" {
				authors = append(authors, name)
			}
		}

		var date string
		if ref.Year > 0 {
			date = strconv.Itoa(ref.Year) + "-01-01"
		}

		out[ReferenceKey(id)] = Reference{
			Title:          ref.Title,
			Authors:        authors,
			SubmissionDate: date,
			S2ID:           ref.PaperID,
		}
	}
	return out
}
