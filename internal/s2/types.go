package s2

// S2Paper is the subset of a Graph API paper response that is requested.
type S2Paper struct {
	PaperID    string        `json:"paperId"`
	Venue      string        `json:"venue"`
	References []S2Reference `json:"references"`
}

// S2Reference is one entry of a paper's reference list.
type S2Reference struct {
	PaperID     string         `json:"paperId"`
	Title       string         `json:"title"`
	Year        int            `json:"year"`
	Authors     []S2Author     `json:"authors"`
	ExternalIDs map[string]any `json:"externalIds"`
}

// S2Author is an author on a reference.
type S2Author struct {
	AuthorID string `json:"authorId"`
	Name     string `json:"name"`
}

// Reference is the record persisted in references.json.
type Reference struct {
	Title          string   `json:"paper_title"`
	Authors        []string `json:"authors"`
	SubmissionDate string   `json:"submission_date"`
	S2ID           string   `json:"semantic_scholar_id"`
}

// Result is what a lookup yields for one item.
type Result struct {
	Venue      string
	References map[string]Reference
}

// Empty returns the result used when no data is available.
func Empty() Result {
	return Result{References: map[string]Reference{}}
}
