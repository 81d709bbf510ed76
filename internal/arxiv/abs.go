package arxiv

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Metadata is the record persisted as metadata.json.
type Metadata struct {
	Title          string   `json:"paper_title"`
	Authors        []string `json:"authors"`
	SubmissionDate string   `json:"submission_date"`
	RevisedDates   []string `json:"revised_dates"`
	Venue          string   `json:"publication_venue"`
}

// EmptyMetadata is the record used when the abstract page is unavailable.
func EmptyMetadata() Metadata {
	return Metadata{Authors: []string{}, RevisedDates: []string{}}
}

// Abstract is everything taken from one abstract page.
type Abstract struct {
	Metadata Metadata
	Versions []string
}

// DefaultVersions is used when no version can be discovered.
func DefaultVersions() []string {
	return []string{"v1"}
}

var (
	historyBlockRe = regexp.MustCompile(`(?is)Submission history(.*?)</div>`)
	historyTailRe  = regexp.MustCompile(`(?is)Submission history(.*)`)
	versionTagRe   = regexp.MustCompile(`\[v(\d+)\]`)
	versionDateRe  = regexp.MustCompile(`\[v(\d+)\]\s+([A-Za-z]{3},\s+\d{1,2}\s+[A-Za-z]{3}\s+\d{4})`)
	spaceRe        = regexp.MustCompile(`\s+`)
)

var dateLayouts = []string{"Mon, 2 Jan 2006", "2 Jan 2006"}

// ParseAbstract extracts metadata and the version list from abstract-page
// HTML. Missing elements leave their fields empty; the version list falls
// back to DefaultVersions.
func ParseAbstract(html string) (*Abstract, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parsing abstract page: %w", err)
	}

	md := EmptyMetadata()

	if h := doc.Find("h1.title").First(); h.Length() > 0 {
		md.Title = strings.TrimSpace(strings.Replace(collapse(h.Text()), "Title:", "", 1))
	}

	if div := doc.Find("div.authors").First(); div.Length() > 0 {
		div.Find("a").Each(func(_ int, a *goquery.Selection) {
			if name := collapse(a.Text()); name != "" {
				md.Authors = append(md.Authors, name)
			}
		})
		if len(md.Authors) == 0 {
			text := strings.Replace(div.Text(), "Authors:", "", 1)
			for _, part := range strings.Split(text, ",") {
				if name := collapse(part); name != "" {
					md.Authors = append(md.Authors, name)
				}
			}
		}
	}

	var history string
	if div := doc.Find("div.submission-history").First(); div.Length() > 0 {
		history = div.Text()
	} else if m := historyTailRe.FindStringSubmatch(html); m != nil {
		history = m[1]
	}
	md.RevisedDates = revisionDates(history)
	if len(md.RevisedDates) > 0 {
		md.SubmissionDate = md.RevisedDates[0]
	}

	md.Venue = collapse(doc.Find("span.primary-subject").First().Text())

	return &Abstract{Metadata: md, Versions: ParseVersions(html)}, nil
}

// ParseVersions returns the version tags listed in the submission history,
// sorted numerically and deduplicated.
func ParseVersions(html string) []string {
	block := html
	if m := historyBlockRe.FindStringSubmatch(html); m != nil {
		block = m[1]
	}

	seen := make(map[int]bool)
	var nums []int
	for _, m := range versionTagRe.FindAllStringSubmatch(block, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || seen[n] {
			continue
		}
		seen[n] = true
		nums = append(nums, n)
	}
	if len(nums) == 0 {
		return DefaultVersions()
	}
	sort.Ints(nums)

	versions := make([]string, len(nums))
	for i, n := range nums {
		versions[i] = "v" + strconv.Itoa(n)
	}
	return versions
}

// revisionDates returns the YYYY-MM-DD date of each version in version
// order, without repeats.
func revisionDates(history string) []string {
	type entry struct {
		version int
		date    string
	}
	var entries []entry
	for _, m := range versionDateRe.FindAllStringSubmatch(history, -1) {
		n, _ := strconv.Atoi(m[1])
		entries = append(entries, entry{n, collapse(m[2])})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].version < entries[j].version })

	dates := []string{}
	seen := make(map[string]bool)
	for _, e := range entries {
		t, ok := parseDate(e.date)
		if !ok {
			continue
		}
		d := t.Format("2006-01-02")
		if !seen[d] {
			seen[d] = true
			dates = append(dates, d)
		}
	}
	return dates
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func collapse(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
