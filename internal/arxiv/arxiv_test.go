package arxiv

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/matsen/texharvest/internal/fetch"
)

const absFixture = `<!DOCTYPE html>
<html><body>
<div id="abs">
  <h1 class="title mathjax"><span class="descriptor">Title:</span>
    Sparse   Attention for
    Long Documents</h1>
  <div class="authors"><span class="descriptor">Authors:</span>
    <a href="/a/doe_j_1">Jane Doe</a>, <a href="/a/roe_r_1">Richard Roe</a>
  </div>
  <table><tr><td class="tablecell subjects">
    <span class="primary-subject">Machine Learning (cs.LG)</span>
  </td></tr></table>
</div>
<div class="submission-history">
  <h2>Submission history</h2> From: Jane Doe<br/>
  <strong><a href="/abs/2412.15272v1">[v1]</a></strong> Thu, 19 Dec 2024 18:59:06 UTC (1,234 KB)<br/>
  <strong><a href="/abs/2412.15272v3">[v3]</a></strong> Mon, 3 Feb 2025 09:00:00 UTC (1,300 KB)<br/>
  <strong><a href="/abs/2412.15272v2">[v2]</a></strong> Thu, 19 Dec 2024 21:00:00 UTC (1,240 KB)<br/>
</div>
</body></html>`

func TestParseAbstract(t *testing.T) {
	abs, err := ParseAbstract(absFixture)
	if err != nil {
		t.Fatalf("ParseAbstract() error = %v", err)
	}
	md := abs.Metadata

	if md.Title != "Sparse Attention for Long Documents" {
		t.Errorf("Title = %q", md.Title)
	}
	if want := []string{"Jane Doe", "Richard Roe"}; !reflect.DeepEqual(md.Authors, want) {
		t.Errorf("Authors = %v, want %v", md.Authors, want)
	}
	if want := []string{"2024-12-19", "2025-02-03"}; !reflect.DeepEqual(md.RevisedDates, want) {
		t.Errorf("RevisedDates = %v, want %v", md.RevisedDates, want)
	}
	if md.SubmissionDate != "2024-12-19" {
		t.Errorf("SubmissionDate = %q, want 2024-12-19", md.SubmissionDate)
	}
	if md.Venue != "Machine Learning (cs.LG)" {
		t.Errorf("Venue = %q", md.Venue)
	}
	if want := []string{"v1", "v2", "v3"}; !reflect.DeepEqual(abs.Versions, want) {
		t.Errorf("Versions = %v, want %v", abs.Versions, want)
	}
}

func TestParseAbstract_AuthorsWithoutLinks(t *testing.T) {
	html := `<div class="authors">Authors: Ada Lovelace,  Charles Babbage ,</div>`
	abs, err := ParseAbstract(html)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"Ada Lovelace", "Charles Babbage"}; !reflect.DeepEqual(abs.Metadata.Authors, want) {
		t.Errorf("Authors = %v, want %v", abs.Metadata.Authors, want)
	}
}

func TestParseAbstract_Empty(t *testing.T) {
	abs, err := ParseAbstract("<html><body>nothing here</body></html>")
	if err != nil {
		t.Fatal(err)
	}
	if abs.Metadata.Title != "" || len(abs.Metadata.Authors) != 0 || abs.Metadata.SubmissionDate != "" {
		t.Errorf("Metadata = %+v, want empty", abs.Metadata)
	}
	if abs.Metadata.Authors == nil || abs.Metadata.RevisedDates == nil {
		t.Error("empty lists must be non-nil so they encode as []")
	}
	if !reflect.DeepEqual(abs.Versions, []string{"v1"}) {
		t.Errorf("Versions = %v, want [v1]", abs.Versions)
	}
}

func TestParseVersions(t *testing.T) {
	tests := []struct {
		name string
		html string
		want []string
	}{
		{"none", "<p>no history</p>", []string{"v1"}},
		{"block only", "[v9] outside <div>Submission history [v2] [v1]</div> [v7]", []string{"v1", "v2"}},
		{"no block falls back to page", "[v2] and [v1] and [v2]", []string{"v1", "v2"}},
		{"numeric order", "Submission history [v10] [v9]</div>", []string{"v9", "v10"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseVersions(tt.html); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseVersions() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDashedID(t *testing.T) {
	if got := DashedID("2412.15272"); got != "2412-15272" {
		t.Errorf("DashedID() = %q", got)
	}
}

func TestValidID(t *testing.T) {
	for id, want := range map[string]bool{
		"2412.15272": true,
		"0704.0001":  true,
		"2412-15272": false,
		"hep-th/01":  false,
		"":           false,
	} {
		if got := ValidID(id); got != want {
			t.Errorf("ValidID(%q) = %v, want %v", id, got, want)
		}
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	f :=fetch.NewClient(fetch.WithPolicy(fetch.RetryPolicy{MaxAttempts: 1}))
	return NewClient(f, WithBaseURL(srv.URL))
}

func TestClient_Abstract(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/abs/2412.15272" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(absFixture))
	})

	abs, err := c.Abstract(context.Background(), "2412.15272")
	if err != nil {
		t.Fatalf("Abstract() error = %v", err)
	}
	if len(abs.Versions) != 3 {
		t.Errorf("Versions = %v", abs.Versions)
	}
}

func TestClient_AbstractFailureDefaults(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	abs, err := c.Abstract(context.Background(), "2412.15272")
	if err == nil {
		t.Fatal("Abstract() error = nil, want error")
	}
	if abs == nil || !reflect.DeepEqual(abs.Versions, []string{"v1"}) {
		t.Errorf("Abstract() fallback = %+v, want v1 default", abs)
	}
}

func TestClient_DownloadEprintFallsBackToBareID(t *testing.T) {
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/e-print/2412.15272" {
			w.Write([]byte("artifact"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	dir := t.TempDir()
	path, err := c.DownloadEprint(context.Background(), "2412.15272", "v2", dir)
	if err != nil {
		t.Fatalf("DownloadEprint() error = %v", err)
	}
	if want := filepath.Join(dir, "2412-15272v2.tar.gz"); path != want {
		t.Errorf("DownloadEprint() path = %q, want %q", path, want)
	}
	if data, _ := os.ReadFile(path); string(data) != "artifact" {
		t.Errorf("downloaded content = %q", data)
	}
	if want := []string{"/e-print/2412.15272v2", "/e-print/2412.15272"}; !reflect.DeepEqual(paths, want) {
		t.Errorf("requested paths = %v, want %v", paths, want)
	}
}

func TestClient_DownloadEprintUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	dir := t.TempDir()
	_, err := c.DownloadEprint(context.Background(), "2412.15272", "v1", dir)
	if !errors.Is(err, fetch.ErrUnavailable) {
		t.Errorf("DownloadEprint() error = %v, want ErrUnavailable", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("download dir not empty: %v", entries)
	}
}
