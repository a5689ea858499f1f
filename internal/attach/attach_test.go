package attach

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExtractTextSkipsChrome(t *testing.T) {
	page := `<html><head><title>t</title><style>.x{}</style></head>
		<body><nav>menu</nav><script>alert(1)</script>
		<p>useful   content</p><footer>legal</footer></body></html>`

	got, err := ExtractText([]byte(page))
	if err != nil {
		t.Fatalf("ExtractText failed: %v", err)
	}
	if !strings.Contains(got, "useful content") {
		t.Errorf("text = %q, want body content", got)
	}
	for _, junk := range []string{"menu", "alert", "legal", ".x{}"} {
		if strings.Contains(got, junk) {
			t.Errorf("text contains %q, want it skipped", junk)
		}
	}
}

func TestFromFilePlainText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.md")
	if err := os.WriteFile(path, []byte("line one\n\nline   two\n"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	got, err := FromFile(path)
	if err != nil {
		t.Fatalf("FromFile failed: %v", err)
	}
	if got != "line one line two" {
		t.Errorf("FromFile = %q", got)
	}
}

func TestFromFileMissing(t *testing.T) {
	if _, err := FromFile(filepath.Join(t.TempDir(), "absent.txt")); err == nil {
		t.Error("FromFile on missing file succeeded")
	}
}

func TestFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>fetched text</p></body></html>`))
	}))
	t.Cleanup(srv.Close)

	got, err := FromURL(context.Background(), srv.Client(), srv.URL)
	if err != nil {
		t.Fatalf("FromURL failed: %v", err)
	}
	if got != "fetched text" {
		t.Errorf("FromURL = %q", got)
	}
}

func TestFromURLErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	if _, err := FromURL(context.Background(), srv.Client(), srv.URL); err == nil {
		t.Error("FromURL succeeded on a 500 response")
	}
}

func TestCleanBoundsWords(t *testing.T) {
	long := strings.Repeat("word ", maxWords+50)
	got := clean(long)
	if !strings.HasSuffix(got, "...") {
		t.Errorf("long text not truncated: ...%q", got[len(got)-10:])
	}
}
