// Package attach turns local files and web pages into plain-text conversation
// context for a search request.
package attach

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

const (
	maxFetchSize = 5 << 20 // 5MB
	maxWords     = 2000
	fetchTimeout = 10 * time.Second
)

// FromFile extracts plain text from a local file. PDF files are parsed; any
// other file is read as-is.
func FromFile(path string) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return fromPDF(path)
	}
	data, err := readLimited(path)
	if err != nil {
		return "", err
	}
	return clean(string(data)), nil
}

func fromPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	text, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, text); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return clean(buf.String()), nil
}

// FromURL fetches a page and extracts its visible text, skipping script,
// style and chrome elements.
func FromURL(ctx context.Context, client *http.Client, rawURL string) (string, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("url returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchSize))
	if err != nil {
		return "", fmt.Errorf("reading url response: %w", err)
	}
	return ExtractText(body)
}

// ExtractText pulls the visible text out of an HTML document.
func ExtractText(htmlContent []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(htmlContent))
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}
	return clean(bodyText(doc)), nil
}

func bodyText(n *html.Node) string {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "script", "style", "nav", "footer", "header", "aside":
			return ""
		}
	}

	var text strings.Builder
	if n.Type == html.TextNode {
		text.WriteString(n.Data)
		text.WriteString(" ")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		text.WriteString(bodyText(c))
	}
	return text.String()
}

// clean collapses whitespace and bounds the result so one attachment cannot
// dominate the request payload.
func clean(text string) string {
	words := strings.Fields(text)
	if len(words) > maxWords {
		words = append(words[:maxWords:maxWords], "...")
	}
	return strings.Join(words, " ")
}

func readLimited(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	if len(data) > maxFetchSize {
		data = data[:maxFetchSize]
	}
	return data, nil
}
