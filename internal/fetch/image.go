package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/jonathan/style-forge/internal/types"
)

// imageSelectors are tried in order against a product page.
var imageSelectors = []struct {
	selector string
	attr     string
}{
	{`meta[property="og:image:secure_url"]`, "content"},
	{`meta[property="og:image"]`, "content"},
	{`meta[name="twitter:image"]`, "content"},
	{`link[rel="image_src"]`, "href"},
	{`main img[src]`, "src"},
	{`article img[src]`, "src"},
	{`img[src]`, "src"},
}

// Image downloads a source image. When urlStr serves an HTML page, the page's
// advertised image (Open Graph, Twitter card, or first <img>) is fetched instead.
// Only one level of indirection is followed.
func Image(ctx context.Context, urlStr string, opts *Options) (types.Artifact, error) {
	result, err := URL(ctx, urlStr, opts)
	if err != nil {
		return types.Artifact{}, err
	}

	if result.IsHTML() || looksLikeHTML(result.Body) {
		imageURL, err := ExtractImageURL(result.Body, urlStr)
		if err != nil {
			return types.Artifact{}, &Error{URL: urlStr, Message: "no image found on page", Cause: err}
		}
		result, err = URL(ctx, imageURL, opts)
		if err != nil {
			return types.Artifact{}, err
		}
	}

	return toArtifact(result)
}

// ExtractImageURL returns the absolute URL of the most prominent image in page.
func ExtractImageURL(page []byte, baseURL string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	for _, s := range imageSelectors {
		var found string
		doc.Find(s.selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			val, ok := sel.Attr(s.attr)
			val = strings.TrimSpace(val)
			if !ok || val == "" || strings.HasPrefix(val, "data:") {
				return true
			}
			ref, err := url.Parse(val)
			if err != nil {
				return true
			}
			found = base.ResolveReference(ref).String()
			return false
		})
		if found != "" {
			return found, nil
		}
	}
	return "", fmt.Errorf("page has no image reference")
}

func toArtifact(result *Result) (types.Artifact, error) {
	if len(result.Body) == 0 {
		return types.Artifact{}, &Error{URL: result.URL, Message: "empty response body"}
	}

	mimeType := strings.TrimSpace(strings.Split(result.ContentType, ";")[0])
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(result.Body)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return types.Artifact{}, &Error{
			URL:     result.URL,
			Message: fmt.Sprintf("not an image (content type %q)", mimeType),
		}
	}
	return types.NewArtifact(result.Body, mimeType), nil
}

func looksLikeHTML(body []byte) bool {
	return strings.HasPrefix(http.DetectContentType(body), "text/html")
}
