package browser

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const searchPath = "/search_result"

// BuildSearchURL returns the search result page URL for keyword. Spaces are
// encoded as %20 so the page sees the same keyword a user would type.
func BuildSearchURL(base, keyword, source string, noteType int) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", base, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid base url %q: scheme and host required", base)
	}
	if strings.TrimSpace(keyword) == "" {
		return "", fmt.Errorf("keyword is required")
	}

	query := "keyword=" + escape(keyword) +
		"&source=" + escape(source) +
		"&type=" + strconv.Itoa(noteType)
	return u.Scheme + "://" + u.Host + u.Path + searchPath + "?" + query, nil
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
