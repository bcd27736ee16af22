package upstream

import (
	"net/url"
)

// ReplaceQueryParam rewrites a single query parameter of rawURL,
// preserving all other parameters. Used to resume pagination with
// "give me everything after <watermark id>" semantics.
func ReplaceQueryParam(rawURL, key, value string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
