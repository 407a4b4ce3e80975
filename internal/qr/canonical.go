// Package qr renders QR codes once per canonical URL and serves every later
// request for the same address from cache.
package qr

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/abdusco/linkpage/internal"
	"github.com/samber/lo"
	"github.com/spaolacci/murmur3"
)

var (
	hostLabel = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)
	topLevel  = regexp.MustCompile(`^(?:[a-z]{2,63}|xn--[a-z0-9-]{1,59})$`)
)

var trackingParams = map[string]bool{
	"gclid":   true,
	"fbclid":  true,
	"msclkid": true,
}

// Validate accepts absolute http(s) URLs whose host looks like a public DNS
// name. IP literals, single-label hosts and credentials are rejected.
func Validate(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", internal.ErrInvalidURL, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("%w: scheme must be http or https", internal.ErrInvalidURL)
	}
	if u.User != nil {
		return nil, fmt.Errorf("%w: credentials are not allowed", internal.ErrInvalidURL)
	}

	host := strings.ToLower(u.Hostname())
	labels := strings.Split(host, ".")
	if len(host) > 253 || len(labels) < 2 {
		return nil, fmt.Errorf("%w: %q is not a domain name", internal.ErrInvalidURL, host)
	}
	for _, label := range labels {
		if !hostLabel.MatchString(label) {
			return nil, fmt.Errorf("%w: %q is not a domain name", internal.ErrInvalidURL, host)
		}
	}
	if !topLevel.MatchString(labels[len(labels)-1]) {
		return nil, fmt.Errorf("%w: %q is not a domain name", internal.ErrInvalidURL, host)
	}
	return u, nil
}

// Canonicalize maps equivalent URLs to one string: https, lowercase host,
// no default port, no tracking parameters, sorted query, no trailing slash
// and no fragment. Canonicalize(Canonicalize(u)) == Canonicalize(u).
func Canonicalize(raw string) (string, error) {
	u, err := Validate(raw)
	if err != nil {
		return "", err
	}

	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && port != "443" && port != "80" {
		host += ":" + port
	}

	canonical := url.URL{
		Scheme:   "https",
		Host:     host,
		Path:     strings.TrimRight(u.Path, "/"),
		RawPath:  strings.TrimRight(u.RawPath, "/"),
		RawQuery: canonicalQuery(u.RawQuery),
	}
	return canonical.String(), nil
}

// canonicalQuery drops tracking parameters and sorts what is left. Kept
// pairs are copied byte for byte, so pairs that do not decode still tell
// two addresses apart.
func canonicalQuery(raw string) string {
	pairs := lo.Filter(strings.Split(raw, "&"), func(pair string, _ int) bool {
		return pair != "" && !isTrackingParam(pair)
	})
	slices.Sort(pairs)
	return strings.Join(pairs, "&")
}

func isTrackingParam(pair string) bool {
	name, _, _ := strings.Cut(pair, "=")
	if decoded, err := url.QueryUnescape(name); err == nil {
		name = decoded
	}
	name = strings.ToLower(name)
	return strings.HasPrefix(name, "utm_") || trackingParams[name]
}

// ContentHash is the content address of a canonical URL: the first 12 bytes
// of its 128-bit murmur3 hash, base64url encoded into 16 characters.
func ContentHash(canonical string) string {
	h1, h2 := murmur3.Sum128([]byte(canonical))

	var sum [16]byte
	binary.BigEndian.PutUint64(sum[:8], h1)
	binary.BigEndian.PutUint64(sum[8:], h2)
	return base64.RawURLEncoding.EncodeToString(sum[:12])
}

// Variant names one rendering of a content address, e.g. AbC..._256.png.
func Variant(hash string, size int, format internal.QRFormat) string {
	return fmt.Sprintf("%s_%d.%s", hash, size, format)
}
