// Package signing derives the platform's rotating request-signing key and
// signs parameter sets with it.
package signing

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// ErrShortKeyMaterial is returned when the key fragments are too short to
// be permuted.
var ErrShortKeyMaterial = errors.New("signing: key material shorter than 64 characters")

var mixinKeyEncTab = [64]int{
	46, 47, 18, 2, 53, 8, 23, 32, 15, 50, 10, 31, 58, 3, 45, 35,
	27, 43, 5, 49, 33, 9, 42, 19, 29, 28, 14, 39, 12, 38, 41, 13,
	37, 48, 7, 16, 24, 55, 40, 61, 26, 17, 0, 1, 60, 51, 30, 4,
	22, 25, 54, 21, 56, 59, 6, 63, 57, 62, 11, 36, 20, 34, 44, 52,
}

const mixinKeyLen = 32

// MixinKey permutes imgKey+subKey through the fixed table and keeps the
// first 32 characters.
func MixinKey(imgKey, subKey string) (string, error) {
	raw := imgKey + subKey
	if len(raw) < len(mixinKeyEncTab) {
		return "", ErrShortKeyMaterial
	}
	var b strings.Builder
	b.Grow(mixinKeyLen)
	for _, i := range mixinKeyEncTab[:mixinKeyLen] {
		b.WriteByte(raw[i])
	}
	return b.String(), nil
}

// Sign returns params plus wts (now, unix seconds) and w_rid, the md5 of the
// sorted, escaped query string followed by key. The input map is not
// modified. Values are stringified and stripped of !'()*.
func Sign(params map[string]any, key string, now time.Time) url.Values {
	values := make(map[string]string, len(params)+1)
	for k, v := range params {
		values[k] = stripReserved(cast.ToString(v))
	}
	values["wts"] = strconv.FormatInt(now.Unix(), 10)

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var query strings.Builder
	for i, k := range keys {
		if i > 0 {
			query.WriteByte('&')
		}
		query.WriteString(escape(k))
		query.WriteByte('=')
		query.WriteString(escape(values[k]))
	}
	sum := md5.Sum([]byte(query.String() + key))

	out := make(url.Values, len(values)+1)
	for k, v := range values {
		out.Set(k, v)
	}
	out.Set("w_rid", hex.EncodeToString(sum[:]))
	return out
}

func stripReserved(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '!', '\'', '(', ')', '*':
			return -1
		}
		return r
	}, s)
}

// escape matches the browser's encodeURIComponent for the characters left
// after stripReserved.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// keyFromURL returns the file stem of a key fragment URL.
func keyFromURL(raw string) string {
	if i := strings.LastIndexByte(raw, '/'); i >= 0 {
		raw = raw[i+1:]
	}
	if i := strings.IndexByte(raw, '.'); i >= 0 {
		raw = raw[:i]
	}
	return raw
}
