// Package mediafile derives stable on-disk names for sideloaded media.
package mediafile

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
)

const hashLen = 16

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Name returns the path, relative to the media directory, for remoteURL attached to recordID.
// The same record and URL always yield the same name, so re-importing a document overwrites
// its earlier copy instead of accumulating files. The URL's base name is kept as a readable
// suffix.
func Name(recordID int64, remoteURL string) string {
	hash := sha256.Sum256([]byte(remoteURL))
	prefix := hex.EncodeToString(hash[:])[:hashLen]
	dir := "r" + strconv.FormatInt(recordID, 10)
	return path.Join(dir, prefix+"-"+BaseName(remoteURL))
}

// BaseName returns a filesystem-safe version of the last path segment of rawURL,
// or "file" when there is none.
func BaseName(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	base := path.Base(p)
	if base == "." || base == "/" || base == "" {
		return "file"
	}
	base = unsafeChars.ReplaceAllString(base, "_")
	base = strings.Trim(base, "._")
	if base == "" {
		return "file"
	}
	return base
}
