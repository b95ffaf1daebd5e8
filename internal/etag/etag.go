// Package etag computes the composite multi-part ETag S3 uses: the MD5 of
// the concatenated raw part digests, followed by the part count.
package etag

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

// Multipart computes the composite ETag from an ordered sequence of
// hex-encoded per-part MD5 digests. The result is wrapped in double quotes,
// matching S3's own ETag representation.
func Multipart(hexDigests []string) (string, error) {
	h := md5.New()
	count := 0
	for _, d := range hexDigests {
		raw, err := hex.DecodeString(d)
		if err != nil {
			return "", fmt.Errorf("invalid md5 hex digest %q: %w", d, err)
		}
		h.Write(raw)
		count++
	}
	return fmt.Sprintf("\"%s-%d\"", hex.EncodeToString(h.Sum(nil)), count), nil
}
