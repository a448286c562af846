package store

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash/fnv"
)

// pageCursor is the decoded form of an opaque paging token.  Query is a hash
// of the listing that produced the page ("apps:<filter>" or "releases:<app>")
// so a token cannot be replayed against a different listing.
type pageCursor struct {
	Query  uint32 `json:"q"`
	Offset int    `json:"o"`
}

func queryID(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32()
}

// encodePageToken returns the token for the next page of the listing
// identified by key.  An empty token means the listing is complete.
func encodePageToken(key string, n, offset, page int) string {
	// a short page means there is nothing after it
	if n < page {
		return ""
	}
	data, _ := json.Marshal(pageCursor{
		Query:  queryID(key),
		Offset: offset + n,
	})
	return base64.StdEncoding.EncodeToString(data)
}

// decodePageToken recovers the offset carried by a token, verifying that it
// belongs to the listing identified by key.
func decodePageToken(s, key string) (int, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return 0, fmt.Errorf("token must be a base64-encoded string: %w", err)
	}
	var cur pageCursor
	if err := json.Unmarshal(data, &cur); err != nil {
		// the payload layout is not part of the API, keep the token opaque
		return 0, fmt.Errorf("the token contents were invalid")
	}
	if queryID(key) != cur.Query {
		return 0, fmt.Errorf("the provided token was for a different listing")
	}
	return cur.Offset, nil
}
