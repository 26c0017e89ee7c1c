package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Key identifies a cached CRM response: the method name plus a
// deterministic digest of the request parameters.
type Key struct {
	// Method is the CRM REST method (e.g. "crm.deal.list").
	Method string

	// ParamsDigest is a hex digest of the canonicalized parameters.
	ParamsDigest string
}

// NewKey builds a key for a method call. Parameters are canonicalized
// by sorting keys before hashing, so logically equal calls share a key.
func NewKey(method string, params map[string]any) Key {
	return Key{
		Method:       method,
		ParamsDigest: digestParams(params),
	}
}

// String generates the Redis key string.
// Format: b24:cache:<method>:<digest>
func (k Key) String() string {
	return fmt.Sprintf("b24:cache:%s:%s", k.Method, k.ParamsDigest)
}

// digestParams hashes the parameter mapping into a short hex string.
// An empty mapping digests to "-".
func digestParams(params map[string]any) string {
	if len(params) == 0 {
		return "-"
	}

	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, key := range keys {
		// Values marshal deterministically enough for cache keying;
		// a marshal failure falls back to the fmt representation.
		data, err := json.Marshal(params[key])
		if err != nil {
			data = []byte(fmt.Sprintf("%v", params[key]))
		}
		sb.WriteString(key)
		sb.WriteByte('=')
		sb.Write(data)
		sb.WriteByte(';')
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:16])
}
