// Package nestedalter implements the "nested-alter" traversal (§6, §9): a
// recursive walk over a result document that replaces every value under a
// recognized key with a models.BlobReference, offloading the original
// payload to the blob store. The traversal is built on tidwall/gjson and
// tidwall/sjson, the JSON-path libraries the teacher already carried as
// transitive dependencies, repointed here at a real domain use instead of
// sitting unused.
package nestedalter

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/BetterCallFirewall/authlandscape/internal/models"
)

// Putter is the subset of the blob store interface nested-alter needs.
// Implemented by internal/blobstore.Store.
type Putter interface {
	Put(ctx context.Context, bucket, object string, data []byte, contentType string) error
}

// keyRule maps a recognized key (exact name or suffix) to the bucket it
// offloads into and the extension/decoding its payload uses.
type keyRule struct {
	matchSuffix bool
	key         string
	bucket      string
	extension   string
}

// rules enumerates the well-known keys from §6: screenshots and HARs are
// base64+zlib on the wire, metadata/sitemap/robots/storage-state are stored
// as literal JSON.
var rules = []keyRule{
	{matchSuffix: true, key: "_screenshot", bucket: "login-page-candidate-screenshot", extension: "png"},
	{matchSuffix: true, key: "_har", bucket: "idp-har", extension: "har"},
	{matchSuffix: false, key: "element_tree_markup", bucket: "element-tree-markup", extension: "json"},
	{matchSuffix: false, key: "metadata_data", bucket: "metadata-data", extension: "json"},
	{matchSuffix: false, key: "sitemap", bucket: "sitemap", extension: "json"},
	{matchSuffix: false, key: "robots", bucket: "robots", extension: "json"},
	{matchSuffix: true, key: "_storage_state", bucket: "storage-state", extension: "json"},
}

func matchRule(key string) (keyRule, bool) {
	for _, r := range rules {
		if r.matchSuffix {
			if len(key) >= len(r.key) && key[len(key)-len(r.key):] == r.key {
				return r, true
			}
			continue
		}
		if key == r.key {
			return r, true
		}
	}
	return keyRule{}, false
}

// Offload walks doc (a JSON-encoded result document) and replaces every
// value under a recognized key with a models.BlobReference, offloading the
// raw payload to store under bucket/<domain>/<uuid>.<ext>. Re-offloading a
// path whose value is already a BlobReference leaves it unchanged
// (idempotent per §8).
func Offload(ctx context.Context, store Putter, domain string, doc []byte) ([]byte, error) {
	out := doc
	result := gjson.ParseBytes(doc)

	var walkErr error
	walk("", result, func(path string, key string, value gjson.Result) bool {
		if walkErr != nil {
			return false
		}
		rule, ok := matchRule(key)
		if !ok {
			return true
		}
		if isBlobReference(value) {
			return true
		}

		payload, contentType, err := decodePayload(rule, value)
		if err != nil {
			walkErr = fmt.Errorf("nestedalter: decode %s: %w", path, err)
			return false
		}

		object := fmt.Sprintf("%s/%s.%s", domain, uuid.NewString(), rule.extension)
		if err := store.Put(ctx, rule.bucket, object, payload, contentType); err != nil {
			walkErr = fmt.Errorf("nestedalter: put %s: %w", path, err)
			return false
		}

		ref := models.NewBlobReference(rule.bucket, object, rule.extension)
		refJSON, err := json.Marshal(ref)
		if err != nil {
			walkErr = fmt.Errorf("nestedalter: marshal reference %s: %w", path, err)
			return false
		}

		updated, err := sjson.SetRawBytes(out, path, refJSON)
		if err != nil {
			walkErr = fmt.Errorf("nestedalter: set %s: %w", path, err)
			return false
		}
		out = updated
		return true
	})

	if walkErr != nil {
		return nil, walkErr
	}
	return out, nil
}

// decodePayload produces the bytes to store and the content-type to tag
// them with, per the wire convention in §6: png/har values arrive as
// base64-of-zlib-compressed strings; json-extension values are stored
// literally as whatever JSON the node holds.
func decodePayload(rule keyRule, value gjson.Result) ([]byte, string, error) {
	switch rule.extension {
	case "png":
		raw, err := inflateBase64(value.String())
		if err != nil {
			return nil, "", err
		}
		return raw, "image/png", nil
	case "har":
		raw, err := inflateBase64(value.String())
		if err != nil {
			return nil, "", err
		}
		return raw, "application/json", nil
	default:
		return []byte(value.Raw), "application/json", nil
	}
}

func inflateBase64(encoded string) ([]byte, error) {
	compressed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}
	reader, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("zlib open: %w", err)
	}
	defer reader.Close()
	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("zlib read: %w", err)
	}
	return raw, nil
}

// isBlobReference reports whether value is already in BlobReference shape,
// making offload a no-op (idempotence, §8).
func isBlobReference(value gjson.Result) bool {
	if !value.IsObject() {
		return false
	}
	return value.Get("type").String() == models.BlobReferenceType
}

// visitFunc is called for every (path, key, value) pair found during the
// walk. Returning false stops the walk early (used to propagate errors).
type visitFunc func(path string, key string, value gjson.Result) bool

// walk performs a depth-first traversal of result, tracking the sjson path
// to each child so callers can rewrite values in place. It visits object
// members before recursing into them, mirroring the "recognized key at this
// level wins, don't also walk its subtree" rule implied by §6 (a
// *_screenshot value is always a scalar/base64 string, never itself a tree
// holding another recognized key).
func walk(prefix string, result gjson.Result, visit visitFunc) bool {
	if result.IsArray() {
		idx := 0
		cont := true
		result.ForEach(func(_, value gjson.Result) bool {
			path := fmt.Sprintf("%s.%d", prefix, idx)
			if prefix == "" {
				path = fmt.Sprintf("%d", idx)
			}
			idx++
			cont = walk(path, value, visit)
			return cont
		})
		return cont
	}

	if result.IsObject() {
		cont := true
		result.ForEach(func(keyResult, value gjson.Result) bool {
			key := keyResult.String()
			path := key
			if prefix != "" {
				path = prefix + "." + key
			}

			if _, ok := matchRule(key); ok {
				cont = visit(path, key, value)
				return cont
			}

			cont = walk(path, value, visit)
			return cont
		})
		return cont
	}

	return true
}
