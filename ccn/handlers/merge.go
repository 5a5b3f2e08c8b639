package handlers

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/aleph-im/go-aleph/ccn/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// deepMerge merges src into dst in place: objects merge recursively, any
// other value replaces the existing one, and an explicit null removes the
// key.
func deepMerge(dst, src map[string]interface{}) map[string]interface{} {
	if dst == nil {
		dst = make(map[string]interface{}, len(src))
	}
	for key, value := range src {
		if value == nil {
			delete(dst, key)
			continue
		}
		srcObj, srcIsObj := value.(map[string]interface{})
		if !srcIsObj {
			dst[key] = value
			continue
		}
		dstObj, dstIsObj := dst[key].(map[string]interface{})
		if !dstIsObj {
			dstObj = nil
		}
		dst[key] = deepMerge(dstObj, srcObj)
	}
	return dst
}

// foldElements computes the materialised aggregate content by deep-merging
// the elements in order. The slice must already be sorted by content time
// ascending, item hash ascending on ties, which is the iteration order the
// store guarantees.
func foldElements(elements []*types.AggregateElement) (jsoniter.RawMessage, error) {
	var merged map[string]interface{}
	for _, el := range elements {
		var content map[string]interface{}
		if err := json.Unmarshal(el.Content, &content); err != nil {
			return nil, errors.Wrapf(err, "element %s has non-object content", el.ItemHash)
		}
		merged = deepMerge(merged, content)
	}
	if merged == nil {
		merged = map[string]interface{}{}
	}
	return json.Marshal(merged)
}
