package completion

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var errNotObject = errors.New("response is not a JSON object")

// decodeObject turns model content into a JSON object. Fences are always
// stripped; in lenient mode the outermost {...} span is tried before giving
// up.
func decodeObject(content string, strict bool) (map[string]any, error) {
	text := stripFence(strings.TrimSpace(content))
	if text == "" {
		return nil, errors.New("response is empty")
	}
	obj, err := unmarshalObject(text)
	if err == nil || strict {
		return obj, err
	}
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil, err
	}
	if obj, spanErr := unmarshalObject(text[start : end+1]); spanErr == nil {
		return obj, nil
	}
	return nil, err
}

func unmarshalObject(text string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	if dec.More() {
		return nil, errors.New("parse json: trailing data after object")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errNotObject
	}
	return obj, nil
}

func stripFence(rsp string) string {
	if !strings.HasPrefix(rsp, "```") {
		return rsp
	}
	if nl := strings.IndexByte(rsp, '\n'); nl >= 0 {
		rsp = rsp[nl+1:]
	} else {
		rsp = strings.TrimPrefix(rsp, "```")
	}
	rsp = strings.TrimSpace(rsp)
	rsp = strings.TrimSuffix(rsp, "```")
	return strings.TrimSpace(rsp)
}
