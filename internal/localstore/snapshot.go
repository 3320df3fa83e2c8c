package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"portal/internal/keycodec"
)

// ExportSnapshot copies every key selected by filter into a map.
func ExportSnapshot(ctx context.Context, store Store, filter keycodec.Filter) (map[string]string, error) {
	keys, err := store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}

	data := make(map[string]string)
	for _, key := range keys {
		if !filter.Match(key) {
			continue
		}
		value, ok, err := store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		if !ok {
			continue
		}
		// An empty identity is no identity; prefixed keys are kept even when empty.
		if key == keycodec.StudentInfoKey && value == "" {
			continue
		}
		data[key] = value
	}

	if len(data) == 0 {
		return nil, ErrNothingToExport
	}
	return data, nil
}

// ParseSnapshot decodes a backup payload: a JSON object of string values.
func ParseSnapshot(raw []byte) (map[string]string, error) {
	var data map[string]string
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrInvalidSnapshot)
	}
	return data, nil
}

// ImportSnapshot parses raw completely before writing, so a malformed file
// leaves the store untouched. Every key is overwritten; the count written is returned.
// Callers must rebuild in-memory state afterwards.
func ImportSnapshot(ctx context.Context, store Store, raw []byte) (int, error) {
	data, err := ParseSnapshot(raw)
	if err != nil {
		return 0, err
	}
	return WriteSnapshot(ctx, store, data)
}

// WriteSnapshot writes data in key order.
func WriteSnapshot(ctx context.Context, store Store, data map[string]string) (int, error) {
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	count := 0
	for _, key := range keys {
		if err := store.Set(ctx, key, data[key]); err != nil {
			return count, fmt.Errorf("write %s: %w", key, err)
		}
		count++
	}
	return count, nil
}
