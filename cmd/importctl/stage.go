package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/JonMunkholm/catalogimport/internal/core"
)

// stagedFile is a file staged into a local, in-memory session.
type stagedFile struct {
	service *core.Service
	result  *core.StageResult
	mapping core.Mapping
}

// stageFile reads path, stages it, and applies --map overrides.
func stageFile(ctx context.Context, path, vendor string, overrides []string, catalog core.Catalog, recorder core.CommitRecorder) (*stagedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	schema := core.CatalogItemSchema()
	store := core.NewSessionStore(schema, core.StoreOptions{})
	svc := core.NewService(schema, store, core.NewCommitEngine(schema, catalog, recorder), core.ServiceConfig{})

	res, err := svc.Stage(ctx, core.StageRequest{Data: data, FileName: path, Scope: vendor})
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", path, err)
	}

	sf := &stagedFile{service: svc, result: res, mapping: res.SuggestedMapping}
	if len(overrides) == 0 {
		return sf, nil
	}

	mapping, err := applyOverrides(res.SuggestedMapping, res.Headers, overrides)
	if err != nil {
		return nil, err
	}
	remap, err := svc.Remap(ctx, res.ImportID, mapping)
	if err != nil {
		return nil, fmt.Errorf("remap: %w", err)
	}
	sf.mapping = mapping
	sf.result.Stats = remap.Stats
	sf.result.PreviewRows = remap.PreviewRows
	return sf, nil
}

// applyOverrides applies "column=field" assignments to mapping. column is a
// header name (case-insensitive) or a 1-based position; an empty field
// leaves the column unmapped.
func applyOverrides(mapping core.Mapping, headers []string, overrides []string) (core.Mapping, error) {
	out := mapping.Clone()
	for _, o := range overrides {
		col, field, ok := strings.Cut(o, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --map %q: want column=field", o)
		}
		idx, err := columnIndex(headers, strings.TrimSpace(col))
		if err != nil {
			return nil, err
		}
		out[idx] = strings.TrimSpace(field)
	}
	return out, nil
}

func columnIndex(headers []string, col string) (int, error) {
	if n, err := strconv.Atoi(col); err == nil {
		if n < 1 || n > len(headers) {
			return 0, fmt.Errorf("column %d out of range 1-%d", n, len(headers))
		}
		return n - 1, nil
	}
	for i, h := range headers {
		if strings.EqualFold(h, col) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no column named %q", col)
}

// mappingView pairs each header with its target field for display.
func mappingView(headers []string, mapping core.Mapping) []map[string]string {
	out := make([]map[string]string, len(headers))
	for i, h := range headers {
		out[i] = map[string]string{"column": h, "field": mapping[i]}
	}
	return out
}
