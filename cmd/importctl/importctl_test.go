package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/catalogimport/internal/core"
)

const sampleCSV = "Title,Author,Price,Notes\nDune,Frank Herbert,9.99,first\n,Jane Austen,4.50,second\nEmma,Jane Austen,abc,third\n"

func writeSample(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInspect(t *testing.T) {
	path := writeSample(t, sampleCSV)

	out, err := run(t, "inspect", path, "--invalid", "1")
	require.NoError(t, err)

	var got inspectOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 3, got.Stats.TotalRows)
	assert.Equal(t, 1, got.Stats.ValidRows)
	assert.Equal(t, core.KeyTitle, got.Mapping[0]["field"])
	assert.Equal(t, core.KeyAuthor, got.Mapping[1]["field"])
	assert.Equal(t, "", got.Mapping[3]["field"])
	require.Len(t, got.Invalid, 1)
	assert.Equal(t, 2, got.Invalid[0].Index)
}

func TestInspect_MapOverride(t *testing.T) {
	path := writeSample(t, sampleCSV)

	out, err := run(t, "inspect", path, "--map", "notes=description", "--map", "2=")
	require.NoError(t, err)

	var got inspectOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, core.KeyDescription, got.Mapping[3]["field"])
	assert.Equal(t, "", got.Mapping[1]["field"])
}

func TestInspect_Errors(t *testing.T) {
	_, err := run(t, "inspect", filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)

	_, err = run(t, "inspect", writeSample(t, "Title\n"))
	assert.ErrorIs(t, err, core.ErrMalformedInput)

	_, err = run(t, "inspect", writeSample(t, sampleCSV), "--map", "Nope=title")
	assert.ErrorContains(t, err, `no column named "Nope"`)

	_, err = run(t, "inspect", writeSample(t, sampleCSV), "--map", "notes=title")
	assert.ErrorIs(t, err, core.ErrMappingConflict)
}

func TestErrorsCmd(t *testing.T) {
	path := writeSample(t, sampleCSV)
	outPath := filepath.Join(t.TempDir(), "errors.csv")

	_, err := run(t, "errors", path, "-o", outPath)
	require.NoError(t, err)

	f, err := os.Open(outPath)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, records, 3)
	assert.Equal(t, []string{"Title", "Author", "Price", "Notes", core.ErrorsColumn}, records[0])
	assert.Equal(t, "Jane Austen", records[1][1])
	assert.Equal(t, "Emma", records[2][0])
}

func TestCommitDryRun(t *testing.T) {
	path := writeSample(t, sampleCSV)

	out, err := run(t, "commit", path, "--dry-run", "--vendor", "vendor-a", "--default", "status=published")
	require.NoError(t, err)

	var report core.CommitReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, core.ModeCreate, report.Mode)
	assert.Equal(t, "vendor-a", report.Scope)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.TotalProcessed)
}

func TestCommit_InvalidOptions(t *testing.T) {
	path := writeSample(t, sampleCSV)

	_, err := run(t, "commit", path, "--dry-run", "--mode", "merge")
	assert.ErrorIs(t, err, core.ErrInvalidCommitOptions)

	_, err = run(t, "commit", path, "--dry-run", "--mode", "update")
	assert.ErrorIs(t, err, core.ErrInvalidCommitOptions)

	_, err = run(t, "commit", path, "--dry-run", "--default", "novalue")
	assert.ErrorContains(t, err, "want field=value")
}

func TestApplyOverrides(t *testing.T) {
	headers := []string{"Title", "Cost"}
	base := core.Mapping{core.KeyTitle, ""}

	got, err := applyOverrides(base, headers, []string{"cost=price"})
	require.NoError(t, err)
	assert.Equal(t, core.Mapping{core.KeyTitle, core.KeyPrice}, got)
	assert.Equal(t, core.Mapping{core.KeyTitle, ""}, base, "input mapping is not modified")

	_, err = applyOverrides(base, headers, []string{"3=price"})
	assert.ErrorContains(t, err, "out of range")

	_, err = applyOverrides(base, headers, []string{"cost"})
	assert.ErrorContains(t, err, "column=field")
}
