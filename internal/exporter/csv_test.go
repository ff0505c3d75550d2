package exporter

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteSimpleCSV(t *testing.T) {
	dir := t.TempDir()
	writer := NewCSVWriter(dir)

	headers := []string{"Identifier", "MarketValue"}
	records := [][]string{
		{"XS2530201644", "1991980.00"},
		{"CH0012032048", "2500000.00"},
	}

	err := writer.WriteSimpleCSV("holdings.csv", headers, records)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "holdings.csv"))
	require.NoError(t, err)

	// BOM prefix for Excel
	require.True(t, len(data) > 3)
	assert.Equal(t, []byte{0xEF, 0xBB, 0xBF}, data[:3])

	reader := csv.NewReader(strings.NewReader(string(data[3:])))
	rows, err := reader.ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, headers, rows[0])
	assert.Equal(t, records[0], rows[1])
	assert.Equal(t, records[1], rows[2])
}

func TestWriteCSVCreatesDirectories(t *testing.T) {
	dir := t.TempDir()
	writer := NewCSVWriter(dir)

	err := writer.WriteCSV("nested/deep/out.csv", WriteOptions{
		Headers: []string{"A"},
		Records: [][]string{{"1"}},
	})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "nested", "deep", "out.csv"))
	assert.NoError(t, err)
}

func TestAppendToCSV(t *testing.T) {
	dir := t.TempDir()
	writer := NewCSVWriter(dir)

	require.NoError(t, writer.WriteSimpleCSV("log.csv", []string{"A"}, [][]string{{"1"}}))
	require.NoError(t, writer.AppendToCSV("log.csv", [][]string{{"2"}, {"3"}}))

	data, err := os.ReadFile(filepath.Join(dir, "log.csv"))
	require.NoError(t, err)

	reader := csv.NewReader(strings.NewReader(strings.TrimPrefix(string(data), "﻿")))
	rows, err := reader.ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 4)
}

func TestWriteCSVAbsolutePathBypassesExportsDir(t *testing.T) {
	exportsDir := t.TempDir()
	otherDir := t.TempDir()
	writer := NewCSVWriter(exportsDir)

	target := filepath.Join(otherDir, "direct.csv")
	err := writer.WriteCSV(target, WriteOptions{Records: [][]string{{"x"}}})
	require.NoError(t, err)

	_, err = os.Stat(target)
	assert.NoError(t, err)
}

func TestStreamWriter(t *testing.T) {
	dir := t.TempDir()
	writer := NewCSVWriter(dir)

	stream, err := writer.CreateStreamWriter("stream.csv", []string{"Identifier", "Value"})
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		require.NoError(t, stream.WriteRecord([]string{"XS0000000000", "1000.00"}))
	}
	require.NoError(t, stream.Close())

	data, err := os.ReadFile(filepath.Join(dir, "stream.csv"))
	require.NoError(t, err)

	reader := csv.NewReader(strings.NewReader(strings.TrimPrefix(string(data), "﻿")))
	rows, err := reader.ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 101) // header + 100 records
}
