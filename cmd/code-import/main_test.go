package main

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/bytekart/internal/domain/discount"
)

func writeGz(t *testing.T, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

type recordingImporter struct {
	mu      sync.Mutex
	batches [][]discount.Code
	seen    map[string]bool
	err     error
}

func (r *recordingImporter) Import(_ context.Context, codes []discount.Code) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	if r.seen == nil {
		r.seen = map[string]bool{}
	}
	r.batches = append(r.batches, codes)
	var n int64
	for _, c := range codes {
		if !r.seen[c.Code] {
			r.seen[c.Code] = true
			n++
		}
	}
	return n, nil
}

var testOpts = options{
	kind:      discount.KindFixed,
	value:     decimal.NewFromInt(150),
	maxUses:   1,
	batchSize: 2,
}

func TestStreamCodes(t *testing.T) {
	path := writeGz(t, "codes.gz", " save10 ", "", "abc", "FESTIVE2025", strings.Repeat("X", maxCodeLen+1))

	var got []string
	require.NoError(t, streamCodes(context.Background(), path, func(code string) error {
		got = append(got, code)
		return nil
	}))
	assert.Equal(t, []string{"SAVE10", "FESTIVE2025"}, got)
}

func TestStreamCodes_Cancelled(t *testing.T) {
	path := writeGz(t, "codes.gz", "SAVE10", "SAVE20")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := streamCodes(ctx, path, func(string) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestImportAll(t *testing.T) {
	a := writeGz(t, "a.gz", "CODE0001", "CODE0002", "CODE0003")
	b := writeGz(t, "b.gz", "CODE0003", "code0004")

	repo := &recordingImporter{}
	inserted, err := importAll(context.Background(), repo, []string{a, b}, testOpts)
	require.NoError(t, err)
	assert.EqualValues(t, 4, inserted, "the repeated code is inserted once")

	require.Len(t, repo.batches, 3)
	for _, batch := range repo.batches {
		assert.LessOrEqual(t, len(batch), testOpts.batchSize)
		for _, c := range batch {
			assert.Equal(t, discount.KindFixed, c.Kind)
			assert.True(t, c.Value.Equal(decimal.NewFromInt(150)))
			assert.True(t, c.Active)
			assert.NotEqual(t, uuid.Nil, c.ID)
			require.NoError(t, c.Validate())
		}
	}
	assert.True(t, repo.seen["CODE0004"])
}

func TestImportAll_RepositoryFailure(t *testing.T) {
	a := writeGz(t, "a.gz", "CODE0001", "CODE0002", "CODE0003", "CODE0004", "CODE0005")
	repo := &recordingImporter{err: errors.New("connection reset")}
	_, err := importAll(context.Background(), repo, []string{a}, testOpts)
	require.ErrorContains(t, err, "connection reset")
}

func TestSharedCodes(t *testing.T) {
	a := writeGz(t, "a.gz", "ALPHA001", "BRAVO002", "CHARLIE3", "ONLYINA1")
	b := writeGz(t, "b.gz", "alpha001", "BRAVO002", "ONLYINB1")
	c := writeGz(t, "c.gz", "ALPHA001", "CHARLIE3")
	files := []string{a, b, c}

	got, err := sharedCodes(context.Background(), files, 2)
	require.NoError(t, err)
	sort.Strings(got)
	assert.Equal(t, []string{"ALPHA001", "BRAVO002", "CHARLIE3"}, got)

	got, err = sharedCodes(context.Background(), files, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"ALPHA001"}, got)
}

func TestImportList(t *testing.T) {
	repo := &recordingImporter{}
	n, err := importList(context.Background(), repo, []string{"ALPHA001", "BRAVO002", "CHARLIE3"}, testOpts)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.Len(t, repo.batches, 2)
}
