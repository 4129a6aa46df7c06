package dataset

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/directory-crawler/internal/hash/sha256"
	"github.com/JakeFAU/directory-crawler/internal/record"
)

func rec(fields ...any) *record.Record {
	r := record.New()
	for i := 0; i < len(fields); i += 2 {
		name := fields[i].(string)
		switch v := fields[i+1].(type) {
		case string:
			r.Set(name, record.Scalar(v))
		case []string:
			r.Set(name, record.List(v))
		case record.Value:
			r.Set(name, v)
		}
	}
	return r
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestMergeUpsertsByName(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "doctors_data.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
    {"name": "Dr. A", "timing": ["9-5"]}
]`), 0o600))

	sum, err := New(sha256.New(), nil).Merge(context.Background(), path, []*record.Record{
		rec("name", "Dr. A", "timing", []string{"10-6"}, "services", []string{"ECG"}),
		rec("name", "Dr. B", "timing", []string{"8-2"}),
	})
	require.NoError(t, err)

	want := `[
    {
        "name": "Dr. A",
        "timing": [
            "10-6"
        ],
        "services": [
            "ECG"
        ]
    },
    {
        "name": "Dr. B",
        "timing": [
            "8-2"
        ]
    }
]
`
	if diff := cmp.Diff(want, readFile(t, path)); diff != "" {
		t.Fatalf("dataset mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, Summary{
		Path: path, Existing: 1, Added: 1, Updated: 1, Total: 2, Digest: sum.Digest,
	}, sum)
	assert.Len(t, sum.Digest, 64)
}

func TestMergeKeepsFieldsAbsentFromIncoming(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "doctors_data.json")
	m := New(nil, nil)
	_, err := m.Merge(context.Background(), path, []*record.Record{
		rec("name", "Dr. A", "memberships", []string{"IMA"}, "timing", []string{"9-5"}),
	})
	require.NoError(t, err)

	// memberships faulted on the second run and was omitted
	_, err = m.Merge(context.Background(), path, []*record.Record{
		rec("name", "Dr. A", "timing", []string{"10-6"}),
	})
	require.NoError(t, err)

	records, err := Load(path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []string{"name", "memberships", "timing"}, records[0].Fields())
	got, _ := records[0].Get("memberships")
	assert.Equal(t, []string{"IMA"}, got.Items())
	got, _ = records[0].Get("timing")
	assert.Equal(t, []string{"10-6"}, got.Items())
}

func TestMergeFillsDefaultsOnNewRecordsOnly(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "doctors_data.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
    {"name": "Dr. A", "memberships": ["IMA"]}
]`), 0o600))

	defaults := rec("name", record.Unspecified(), "memberships", []string{}, "fee", record.Unspecified())
	m := New(nil, nil, WithDefaults(defaults))
	_, err := m.Merge(context.Background(), path, []*record.Record{
		rec("name", "Dr. A", "timing", []string{"9-5"}),
		rec("name", "Dr. B", "timing", []string{"8-2"}),
	})
	require.NoError(t, err)

	records, err := Load(path)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, []string{"name", "memberships", "timing"}, records[0].Fields())
	memberships, _ := records[0].Get("memberships")
	assert.Equal(t, []string{"IMA"}, memberships.Items())

	assert.Equal(t, []string{"name", "timing", "memberships", "fee"}, records[1].Fields())
	memberships, _ = records[1].Get("memberships")
	assert.Equal(t, record.KindList, memberships.Kind())
	assert.Empty(t, memberships.Items())
	fee, _ := records[1].Get("fee")
	assert.Equal(t, record.NotSpecified, fee.Text())
}

func TestMergeMissingFileWritesIncomingInOrder(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "data", "doctors.json")
	incoming := []*record.Record{
		rec("name", "Dr. Z", "fee", record.Unspecified()),
		rec("name", "Dr. Y", "fee", "₹ 300 <cash & card>"),
	}
	sum, err := New(nil, nil).Merge(context.Background(), path, incoming)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Existing)
	assert.Equal(t, 2, sum.Added)

	want := `[
    {
        "name": "Dr. Z",
        "fee": "Not specified"
    },
    {
        "name": "Dr. Y",
        "fee": "₹ 300 <cash & card>"
    }
]
`
	if diff := cmp.Diff(want, readFile(t, path)); diff != "" {
		t.Fatalf("dataset mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "doctors_data.json")
	batch := []*record.Record{
		rec("name", "Dr. A", "specialization", []string{"Cardiology"}),
		rec("name", "Dr. B", "specialization", []string{}),
	}
	m := New(sha256.New(), nil)

	first, err := m.Merge(context.Background(), path, batch)
	require.NoError(t, err)
	before := readFile(t, path)

	second, err := m.Merge(context.Background(), path, batch)
	require.NoError(t, err)
	assert.Equal(t, before, readFile(t, path))
	assert.Equal(t, first.Digest, second.Digest)
	assert.Equal(t, 2, second.Updated)
	assert.Equal(t, 0, second.Added)
}

func TestMergeSkipsKeylessRecords(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "doctors.json")
	sum, err := New(nil, nil).Merge(context.Background(), path, []*record.Record{
		rec("name", record.Unspecified(), "fee", "₹ 100"),
		rec("fee", "₹ 200"),
		rec("name", "  ", "fee", "₹ 300"),
		rec("name", "Dr. C"),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Skipped)
	assert.Equal(t, 1, sum.Total)
}

func TestMergeDuplicatesWithinBatch(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "doctors.json")
	sum, err := New(nil, nil).Merge(context.Background(), path, []*record.Record{
		rec("name", "Dr. A", "fee", "₹ 100"),
		rec("name", "Dr. A", "fee", "₹ 200"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Total)

	records, err := Load(path)
	require.NoError(t, err)
	fee, _ := records[0].Get("fee")
	assert.Equal(t, "₹ 200", fee.Text())
}

func TestMergeRefusesCorruptDataset(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "doctors.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"name": 5}]`), 0o600))
	_, err := New(nil, nil).Merge(context.Background(), path, []*record.Record{rec("name", "Dr. A")})
	require.Error(t, err)
	assert.Equal(t, `[{"name": 5}]`, readFile(t, path), "a corrupt file is never overwritten")
}

func TestMergeCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(nil, nil).Merge(ctx, filepath.Join(t.TempDir(), "x.json"), nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := Load(filepath.Join(dir, "missing.json"))
	require.True(t, errors.Is(err, fs.ErrNotExist))

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte("\n"), 0o600))
	records, err := Load(empty)
	require.NoError(t, err)
	assert.Empty(t, records)

	withNull := filepath.Join(dir, "null.json")
	require.NoError(t, os.WriteFile(withNull, []byte(`[null, {"name": "Dr. A", "x": null}]`), 0o600))
	records, err = Load(withNull)
	require.NoError(t, err)
	require.Len(t, records, 1)
	x, _ := records[0].Get("x")
	assert.Equal(t, record.KindList, x.Kind())
}

func TestEncodeEmpty(t *testing.T) {
	t.Parallel()

	data, err := Encode(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(data))
}

func TestWriteFileAtomicLeavesNoTempFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")
	require.NoError(t, WriteFileAtomic(path, []byte("[]")))
	require.NoError(t, WriteFileAtomic(path, []byte("[1]")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "[1]", readFile(t, path))
}
