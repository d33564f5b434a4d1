package dataset

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func sampleDataset() *Dataset {
	return New(
		[]string{"代码", "名称", "最新价"},
		[][]string{
			{"600000", "浦发银行", "7.12"},
			{"000001", "平安银行", "11.05"},
		},
	)
}

func TestDataset_IsValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		d    *Dataset
		want bool
	}{
		{name: "nil", d: nil, want: false},
		{name: "empty", d: Empty(), want: false},
		{name: "header only", d: New([]string{"a"}, nil), want: false},
		{name: "rows without columns", d: New(nil, [][]string{{"1"}}), want: false},
		{name: "table", d: sampleDataset(), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.d.IsValid())
		})
	}
}

func TestDataset_Column(t *testing.T) {
	t.Parallel()

	d := New([]string{"a", "b"}, [][]string{{"1", "2"}, {"3"}})
	values, ok := d.Column("b")
	require.True(t, ok)
	assert.Equal(t, []string{"2", ""}, values)

	_, ok = d.Column("missing")
	assert.False(t, ok)
}

func TestDataset_Fingerprint(t *testing.T) {
	t.Parallel()

	assert.Equal(t, sampleDataset().Fingerprint(), sampleDataset().Fingerprint())

	changed := sampleDataset()
	changed.Rows[0][2] = "7.13"
	assert.NotEqual(t, sampleDataset().Fingerprint(), changed.Fingerprint())

	// Cell boundaries matter.
	a := New([]string{"x"}, [][]string{{"ab", "c"}})
	b := New([]string{"x"}, [][]string{{"a", "bc"}})
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestReadWriteCSV(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleDataset()))

	got, err := ReadCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, sampleDataset(), got)

	t.Run("empty document", func(t *testing.T) {
		t.Parallel()
		d, err := ReadCSV(strings.NewReader(""))
		require.NoError(t, err)
		assert.False(t, d.IsValid())
	})

	t.Run("strips byte order mark", func(t *testing.T) {
		t.Parallel()
		d, err := ReadCSV(strings.NewReader("\ufeffdate,close\n2023-10-23,3.1\n"))
		require.NoError(t, err)
		assert.Equal(t, []string{"date", "close"}, d.Columns)
	})
}

func TestDecodingReader(t *testing.T) {
	t.Parallel()

	encoded, err := simplifiedchinese.GBK.NewEncoder().String("名称\n浦发银行\n")
	require.NoError(t, err)

	r, err := DecodingReader(strings.NewReader(encoded), "GBK")
	require.NoError(t, err)
	d, err := ReadCSV(r)
	require.NoError(t, err)
	assert.Equal(t, []string{"名称"}, d.Columns)
	assert.Equal(t, "浦发银行", d.Rows[0][0])

	_, err = DecodingReader(strings.NewReader(""), "latin-9")
	assert.Error(t, err)
	assert.NoError(t, ValidateEncoding(""))
	assert.NoError(t, ValidateEncoding("gb18030"))
}

func TestCSVStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCSVStore(zerolog.Nop())
	location := filepath.Join(t.TempDir(), "spot", "a_shares.csv")

	t.Run("missing file loads empty", func(t *testing.T) {
		assert.False(t, store.Load(ctx, location).IsValid())
	})

	t.Run("save creates parent and round trips", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, location, sampleDataset()))
		assert.Equal(t, sampleDataset(), store.Load(ctx, location))

		leftovers, err := filepath.Glob(location + ".*.tmp")
		require.NoError(t, err)
		assert.Empty(t, leftovers)
	})

	t.Run("empty dataset is not written", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, location, Empty()))
		assert.Equal(t, sampleDataset(), store.Load(ctx, location))
	})

	t.Run("unreadable location loads empty", func(t *testing.T) {
		assert.False(t, store.Load(ctx, t.TempDir()).IsValid())
	})

	t.Run("prepare creates directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "x", "y")
		require.NoError(t, store.Prepare(filepath.Join(dir, "f.csv")))
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		assert.NoError(t, store.Prepare("relative.csv"))
	})
}

func TestCSVStore_ConcurrentSaves(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCSVStore(zerolog.Nop())
	location := filepath.Join(t.TempDir(), "spot.csv")

	var g errgroup.Group
	for w := range 2 {
		g.Go(func() error {
			d := New([]string{"writer"}, [][]string{{strconv.Itoa(w)}})
			for range 100 {
				if err := store.Save(ctx, location, d); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	loaded := store.Load(ctx, location)
	require.True(t, loaded.IsValid())
	assert.Contains(t, []string{"0", "1"}, loaded.Rows[0][0])

	leftovers, err := filepath.Glob(location + ".*.tmp")
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db", "datasets.sqlite")
	store, err := OpenSQLite(ctx, path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	assert.Equal(t, path, store.Path())
	assert.False(t, store.Load(ctx, "spot").IsValid())

	require.NoError(t, store.Save(ctx, "spot", sampleDataset()))
	assert.Equal(t, sampleDataset(), store.Load(ctx, "spot"))

	replacement := New([]string{"only"}, [][]string{{"1"}, {"2"}, {"3"}})
	require.NoError(t, store.Save(ctx, "spot", replacement))
	assert.Equal(t, replacement, store.Load(ctx, "spot"))

	require.NoError(t, store.Save(ctx, "spot", Empty()))
	assert.Equal(t, replacement, store.Load(ctx, "spot"))

	ragged := New([]string{"a", "b"}, [][]string{{"1"}})
	require.NoError(t, store.Save(ctx, "ragged", ragged))
	assert.Equal(t, [][]string{{"1", ""}}, store.Load(ctx, "ragged").Rows)

	_, err = OpenSQLite(ctx, "", zerolog.Nop())
	assert.Error(t, err)
}

func TestSQLiteStore_ManyRows(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var logs bytes.Buffer
	store, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "datasets.sqlite"),
		zerolog.New(&logs).Level(zerolog.DebugLevel))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	// 4 parameters per row: several INSERT batches.
	rows := make([][]string, 700)
	for i := range rows {
		rows[i] = []string{strconv.Itoa(i), "name-" + strconv.Itoa(i), "1.00"}
	}
	big := New([]string{"code", "name", "price"}, rows)

	require.NoError(t, store.Save(ctx, "big", big))
	loaded := store.Load(ctx, "big")
	require.Equal(t, 700, loaded.Len())
	assert.Equal(t, big.Fingerprint(), loaded.Fingerprint())

	assert.Contains(t, logs.String(), `"message":"rows inserted"`)
	assert.Contains(t, logs.String(), `"batches":3`)
	assert.Contains(t, logs.String(), `"percent":100`)
}
