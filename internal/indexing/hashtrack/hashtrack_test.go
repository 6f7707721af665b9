package hashtrack

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassifyNewUnchangedChanged(t *testing.T) {
	tr := New()
	require.Equal(t, NewFile, tr.Classify("a.go", []byte("package a")))

	tr.Record("a.go", []byte("package a"), time.Now())
	require.Equal(t, Unchanged, tr.Classify("a.go", []byte("package a")))

	require.Equal(t, Changed, tr.Classify("a.go", []byte("package a // v2")))
}

func TestRecordHistoryBoundedAtMaxHistory(t *testing.T) {
	tr := New()
	base := time.Now()
	for i := 0; i < maxHistory+10; i++ {
		tr.Record("a.go", []byte{byte(i)}, base.Add(time.Duration(i)*time.Second))
	}
	hist := tr.History("a.go")
	require.Len(t, hist, maxHistory)
	require.Equal(t, HashFile([]byte{byte(maxHistory + 9)}), hist[len(hist)-1].MD5)
}

func TestForgetClearsLatestAndHistory(t *testing.T) {
	tr := New()
	tr.Record("a.go", []byte("package a"), time.Now())
	require.NotEmpty(t, tr.History("a.go"))

	tr.Forget("a.go")
	require.Empty(t, tr.History("a.go"))
	require.Equal(t, NewFile, tr.Classify("a.go", []byte("package a")))
}

func TestCorpusHashStableUnderPermutation(t *testing.T) {
	files := map[string][]byte{
		"b.go": []byte("package b"),
		"a.go": []byte("package a"),
		"c.go": []byte("package c"),
	}
	h1 := CorpusHash(files)

	reordered := map[string][]byte{
		"c.go": files["c.go"],
		"a.go": files["a.go"],
		"b.go": files["b.go"],
	}
	require.Equal(t, h1, CorpusHash(reordered))

	changed := map[string][]byte{
		"b.go": []byte("package b"),
		"a.go": []byte("package a2"),
		"c.go": []byte("package c"),
	}
	require.NotEqual(t, h1, CorpusHash(changed))
}
