package plan

import (
	"testing"
	"time"

	"github.com/desertwitch/mirrord/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func file(path string, size uint64, mtime int64) *schema.Record {
	return &schema.Record{
		Path: path,
		Kind: schema.KindFile,
		Metadata: &schema.Metadata{
			Size:       size,
			ModifiedAt: unix.NsecToTimespec(mtime * int64(time.Second)),
		},
	}
}

func dir(path string) *schema.Record {
	return &schema.Record{
		Path:     path,
		Kind:     schema.KindDirectory,
		Metadata: &schema.Metadata{IsDir: true},
	}
}

func paths(actions []*Action) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.Path)
	}

	return out
}

func TestDiff_ExampleScenario(t *testing.T) {
	t.Parallel()

	source := schema.NewInventory("/src",
		file("a.txt", 5, 100),
		dir("sub"),
		file("sub/b.txt", 3, 100),
	)
	replica := schema.NewInventory("/rep",
		file("a.txt", 5, 90),
		file("c.txt", 1, 50),
	)

	p := NewHandler(0).Diff(source, replica)

	assert.Equal(t, []string{"sub"}, paths(p.ToCreateDir))
	assert.Equal(t, []string{"a.txt", "sub/b.txt"}, paths(p.ToCopy))
	assert.Equal(t, []string{"c.txt"}, paths(p.ToDelete))

	assert.Equal(t, ReasonModTime, p.ToCopy[0].Reason)
	assert.Equal(t, ReasonMissing, p.ToCopy[1].Reason)
	assert.Equal(t, ReasonExtraneous, p.ToDelete[0].Reason)
	assert.Equal(t, 4, p.Len())
	assert.Equal(t, uint64(8), p.BytesToCopy())
}

func TestDiff_Idempotent(t *testing.T) {
	t.Parallel()

	source := schema.NewInventory("/src", file("a.txt", 5, 100), dir("x"), dir("x/y"), file("x/y/z", 1, 1))
	replica := schema.NewInventory("/rep", file("b.txt", 5, 100), dir("q"), file("q/r", 2, 2))

	h := NewHandler(0)
	assert.Equal(t, h.Diff(source, replica), h.Diff(source, replica))
}

func TestDiff_EqualTrees_EmptyPlan(t *testing.T) {
	t.Parallel()

	records := []*schema.Record{file("a.txt", 5, 100), dir("sub"), file("sub/b.txt", 3, 100)}

	p := NewHandler(0).Diff(
		schema.NewInventory("/src", records...),
		schema.NewInventory("/rep", records...),
	)

	assert.True(t, p.IsEmpty())
}

func TestDiff_Staleness(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		src      *schema.Record
		rep      *schema.Record
		window   time.Duration
		expected []string
		reason   Reason
	}{
		{"Copy_OlderReplica", file("f", 5, 100), file("f", 5, 90), 0, []string{"f"}, ReasonModTime},
		{"Copy_SizeDiffers", file("f", 5, 100), file("f", 6, 200), 0, []string{"f"}, ReasonSize},
		{"Copy_OlderAndSizeDiffers", file("f", 5, 100), file("f", 4, 90), 0, []string{"f"}, ReasonSize},
		{"Skip_SameSizeSameTime", file("f", 5, 100), file("f", 5, 100), 0, []string{}, ""},
		{"Skip_SameSizeNewerReplica", file("f", 5, 100), file("f", 5, 110), 0, []string{}, ""},
		{"Skip_WithinWindow", file("f", 5, 101), file("f", 5, 100), 2 * time.Second, []string{}, ""},
		{"Copy_BeyondWindow", file("f", 5, 103), file("f", 5, 100), 2 * time.Second, []string{"f"}, ReasonModTime},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := NewHandler(tt.window).Diff(
				schema.NewInventory("/src", tt.src),
				schema.NewInventory("/rep", tt.rep),
			)

			assert.Equal(t, tt.expected, paths(p.ToCopy))
			assert.Empty(t, p.ToDelete)
			assert.Empty(t, p.ToCreateDir)

			if len(tt.expected) > 0 {
				assert.Equal(t, tt.reason, p.ToCopy[0].Reason)
			}
		})
	}
}

func TestDiff_KindMismatch_FileReplacesDirectory(t *testing.T) {
	t.Parallel()

	source := schema.NewInventory("/src", file("x", 5, 100))
	replica := schema.NewInventory("/rep", dir("x"), file("x/inner", 1, 1))

	p := NewHandler(0).Diff(source, replica)

	assert.Empty(t, p.ToCreateDir)
	assert.Equal(t, []string{"x"}, paths(p.ToCopy))
	assert.Equal(t, []string{"x/inner", "x"}, paths(p.ToDelete))
	assert.Equal(t, ReasonKind, p.ToDelete[1].Reason)
	assert.NotNil(t, p.ToDelete[1].Source)
}

func TestDiff_KindMismatch_DirectoryReplacesFile(t *testing.T) {
	t.Parallel()

	source := schema.NewInventory("/src", dir("x"), file("x/inner", 1, 1))
	replica := schema.NewInventory("/rep", file("x", 5, 100))

	p := NewHandler(0).Diff(source, replica)

	assert.Equal(t, []string{"x"}, paths(p.ToCreateDir))
	assert.Equal(t, []string{"x/inner"}, paths(p.ToCopy))
	assert.Equal(t, []string{"x"}, paths(p.ToDelete))
}

func TestDiff_Ordering(t *testing.T) {
	t.Parallel()

	source := schema.NewInventory("/src",
		dir("b"), dir("b/c"), dir("b/c/d"), dir("a"), dir("a/z"),
		file("b/c/d/f", 1, 1), file("a/f", 1, 1),
	)
	replica := schema.NewInventory("/rep",
		dir("old"), dir("old/deeper"), file("old/deeper/f", 1, 1), file("old/g", 1, 1), file("top", 1, 1),
	)

	p := NewHandler(0).Diff(source, replica)

	require.Len(t, p.ToCreateDir, 5)
	assert.Equal(t, []string{"a", "b", "a/z", "b/c", "b/c/d"}, paths(p.ToCreateDir))
	assert.Equal(t, []string{"a/f", "b/c/d/f"}, paths(p.ToCopy))
	assert.Equal(t, []string{"old/deeper/f", "old/deeper", "old/g", "old", "top"}, paths(p.ToDelete))

	for i := 1; i < len(p.ToCreateDir); i++ {
		assert.LessOrEqual(t, p.ToCreateDir[i-1].Depth(), p.ToCreateDir[i].Depth())
	}
	for i := 1; i < len(p.ToDelete); i++ {
		assert.GreaterOrEqual(t, p.ToDelete[i-1].Depth(), p.ToDelete[i].Depth())
	}
}

func TestDiff_DisjointSets(t *testing.T) {
	t.Parallel()

	source := schema.NewInventory("/src", file("a", 1, 1), dir("d"), file("d/e", 1, 1))
	replica := schema.NewInventory("/rep", file("a", 2, 1), file("b", 1, 1), dir("c"))

	p := NewHandler(0).Diff(source, replica)

	seen := make(map[string]int)
	for _, set := range [][]*Action{p.ToCreateDir, p.ToCopy, p.ToDelete} {
		setSeen := make(map[string]struct{})
		for _, a := range set {
			_, dup := setSeen[a.Path]
			assert.False(t, dup, "path %s planned twice in one set", a.Path)
			setSeen[a.Path] = struct{}{}
			seen[a.Path]++
		}
	}

	for path, n := range seen {
		assert.Equal(t, 1, n, "path %s planned in more than one set", path)
	}
}
