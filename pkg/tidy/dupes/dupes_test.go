package dupes_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/tidy/pkg/tidy/dupes"
	"github.com/jamesainslie/tidy/pkg/tidy/types"
)

var (
	old   = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	young = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

func file(path, fp string, mtime time.Time) types.ManagedFile {
	return types.ManagedFile{Path: path, Fingerprint: fp, Size: 100, ModTime: mtime}
}

func TestGroupsIgnoresSingletons(t *testing.T) {
	d := dupes.NewDetector(nil, "")
	groups := d.Groups([]types.ManagedFile{
		file("/a/one", "sha256:1", old),
		file("/a/two", "sha256:2", old),
		file("/a/none", "", old),
		file("/a/none2", "", old),
	})
	assert.Empty(t, groups)
}

func TestGroupsSortedWithDefaultAction(t *testing.T) {
	d := dupes.NewDetector(nil, "")
	groups := d.Groups([]types.ManagedFile{
		file("/b/x", "sha256:bb", old),
		file("/a/x", "sha256:aa", old),
		file("/b/y", "sha256:bb", old),
		file("/a/y", "sha256:aa", old),
		file("/a/z", "sha256:aa", old),
	})

	require.Len(t, groups, 2)
	assert.Equal(t, "sha256:aa", groups[0].Fingerprint)
	assert.Len(t, groups[0].Others, 2)
	assert.Equal(t, int64(200), groups[0].Wasted())
	assert.Equal(t, types.DuplicateQuarantine, groups[0].Action)
	assert.Equal(t, "sha256:bb", groups[1].Fingerprint)
}

func TestKeeperPolicy(t *testing.T) {
	tests := []struct {
		name  string
		files []types.ManagedFile
		want  string
	}{
		{
			name: "non-staging beats older staging",
			files: []types.ManagedFile{
				file("/home/me/Downloads/report.pdf", "fp", old),
				file("/home/me/docs/report.pdf", "fp", young),
			},
			want: "/home/me/docs/report.pdf",
		},
		{
			name: "older wins outside staging",
			files: []types.ManagedFile{
				file("/docs/b/report.pdf", "fp", young),
				file("/docs/a/deep/report.pdf", "fp", old),
			},
			want: "/docs/a/deep/report.pdf",
		},
		{
			name: "shallower wins on equal mtime",
			files: []types.ManagedFile{
				file("/docs/a/deep/report.pdf", "fp", old),
				file("/docs/z/report.pdf", "fp", old),
			},
			want: "/docs/z/report.pdf",
		},
		{
			name: "lexically smaller wins on equal depth",
			files: []types.ManagedFile{
				file("/docs/b/report.pdf", "fp", old),
				file("/docs/a/report.pdf", "fp", old),
			},
			want: "/docs/a/report.pdf",
		},
		{
			name: "all staging falls through to mtime",
			files: []types.ManagedFile{
				file("/inbox/new.pdf", "fp", young),
				file("/staging/old.pdf", "fp", old),
			},
			want: "/staging/old.pdf",
		},
	}

	d := dupes.NewDetector([]string{"inbox", "staging", "downloads"}, types.DuplicateSkip)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups := d.Groups(tt.files)
			require.Len(t, groups, 1)
			assert.Equal(t, tt.want, groups[0].Keeper.Path)
			assert.Len(t, groups[0].Members(), len(tt.files))
			for _, other := range groups[0].Others {
				assert.NotEqual(t, tt.want, other.Path)
			}
		})
	}
}

func TestKeeperOrderIndependent(t *testing.T) {
	d := dupes.NewDetector([]string{"inbox"}, "")
	a := file("/inbox/a.pdf", "fp", old)
	b := file("/docs/b.pdf", "fp", young)
	c := file("/docs/c.pdf", "fp", young)

	first := d.Groups([]types.ManagedFile{a, b, c})
	second := d.Groups([]types.ManagedFile{c, a, b})
	assert.Equal(t, first, second)
	assert.Equal(t, "/docs/b.pdf", first[0].Keeper.Path)
}

func TestInStaging(t *testing.T) {
	d := dupes.NewDetector([]string{"Inbox"}, "")
	assert.True(t, d.InStaging("/home/me/inbox/file.pdf"))
	assert.True(t, d.InStaging("/home/me/INBOX/sub/file.pdf"))
	assert.False(t, d.InStaging("/home/me/docs/inbox.pdf"))
}
