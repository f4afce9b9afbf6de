package site

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/heritage-harvester/internal/input"
	"github.com/JakeFAU/heritage-harvester/internal/site/hermitage"
	"github.com/JakeFAU/heritage-harvester/internal/site/page"
	"github.com/JakeFAU/heritage-harvester/internal/site/vanda"
	"github.com/JakeFAU/heritage-harvester/internal/site/wallace"
)

func TestNames(t *testing.T) {
	t.Parallel()
	require.Equal(t, []string{"hermitage", "vanda", "wallace"}, Names())
}

func TestOpenVanda(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "Key,Url,Title,Manual Tags\n"+
		"A,http://collections.vam.ac.uk/item/O2/x,Two,chairs\n"+
		"B,http://collections.vam.ac.uk/item/O1/y,One,\"a; b\"\n")
	src, err := Open(context.Background(), vanda.Site, path, Config{}, Deps{API: resty.New()}, nil)
	require.NoError(t, err)
	require.Equal(t, vanda.Site, src.Site)
	require.Equal(t, []string{"O2"}, src.IDs)
	require.IsType(t, &vanda.Fetcher{}, src.Fetcher)

	entry, ok := src.Catalog.Lookup("O2")
	require.True(t, ok)
	require.Equal(t, "chairs", entry.Tag)
}

func TestOpenWallace(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "x objectId=9 y objectId=10 z objectId=9")
	src, err := Open(context.Background(), wallace.Site, path, Config{}, Deps{Pages: page.New(page.Config{}, nil)}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"10", "9"}, src.IDs)
	require.IsType(t, &wallace.Fetcher{}, src.Fetcher)

	_, err = Open(context.Background(), wallace.Site, path, Config{}, Deps{}, nil)
	require.Error(t, err)
}

func TestOpenHermitage(t *testing.T) {
	t.Parallel()

	disc := &fakeDiscoverer{entries: []input.Entry{{ID: "a_1", URL: "https://h/digital-collection/a/1"}}}
	deps := Deps{Pages: page.New(page.Config{}, nil), Discoverer: disc}
	src, err := Open(context.Background(), hermitage.Site, "https://h/search", Config{}, deps, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"a_1"}, src.IDs)
	require.Equal(t, "https://h/search", disc.searched)
	require.IsType(t, &hermitage.Fetcher{}, src.Fetcher)

	deps.Discoverer = &fakeDiscoverer{err: errors.New("browser crashed")}
	_, err = Open(context.Background(), hermitage.Site, "https://h/search", Config{}, deps, nil)
	require.ErrorContains(t, err, "browser crashed")
}

func TestOpenErrors(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "louvre", "x", Config{}, Deps{}, nil)
	require.ErrorContains(t, err, "unknown site")

	_, err = Open(context.Background(), vanda.Site, filepath.Join(t.TempDir(), "missing.csv"), Config{}, Deps{}, nil)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// --- fakes ---

type fakeDiscoverer struct {
	entries  []input.Entry
	err      error
	searched string
}

func (f *fakeDiscoverer) Discover(_ context.Context, searchURL string) ([]input.Entry, error) {
	f.searched = searchURL
	return f.entries, f.err
}
