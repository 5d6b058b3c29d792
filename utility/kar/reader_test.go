package kar_test

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/devblok/vkframe/utility/kar"
	qt "github.com/frankban/quicktest"
	"golang.org/x/exp/mmap"
)

func writeArchive(c *qt.C) string {
	data := buildArchive(c, map[string]string{
		"test/test1.txt": "this is a test",
		"test/test2.txt": "this is another test",
	})
	path := filepath.Join(c.TempDir(), "opentest.kar")
	c.Assert(ioutil.WriteFile(path, data, 0644), qt.IsNil)
	return path
}

func TestOpenFile(t *testing.T) {
	c := qt.New(t)
	r, err := os.Open(writeArchive(c))
	c.Assert(err, qt.IsNil)
	defer r.Close()

	ar, err := kar.Open(r)
	c.Assert(err, qt.IsNil)

	f, err := ar.ReadAll("test/test1.txt")
	c.Assert(err, qt.IsNil)
	c.Assert(string(f), qt.Equals, "this is a test")
}

func TestOpenmmap(t *testing.T) {
	c := qt.New(t)
	r, err := mmap.Open(writeArchive(c))
	c.Assert(err, qt.IsNil)
	defer r.Close()

	ar, err := kar.Open(r)
	c.Assert(err, qt.IsNil)

	f, err := ar.ReadAll("test/test2.txt")
	c.Assert(err, qt.IsNil)
	c.Assert(string(f), qt.Equals, "this is another test")
}
