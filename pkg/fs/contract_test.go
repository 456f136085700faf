package fs

import (
	"bytes"
	"errors"
	iofs "io/fs"
	"slices"
	"strings"
	"syscall"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// =============================================================================
// Contract tests
//
// Every test in this file runs against both Mem and Real. Real is rooted in
// t.TempDir(); Mem is rooted in a fresh /work directory. The same calls must
// produce the same results and the same error kinds on both.
// =============================================================================

type backend struct {
	name string
	new  func(t *testing.T) (FS, string)
}

var backends = []backend{
	{
		name: "mem",
		new: func(t *testing.T) (FS, string) {
			t.Helper()

			fsys := NewMem(Options{})
			if err := fsys.CreateDirAll("/work"); err != nil {
				t.Fatalf("CreateDirAll(/work): %v", err)
			}

			return fsys, "/work"
		},
	},
	{
		name: "real",
		new: func(t *testing.T) (FS, string) {
			t.Helper()

			return NewReal(Options{TempRoot: t.TempDir()}), t.TempDir()
		},
	},
}

func forEachBackend(t *testing.T, fn func(t *testing.T, fsys FS, root string)) {
	t.Helper()

	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()

			fsys, root := b.new(t)
			fn(t, fsys, root)
		})
	}
}

func requireKind(t *testing.T, err error, want Kind) {
	t.Helper()

	if err == nil {
		t.Fatalf("err=nil, want kind %q", want)
	}

	if got := KindOf(err); got != want {
		t.Fatalf("kind=%q, want=%q (err=%v)", got, want, err)
	}
}

func mustWrite(t *testing.T, fsys FS, path, content string) {
	t.Helper()

	if err := fsys.WriteFile(path, []byte(content)); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
}

func mustRead(t *testing.T, fsys FS, path string) string {
	t.Helper()

	got, err := fsys.ReadFileToString(path)
	if err != nil {
		t.Fatalf("ReadFileToString(%s): %v", path, err)
	}

	return got
}

func mustMkdirAll(t *testing.T, fsys FS, path string) {
	t.Helper()

	if err := fsys.CreateDirAll(path); err != nil {
		t.Fatalf("CreateDirAll(%s): %v", path, err)
	}
}

func sortedNames(t *testing.T, fsys FS, path string) []string {
	t.Helper()

	entries, err := ReadDirAll(fsys, path)
	if err != nil {
		t.Fatalf("ReadDirAll(%s): %v", path, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}

	slices.Sort(names)

	return names
}

func Test_Contract_Reports_Nothing_When_Path_Was_Never_Created(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, fsys FS, root string) {
		p := root + "/missing"

		if fsys.IsDir(p) || fsys.IsFile(p) {
			t.Fatalf("IsDir/IsFile(%s) reported true for a missing path", p)
		}

		if got, want := fsys.Len(p), int64(0); got != want {
			t.Fatalf("Len=%d, want=%d", got, want)
		}

		_, err := fsys.ReadFile(p)
		requireKind(t, err, KindNotFound)

		_, err = fsys.Mode(p)
		requireKind(t, err, KindNotFound)
	})
}

func Test_Contract_CreateDirAll_Succeeds_When_Called_Twice(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, fsys FS, root string) {
		p := root + "/a/b/c"

		mustMkdirAll(t, fsys, p)
		mustMkdirAll(t, fsys, p)

		if !fsys.IsDir(p) {
			t.Fatalf("IsDir(%s)=false after CreateDirAll", p)
		}
	})
}

func Test_Contract_CreateDirAll_Returns_NotADirectory_When_Component_Is_File(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, fsys FS, root string) {
		mustWrite(t, fsys, root+"/file", "x")

		requireKind(t, fsys.CreateDirAll(root+"/file/sub"), KindNotADirectory)
		requireKind(t, fsys.CreateDirAll(root+"/file"), KindNotADirectory)
	})
}

func Test_Contract_CreateDir_Returns_Typed_Errors_When_Preconditions_Fail(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, fsys FS, root string) {
		requireKind(t, fsys.CreateDir(root+"/no/parent"), KindNotFound)

		if err := fsys.CreateDir(root + "/d"); err != nil {
			t.Fatalf("CreateDir: %v", err)
		}

		requireKind(t, fsys.CreateDir(root+"/d"), KindAlreadyExists)

		mustWrite(t, fsys, root+"/f", "x")
		requireKind(t, fsys.CreateDir(root+"/f"), KindAlreadyExists)
	})
}

func Test_Contract_WriteFile_Replaces_Content_When_Called_Twice(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, fsys FS, root string) {
		p := root + "/f.txt"

		mustWrite(t, fsys, p, "first, longer content")
		mustWrite(t, fsys, p, "second")

		if got, want := mustRead(t, fsys, p), "second"; got != want {
			t.Fatalf("content=%q, want=%q", got, want)
		}

		if got, want := fsys.Len(p), int64(len("second")); got != want {
			t.Fatalf("Len=%d, want=%d", got, want)
		}
	})
}

func Test_Contract_CreateFile_Succeeds_When_Parent_Is_Created(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, fsys FS, root string) {
		p := root + "/a/b.txt"

		requireKind(t, fsys.CreateFile(p, []byte{1, 2, 3}), KindNotFound)

		if err := fsys.CreateDir(root + "/a"); err != nil {
			t.Fatalf("CreateDir: %v", err)
		}

		if err := fsys.CreateFile(p, []byte{1, 2, 3}); err != nil {
			t.Fatalf("CreateFile: %v", err)
		}

		got, err := fsys.ReadFile(p)
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}

		if diff := cmp.Diff([]byte{1, 2, 3}, got); diff != "" {
			t.Fatalf("content mismatch (-want +got):\n%s", diff)
		}

		requireKind(t, fsys.CreateFile(p, []byte{4}), KindAlreadyExists)
	})
}

func Test_Contract_OverwriteFile_Returns_NotFound_When_File_Is_Missing(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, fsys FS, root string) {
		p := root + "/f"

		requireKind(t, fsys.OverwriteFile(p, []byte("x")), KindNotFound)

		if fsys.IsFile(p) {
			t.Fatalf("OverwriteFile created %s", p)
		}

		mustWrite(t, fsys, p, "old content")

		if err := fsys.OverwriteFile(p, []byte("new")); err != nil {
			t.Fatalf("OverwriteFile: %v", err)
		}

		if got, want := mustRead(t, fsys, p), "new"; got != want {
			t.Fatalf("content=%q, want=%q", got, want)
		}
	})
}

func Test_Contract_File_Operations_Return_NotAFile_When_Target_Is_Directory(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, fsys FS, root string) {
		d := root + "/d"
		mustMkdirAll(t, fsys, d)

		requireKind(t, fsys.WriteFile(d, []byte("x")), KindNotAFile)

		_, err := fsys.ReadFile(d)
		requireKind(t, err, KindNotAFile)

		var buf bytes.Buffer

		_, err = fsys.ReadFileInto(d, &buf)
		requireKind(t, err, KindNotAFile)

		requireKind(t, fsys.RemoveFile(d), KindNotAFile)
		requireKind(t, fsys.Copy(d, root+"/copy"), KindNotAFile)

		if !fsys.IsDir(d) {
			t.Fatalf("directory %s was removed", d)
		}
	})
}

func Test_Contract_Reads_Return_Same_Content_When_Using_Each_Variant(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, fsys FS, root string) {
		p := root + "/f"
		mustWrite(t, fsys, p, "hello world")

		data, err := fsys.ReadFile(p)
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}

		var buf bytes.Buffer

		n, err := fsys.ReadFileInto(p, &buf)
		if err != nil {
			t.Fatalf("ReadFileInto: %v", err)
		}

		if got, want := n, int64(len("hello world")); got != want {
			t.Fatalf("ReadFileInto n=%d, want=%d", got, want)
		}

		if got, want := string(data), mustRead(t, fsys, p); got != want {
			t.Fatalf("ReadFile=%q, ReadFileToString=%q", got, want)
		}

		if got, want := buf.String(), string(data); got != want {
			t.Fatalf("ReadFileInto=%q, want=%q", got, want)
		}
	})
}

func Test_Contract_RemoveDir_Returns_DirectoryNotEmpty_When_Directory_Has_Children(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, fsys FS, root string) {
		a := root + "/a"
		mustMkdirAll(t, fsys, a+"/sub")
		mustWrite(t, fsys, a+"/f", "x")

		requireKind(t, fsys.RemoveDir(a), KindDirectoryNotEmpty)

		if err := fsys.RemoveDirAll(a); err != nil {
			t.Fatalf("RemoveDirAll: %v", err)
		}

		if fsys.IsDir(a) {
			t.Fatalf("IsDir(%s)=true after RemoveDirAll", a)
		}
	})
}

func Test_Contract_Remove_Operations_Return_Typed_Errors_When_Kind_Is_Wrong(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, fsys FS, root string) {
		mustWrite(t, fsys, root+"/f", "x")

		requireKind(t, fsys.RemoveDir(root+"/f"), KindNotADirectory)
		requireKind(t, fsys.RemoveDirAll(root+"/f"), KindNotADirectory)
		requireKind(t, fsys.RemoveDirAll(root+"/missing"), KindNotFound)
		requireKind(t, fsys.RemoveDir(root+"/missing"), KindNotFound)
		requireKind(t, fsys.RemoveFile(root+"/missing"), KindNotFound)

		if err := fsys.CreateDir(root + "/empty"); err != nil {
			t.Fatalf("CreateDir: %v", err)
		}

		if err := fsys.RemoveDir(root + "/empty"); err != nil {
			t.Fatalf("RemoveDir: %v", err)
		}

		if err := fsys.RemoveFile(root + "/f"); err != nil {
			t.Fatalf("RemoveFile: %v", err)
		}

		if diff := cmp.Diff([]string{}, sortedNames(t, fsys, root)); diff != "" {
			t.Fatalf("root not empty (-want +got):\n%s", diff)
		}
	})
}

func Test_Contract_Symlink_Follows_Target_When_Reading_And_Dangles_After_Removal(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, fsys FS, root string) {
		target := root + "/a/b.txt"
		link := root + "/link"

		mustMkdirAll(t, fsys, root+"/a")
		mustWrite(t, fsys, target, "payload")

		if err := fsys.Symlink(target, link); err != nil {
			t.Fatalf("Symlink: %v", err)
		}

		if got, want := mustRead(t, fsys, link), "payload"; got != want {
			t.Fatalf("read through link=%q, want=%q", got, want)
		}

		if !fsys.IsFile(link) {
			t.Fatalf("IsFile(link)=false while target exists")
		}

		if err := fsys.RemoveFile(target); err != nil {
			t.Fatalf("RemoveFile: %v", err)
		}

		_, err := fsys.ReadFile(link)
		requireKind(t, err, KindNotFound)

		if fsys.IsFile(link) {
			t.Fatalf("IsFile(dangling link)=true")
		}

		got, err := fsys.Readlink(link)
		if err != nil {
			t.Fatalf("Readlink(dangling): %v", err)
		}

		if got != target {
			t.Fatalf("Readlink=%q, want=%q", got, target)
		}
	})
}

func Test_Contract_Symlink_Resolves_Relative_Target_Against_Link_Directory(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, fsys FS, root string) {
		mustMkdirAll(t, fsys, root+"/dir/sub")
		mustWrite(t, fsys, root+"/dir/data", "relative")

		if err := fsys.Symlink("../data", root+"/dir/sub/link"); err != nil {
			t.Fatalf("Symlink: %v", err)
		}

		if got, want := mustRead(t, fsys, root+"/dir/sub/link"), "relative"; got != want {
			t.Fatalf("content=%q, want=%q", got, want)
		}

		if err := fsys.Symlink("sub", root+"/dir/s"); err != nil {
			t.Fatalf("Symlink(dir): %v", err)
		}

		mustWrite(t, fsys, root+"/dir/s/through", "via link")

		if got, want := mustRead(t, fsys, root+"/dir/sub/through"), "via link"; got != want {
			t.Fatalf("content=%q, want=%q", got, want)
		}
	})
}

func Test_Contract_Returns_InvalidPath_When_Symlinks_Form_A_Cycle(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, fsys FS, root string) {
		if err := fsys.Symlink(root+"/b", root+"/a"); err != nil {
			t.Fatalf("Symlink a: %v", err)
		}

		if err := fsys.Symlink(root+"/a", root+"/b"); err != nil {
			t.Fatalf("Symlink b: %v", err)
		}

		_, err := fsys.ReadFile(root + "/a")
		requireKind(t, err, KindInvalidPath)

		requireKind(t, fsys.WriteFile(root+"/a/x", []byte("x")), KindInvalidPath)

		if fsys.IsFile(root+"/a") || fsys.IsDir(root+"/a") {
			t.Fatalf("cyclic link reported as file or dir")
		}

		// The links themselves are still there and removable.
		if err := fsys.RemoveFile(root + "/a"); err != nil {
			t.Fatalf("RemoveFile(a): %v", err)
		}
	})
}

func Test_Contract_Readlink_Returns_InvalidPath_When_Path_Is_Not_A_Symlink(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, fsys FS, root string) {
		mustWrite(t, fsys, root+"/f", "x")

		_, err := fsys.Readlink(root + "/f")
		requireKind(t, err, KindInvalidPath)
	})
}

func Test_Contract_RemoveFile_Removes_Link_Not_Target_When_Path_Is_Symlink(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, fsys FS, root string) {
		mustMkdirAll(t, fsys, root+"/d")
		mustWrite(t, fsys, root+"/d/f", "keep")

		if err := fsys.Symlink(root+"/d", root+"/dirlink"); err != nil {
			t.Fatalf("Symlink: %v", err)
		}

		requireKind(t, fsys.RemoveDir(root+"/dirlink"), KindNotADirectory)

		if err := fsys.RemoveFile(root + "/dirlink"); err != nil {
			t.Fatalf("RemoveFile(link): %v", err)
		}

		if got, want := mustRead(t, fsys, root+"/d/f"), "keep"; got != want {
			t.Fatalf("target content=%q, want=%q", got, want)
		}
	})
}

func Test_Contract_Rename_Applies_Overwrite_Rules_When_Destination_Exists(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, fsys FS, root string) {
		mustWrite(t, fsys, root+"/f1", "one")
		mustWrite(t, fsys, root+"/f2", "two")
		mustMkdirAll(t, fsys, root+"/d1/inner")
		mustWrite(t, fsys, root+"/d1/inner/x", "x")
		mustMkdirAll(t, fsys, root+"/d2/old")

		requireKind(t, fsys.Rename(root+"/missing", root+"/f1"), KindNotFound)
		requireKind(t, fsys.Rename(root+"/d1", root+"/f1"), KindTypeMismatch)
		requireKind(t, fsys.Rename(root+"/f1", root+"/d1"), KindTypeMismatch)

		// file over file
		if err := fsys.Rename(root+"/f1", root+"/f2"); err != nil {
			t.Fatalf("Rename(f1, f2): %v", err)
		}

		if got, want := mustRead(t, fsys, root+"/f2"), "one"; got != want {
			t.Fatalf("f2=%q, want=%q", got, want)
		}

		if fsys.IsFile(root + "/f1") {
			t.Fatalf("f1 still exists after rename")
		}

		// dir over populated dir replaces the subtree
		if err := fsys.Rename(root+"/d1", root+"/d2"); err != nil {
			t.Fatalf("Rename(d1, d2): %v", err)
		}

		if diff := cmp.Diff([]string{"inner"}, sortedNames(t, fsys, root+"/d2")); diff != "" {
			t.Fatalf("d2 entries mismatch (-want +got):\n%s", diff)
		}

		if got, want := mustRead(t, fsys, root+"/d2/inner/x"), "x"; got != want {
			t.Fatalf("moved file=%q, want=%q", got, want)
		}

		if diff := cmp.Diff([]string{"d2", "f2"}, sortedNames(t, fsys, root)); diff != "" {
			t.Fatalf("root entries mismatch (-want +got):\n%s", diff)
		}
	})
}

func Test_Contract_Rename_Returns_InvalidPath_When_Moving_Dir_Into_Itself(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, fsys FS, root string) {
		mustMkdirAll(t, fsys, root+"/a/b")

		requireKind(t, fsys.Rename(root+"/a", root+"/a/b/c"), KindInvalidPath)

		if !fsys.IsDir(root + "/a/b") {
			t.Fatalf("tree changed after failed rename")
		}
	})
}

func Test_Contract_Rename_Returns_InvalidPath_When_Destination_Is_Ancestor_Of_Source(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, fsys FS, root string) {
		mustWrite(t, fsys, root+"/p/q/data", "data")
		mustWrite(t, fsys, root+"/p/keep", "keep")

		requireKind(t, fsys.Rename(root+"/p/q", root+"/p"), KindInvalidPath)
		requireKind(t, fsys.Rename(root+"/p/q", root), KindInvalidPath)

		if got, want := mustRead(t, fsys, root+"/p/keep"), "keep"; got != want {
			t.Fatalf("sibling=%q, want=%q", got, want)
		}

		if got, want := mustRead(t, fsys, root+"/p/q/data"), "data"; got != want {
			t.Fatalf("source file=%q, want=%q", got, want)
		}
	})
}

func Test_Contract_Rename_Returns_PermissionDenied_When_Destination_Holds_Readonly_Dir(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, fsys FS, root string) {
		mustWrite(t, fsys, root+"/x/f", "f")
		mustMkdirAll(t, fsys, root+"/z/ro")

		if err := fsys.SetReadonly(root+"/z/ro", true); err != nil {
			t.Fatalf("SetReadonly: %v", err)
		}

		requireKind(t, fsys.Rename(root+"/x", root+"/z"), KindPermissionDenied)

		if !fsys.IsDir(root + "/z/ro") {
			t.Fatalf("readonly dir removed by failed rename")
		}

		if got, want := mustRead(t, fsys, root+"/x/f"), "f"; got != want {
			t.Fatalf("source file=%q, want=%q", got, want)
		}

		if err := fsys.SetReadonly(root+"/z/ro", false); err != nil {
			t.Fatalf("SetReadonly(false): %v", err)
		}

		if err := fsys.Rename(root+"/x", root+"/z"); err != nil {
			t.Fatalf("Rename after clearing readonly: %v", err)
		}

		if diff := cmp.Diff([]string{"f"}, sortedNames(t, fsys, root+"/z")); diff != "" {
			t.Fatalf("z entries mismatch (-want +got):\n%s", diff)
		}

		if diff := cmp.Diff([]string{"z"}, sortedNames(t, fsys, root)); diff != "" {
			t.Fatalf("root entries mismatch (-want +got):\n%s", diff)
		}
	})
}

func Test_Contract_Rename_Moves_Link_Itself_When_Source_Is_Symlink(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, fsys FS, root string) {
		mustWrite(t, fsys, root+"/target", "t")

		if err := fsys.Symlink("target", root+"/l1"); err != nil {
			t.Fatalf("Symlink: %v", err)
		}

		if err := fsys.Rename(root+"/l1", root+"/l2"); err != nil {
			t.Fatalf("Rename: %v", err)
		}

		got, err := fsys.Readlink(root + "/l2")
		if err != nil {
			t.Fatalf("Readlink: %v", err)
		}

		if got != "target" {
			t.Fatalf("Readlink=%q, want=%q", got, "target")
		}

		if !fsys.IsFile(root + "/target") {
			t.Fatalf("target moved with the link")
		}
	})
}

func Test_Contract_Copy_Copies_Content_And_Mode_When_Source_Is_File(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, fsys FS, root string) {
		src := root + "/src"
		dst := root + "/dst"

		mustWrite(t, fsys, src, "copy me")

		if err := fsys.SetMode(src, 0o600); err != nil {
			t.Fatalf("SetMode: %v", err)
		}

		if err := fsys.Copy(src, dst); err != nil {
			t.Fatalf("Copy: %v", err)
		}

		if got, want := mustRead(t, fsys, dst), "copy me"; got != want {
			t.Fatalf("dst=%q, want=%q", got, want)
		}

		mode, err := fsys.Mode(dst)
		if err != nil {
			t.Fatalf("Mode: %v", err)
		}

		if got, want := mode, iofs.FileMode(0o600); got != want {
			t.Fatalf("mode=%#o, want=%#o", got, want)
		}

		// source untouched, second copy overwrites
		mustWrite(t, fsys, src, "v2")

		if err := fsys.Copy(src, dst); err != nil {
			t.Fatalf("Copy(again): %v", err)
		}

		if got, want := mustRead(t, fsys, dst), "v2"; got != want {
			t.Fatalf("dst=%q, want=%q", got, want)
		}

		requireKind(t, fsys.Copy(root+"/missing", dst), KindNotFound)
	})
}

func Test_Contract_ReadDir_Lists_Immediate_Children_When_Path_Is_Directory(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, fsys FS, root string) {
		mustMkdirAll(t, fsys, root+"/d/nested")
		mustWrite(t, fsys, root+"/d/nested/deep", "x")
		mustWrite(t, fsys, root+"/d/file", "x")

		if err := fsys.Symlink("file", root+"/d/link"); err != nil {
			t.Fatalf("Symlink: %v", err)
		}

		entries, err := ReadDirAll(fsys, root+"/d")
		if err != nil {
			t.Fatalf("ReadDirAll: %v", err)
		}

		slices.SortFunc(entries, func(a, b DirEntry) int { return strings.Compare(a.Name, b.Name) })

		want := []DirEntry{
			{Name: "file", Path: root + "/d/file", Kind: EntryFile},
			{Name: "link", Path: root + "/d/link", Kind: EntrySymlink},
			{Name: "nested", Path: root + "/d/nested", Kind: EntryDir},
		}

		if diff := cmp.Diff(want, entries); diff != "" {
			t.Fatalf("entries mismatch (-want +got):\n%s", diff)
		}

		_, err = fsys.ReadDir(root + "/d/file")
		requireKind(t, err, KindNotADirectory)

		_, err = fsys.ReadDir(root + "/missing")
		requireKind(t, err, KindNotFound)
	})
}

func Test_Contract_Trailing_Slash_Requires_Directory_When_Path_Names_File(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, fsys FS, root string) {
		mustWrite(t, fsys, root+"/f", "x")
		mustMkdirAll(t, fsys, root+"/d")

		_, err := fsys.ReadFile(root + "/f/")
		requireKind(t, err, KindNotADirectory)

		if fsys.IsFile(root + "/f/") {
			t.Fatalf("IsFile(f/)=true, want false")
		}

		if !fsys.IsDir(root + "/d/") {
			t.Fatalf("IsDir(d/)=false, want true")
		}

		requireKind(t, fsys.CreateFile(root+"/new/", []byte("x")), KindNotAFile)
		requireKind(t, fsys.WriteFile(root+"/new/", []byte("x")), KindNotAFile)

		if diff := cmp.Diff([]string{"d", "f"}, sortedNames(t, fsys, root)); diff != "" {
			t.Fatalf("root entries mismatch (-want +got):\n%s", diff)
		}

		if got, want := mustRead(t, fsys, root+"/f"), "x"; got != want {
			t.Fatalf("f=%q, want=%q", got, want)
		}
	})
}

func Test_Contract_ReadFileToString_Returns_EILSEQ_When_Content_Is_Not_UTF8(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, fsys FS, root string) {
		p := root + "/bin"
		raw := []byte{0xff, 0xfe, 'x'}

		if err := fsys.WriteFile(p, raw); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}

		got, err := fsys.ReadFileToString(p)
		requireKind(t, err, KindOther)

		if !errors.Is(err, syscall.EILSEQ) {
			t.Fatalf("err=%v, want EILSEQ", err)
		}

		if got != "" {
			t.Fatalf("ReadFileToString=%q, want empty on error", got)
		}

		data, err := fsys.ReadFile(p)
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}

		if !bytes.Equal(data, raw) {
			t.Fatalf("ReadFile=%q, want=%q", data, raw)
		}
	})
}

func Test_Contract_Readonly_Blocks_Writes_When_File_Is_Readonly(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, fsys FS, root string) {
		p := root + "/f"
		mustWrite(t, fsys, p, "original")

		if err := fsys.SetReadonly(p, true); err != nil {
			t.Fatalf("SetReadonly: %v", err)
		}

		readonly, err := fsys.Readonly(p)
		if err != nil {
			t.Fatalf("Readonly: %v", err)
		}

		if !readonly {
			t.Fatalf("Readonly=false after SetReadonly(true)")
		}

		requireKind(t, fsys.WriteFile(p, []byte("changed")), KindPermissionDenied)
		requireKind(t, fsys.OverwriteFile(p, []byte("changed")), KindPermissionDenied)
		requireKind(t, fsys.RemoveFile(p), KindPermissionDenied)

		mustWrite(t, fsys, root+"/other", "other")
		requireKind(t, fsys.Rename(root+"/other", p), KindPermissionDenied)

		if got, want := mustRead(t, fsys, p), "original"; got != want {
			t.Fatalf("content=%q, want=%q", got, want)
		}

		if err := fsys.SetReadonly(p, false); err != nil {
			t.Fatalf("SetReadonly(false): %v", err)
		}

		mustWrite(t, fsys, p, "changed")
	})
}

func Test_Contract_ReadFile_Returns_PermissionDenied_When_File_Has_No_Read_Bits(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, fsys FS, root string) {
		p := root + "/secret"
		mustWrite(t, fsys, p, "x")

		if err := fsys.SetMode(p, 0o200); err != nil {
			t.Fatalf("SetMode: %v", err)
		}

		_, err := fsys.ReadFile(p)
		requireKind(t, err, KindPermissionDenied)

		if !errors.Is(err, ErrPermissionDenied) || !errors.Is(err, iofs.ErrPermission) {
			t.Fatalf("err=%v should match ErrPermissionDenied and io/fs.ErrPermission", err)
		}
	})
}

func Test_Contract_TempDir_Is_Removed_When_Guard_Is_Closed(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, fsys FS, _ string) {
		dir, err := fsys.TempDir("contract")
		if err != nil {
			t.Fatalf("TempDir: %v", err)
		}

		if !fsys.IsDir(dir.Path()) {
			t.Fatalf("IsDir(%s)=false after TempDir", dir.Path())
		}

		mustMkdirAll(t, fsys, dir.Path()+"/nested")
		mustWrite(t, fsys, dir.Path()+"/nested/f", "x")

		if err := dir.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}

		if fsys.IsDir(dir.Path()) {
			t.Fatalf("IsDir(%s)=true after Close", dir.Path())
		}

		if err := dir.Close(); err != nil {
			t.Fatalf("second Close: %v", err)
		}
	})
}

func Test_Contract_TempDir_Returns_Unique_Paths_When_Called_Repeatedly(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, fsys FS, _ string) {
		a, err := fsys.TempDir("same")
		if err != nil {
			t.Fatalf("TempDir: %v", err)
		}
		defer a.Close()

		b, err := fsys.TempDir("same")
		if err != nil {
			t.Fatalf("TempDir: %v", err)
		}
		defer b.Close()

		if a.Path() == b.Path() {
			t.Fatalf("TempDir returned %s twice", a.Path())
		}

		if !strings.Contains(a.Path(), "same-") {
			t.Fatalf("path %s does not carry the prefix", a.Path())
		}
	})
}
