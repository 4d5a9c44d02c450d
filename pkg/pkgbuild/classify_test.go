package pkgbuild

import "testing"

func TestClassifyPlainHTTPS(t *testing.T) {
	name, kind, url := Classify("https://example.com/foo-1.0.tar.gz")
	if name != "foo-1.0.tar.gz" || kind != KindHTTPS || url != "https://example.com/foo-1.0.tar.gz" {
		t.Fatalf("unexpected classification: %q %q %q", name, kind, url)
	}
}

func TestClassifyNamedGitSource(t *testing.T) {
	name, kind, url := Classify("foo::git+https://github.com/example/foo.git")
	if name != "foo" || kind != KindGit || url != "https://github.com/example/foo.git" {
		t.Fatalf("unexpected classification: %q %q %q", name, kind, url)
	}
}

func TestClassifyLocalFile(t *testing.T) {
	name, kind, _ := Classify("fix-build.patch")
	if name != "fix-build.patch" || kind != KindLocal {
		t.Fatalf("unexpected classification: %q %q", name, kind)
	}
}

func TestClassifyUnsupportedVCSFallsToOther(t *testing.T) {
	_, kind, _ := Classify("foo::hg+https://example.com/foo")
	if kind != KindOther {
		t.Fatalf("expected KindOther, got %q", kind)
	}
}
