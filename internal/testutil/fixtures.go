// Package testutil provides class-file fixtures for tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// ObjectClass returns a minimal java/lang/Object.
func ObjectClass() []byte {
	return NewClass("java/lang/Object", "", AccPublic|AccSuper).
		Method(AccPublic, "<init>", "()V").
		Method(AccPublic, "hashCode", "()I", WithCode(1, 1, []byte{0x03, 0xac})).
		Method(AccPublic, "equals", "(Ljava/lang/Object;)Z", WithCode(1, 2, []byte{0x03, 0xac})).
		Method(AccPublic, "toString", "()Ljava/lang/String;", WithCode(1, 1, []byte{0x01, 0xb0})).
		Method(AccProtected|AccNative, "clone", "()Ljava/lang/Object;").
		Method(AccStatic|AccPrivate|AccNative, "registerNatives", "()V").
		Build()
}

// SimpleClass returns a public class extending java/lang/Object with a
// default constructor.
func SimpleClass(name string) []byte {
	return NewClass(name, "java/lang/Object", AccPublic|AccSuper).
		Method(AccPublic, "<init>", "()V").
		Build()
}

// WriteClasses writes each class as <dir>/<name>.class and returns dir.
func WriteClasses(t *testing.T, dir string, classes map[string][]byte) string {
	t.Helper()
	for name, data := range classes {
		path := filepath.Join(dir, filepath.FromSlash(name)+".class")
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("failed to create dir for %s: %v", name, err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	return dir
}

// ClassDir writes classes into a fresh temporary directory.
func ClassDir(t *testing.T, classes map[string][]byte) string {
	t.Helper()
	return WriteClasses(t, t.TempDir(), classes)
}
