package main

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	v := viper.New()
	v.Set("packages", map[string]string{
		"editor":   "/var/lib/appfs/editor.afs",
		"terminal": "/var/lib/appfs/terminal.afs",
	})

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	m := newManager(log)
	m.load(v)
	return m
}

func TestGetPackage(t *testing.T) {
	m := newTestManager(t)

	path, derr := m.GetPackage("editor")
	if derr != nil {
		t.Fatalf("GetPackage(editor): %v", derr)
	}
	if path != "/var/lib/appfs/editor.afs" {
		t.Errorf("path: actual %q", path)
	}
}

func TestGetPackageUnknown(t *testing.T) {
	m := newTestManager(t)

	_, derr := m.GetPackage("does-not-exist")
	if derr == nil {
		t.Fatal("expected a bus error for an unknown package")
	}
	if derr.Name != errNoSuchPackage {
		t.Errorf("error name: actual %q", derr.Name)
	}
}

func TestLoadReplacesMap(t *testing.T) {
	m := newTestManager(t)

	v := viper.New()
	v.Set("packages", map[string]string{"only": "/tmp/only.afs"})
	m.load(v)

	if _, derr := m.GetPackage("editor"); derr == nil {
		t.Error("stale entry survived reload")
	}
	if _, derr := m.GetPackage("only"); derr != nil {
		t.Errorf("new entry missing: %v", derr)
	}
}
