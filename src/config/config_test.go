package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestSetDataDir(t *testing.T) {
	conf := NewDefaultConfig()

	conf.SetDataDir("/tmp/mc")

	if conf.DatabaseDir != filepath.Join("/tmp/mc", DefaultBadgerFile) {
		t.Fatalf("DatabaseDir should follow DataDir, not %s", conf.DatabaseDir)
	}
	if conf.Keyfile() != filepath.Join("/tmp/mc", DefaultKeyfile) {
		t.Fatalf("Keyfile should be under DataDir, not %s", conf.Keyfile())
	}

	conf.DatabaseDir = "/var/db"
	conf.SetDataDir("/tmp/other")

	if conf.DatabaseDir != "/var/db" {
		t.Fatalf("explicit DatabaseDir should be kept, not %s", conf.DatabaseDir)
	}
}

func TestLogLevel(t *testing.T) {
	cases := map[string]logrus.Level{
		"info":    logrus.InfoLevel,
		"warn":    logrus.WarnLevel,
		"error":   logrus.ErrorLevel,
		"unknown": logrus.DebugLevel,
	}
	for s, l := range cases {
		if LogLevel(s) != l {
			t.Fatalf("LogLevel(%q) should be %v, not %v", s, l, LogLevel(s))
		}
	}
}

func TestLogFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "memorychain-config")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	conf := NewDefaultConfig()
	conf.LogLevel = "info"
	conf.LogFile = filepath.Join(dir, "node.log")

	conf.Logger().Info("hello file")

	buf, err := ioutil.ReadFile(conf.LogFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(buf), "hello file") {
		t.Fatalf("log file should contain the entry, got %q", string(buf))
	}
	if !strings.Contains(string(buf), "prefix=memorychain") {
		t.Fatalf("log file entries should carry the prefix, got %q", string(buf))
	}
}
