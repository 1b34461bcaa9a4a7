package logrus

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/mdpipe/mdcache"
)

func TestFieldsReachOutput(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetLevel(logrus.InfoLevel)

	lg := New(l)
	lg.Debug("hidden", nil)
	lg.Warn("fetch cache set failed", mdcache.Fields{"key": "fetch:u::default"})

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("want exactly one JSON line, got %q: %v", buf.String(), err)
	}
	if line["msg"] != "fetch cache set failed" || line["level"] != "warning" ||
		line["key"] != "fetch:u::default" || line["component"] != "mdcache" {
		t.Fatalf("unexpected line %v", line)
	}
}
