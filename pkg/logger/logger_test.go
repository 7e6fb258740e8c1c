package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]logrus.Level{
		"debug":   logrus.DebugLevel,
		"warn":    logrus.WarnLevel,
		"warning": logrus.WarnLevel,
		"error":   logrus.ErrorLevel,
		"info":    logrus.InfoLevel,
		"bogus":   logrus.InfoLevel,
		"":        logrus.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFieldsAppearInRecords(t *testing.T) {
	var buf bytes.Buffer
	log := New("test", "info", &buf)

	log.WithField("action_id", "a1").Info("processed")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode record: %v (%s)", err, buf.String())
	}
	if record["component"] != "test" || record["action_id"] != "a1" {
		t.Fatalf("unexpected record: %v", record)
	}
	if record["msg"] != "processed" {
		t.Fatalf("unexpected message: %v", record["msg"])
	}
}
