package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/agentworkforce/relaytimeline/internal/timeline"
)

const sampleLog = `{"sem":true,"event":{"type":"llm.start","id":"m1","stream_id":"s2","data":{"model":"gpt-test"}}}
{"sem":true,"event":{"type":"llm.delta","id":"m1","stream_id":"s3","data":{"cumulative":"Hi there"}}}
{"sem":true,"event":{"type":"tool.start","id":"t1","stream_id":"s1","data":{"name":"search"}}}
{"sem":true,"event":{"type":"tool.result","id":"t1","data":{"customKind":"hypercard.card.v2","result":{"title":"Weather","template":"forecast"}}}}
`

func writeLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.ndjson")
	if err := os.WriteFile(path, []byte(sampleLog), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestProjectPrintsTimelineInSequenceOrder(t *testing.T) {
	out, err := runCLI(t, "project", "--file", writeLog(t), "--conversation", "c1")
	if err != nil {
		t.Fatalf("project failed: %v", err)
	}
	var entities []timeline.TimelineEntity
	if err := json.Unmarshal([]byte(out), &entities); err != nil {
		t.Fatalf("decode output: %v (%s)", err, out)
	}
	if len(entities) != 3 {
		t.Fatalf("expected 3 entities, got %d (%s)", len(entities), out)
	}
	if entities[0].ID != "tool:t1" || entities[1].ID != "message:m1" || entities[2].ID != "card:t1" {
		t.Fatalf("expected stream order tool, message, card; got %s, %s, %s", entities[0].ID, entities[1].ID, entities[2].ID)
	}
}

func TestProjectWorkView(t *testing.T) {
	out, err := runCLI(t, "project", "--file", writeLog(t), "--view", "work")
	if err != nil {
		t.Fatalf("project failed: %v", err)
	}
	var items []timeline.TimelineWidgetItem
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		t.Fatalf("decode output: %v (%s)", err, out)
	}
	if len(items) != 2 {
		t.Fatalf("expected tool and card work items, got %+v", items)
	}
	if items[1].Kind != timeline.WidgetCard || items[1].Title != "Weather" {
		t.Fatalf("expected weather card, got %+v", items[1])
	}
}

func TestProjectAdaptersFileDisablesCards(t *testing.T) {
	adapters := filepath.Join(t.TempDir(), "adapters.yaml")
	if err := os.WriteFile(adapters, []byte("adapters:\n  - customKind: hypercard.card.v2\n    enabled: false\n"), 0o644); err != nil {
		t.Fatalf("write adapters: %v", err)
	}
	out, err := runCLI(t, "project", "--file", writeLog(t), "--adapters", adapters)
	if err != nil {
		t.Fatalf("project failed: %v", err)
	}
	var entities []timeline.TimelineEntity
	if err := json.Unmarshal([]byte(out), &entities); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	last := entities[len(entities)-1]
	if last.ID != "result:t1" || last.Kind != timeline.KindToolResult {
		t.Fatalf("expected generic tool result without card adapter, got %+v", last)
	}
}

func TestProjectRejectsUnknownView(t *testing.T) {
	if _, err := runCLI(t, "project", "--file", writeLog(t), "--view", "gallery"); err == nil {
		t.Fatalf("expected error for unknown view")
	}
}

func TestProjectRequiresFile(t *testing.T) {
	if _, err := runCLI(t, "project"); err == nil {
		t.Fatalf("expected error when --file is missing")
	}
}
