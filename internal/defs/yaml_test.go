package defs

import (
	"strings"
	"testing"
	"time"
)

const paymentYAML = `
uri: wf:payment
name: payment
start: charge
category: billing
view:
  region: eu
steps:
  - name: charge
    executable: script:charge.sh
    timeLimit: 30s
    transitions:
      - name: ok
        target: fan
      - target: $FAIL
  - name: fan
    executable: "$SPLIT:ship,bill"
    transitions:
      - name: ok
        target: close
      - name: error
        target: $FAIL
  - name: ship
    executable: script:ship.sh
    category: warehouse
  - name: bill
    executable: script:bill.sh
  - name: close
    executable: script:close.sh
`

func TestLoadSingleWorkflow(t *testing.T) {
	defs, err := Load(strings.NewReader(paymentYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("expected 1 workflow, got %d", len(defs))
	}

	wf := defs[0]
	if wf.URI != "wf:payment" || wf.StartStep != "charge" || wf.Category != "billing" {
		t.Fatalf("unexpected workflow header: %+v", wf)
	}
	if wf.View["region"] != "eu" {
		t.Fatalf("view not loaded: %v", wf.View)
	}

	charge, ok := wf.FindStep("charge")
	if !ok {
		t.Fatalf("charge step missing")
	}
	if charge.TimeLimit != 30*time.Second {
		t.Fatalf("expected 30s time limit, got %v", charge.TimeLimit)
	}
	if len(charge.Transitions) != 2 || charge.Transitions[0].Name != "ok" || charge.Transitions[1].Target != "$FAIL" {
		t.Fatalf("transitions not loaded: %+v", charge.Transitions)
	}

	fan, _ := wf.FindStep("fan")
	if fan.Executable != "$SPLIT:ship,bill" {
		t.Fatalf("split executable mangled: %q", fan.Executable)
	}
	ship, _ := wf.FindStep("ship")
	if ship.Category != "warehouse" {
		t.Fatalf("step category not loaded: %+v", ship)
	}
}

func TestLoadMultiDocument(t *testing.T) {
	docs := `
uri: wf:a
name: a
start: s
steps:
  - name: s
    executable: script:s
---
uri: wf:b
name: b
start: s
steps:
  - name: s
    executable: script:s
`
	defs, err := Load(strings.NewReader(docs))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(defs) != 2 || defs[0].URI != "wf:a" || defs[1].URI != "wf:b" {
		t.Fatalf("unexpected workflows: %+v", defs)
	}
}

func TestLoadRejectsInvalidDefinitions(t *testing.T) {
	cases := map[string]string{
		"empty input": ``,
		"bad duration": `
uri: wf:x
name: x
start: s
steps:
  - name: s
    executable: script:s
    timeLimit: soon
`,
		"missing start step": `
uri: wf:x
name: x
start: nope
steps:
  - name: s
    executable: script:s
`,
		"duplicate step": `
uri: wf:x
name: x
start: s
steps:
  - name: s
    executable: script:s
  - name: s
    executable: script:s
`,
	}
	for name, doc := range cases {
		if _, err := Load(strings.NewReader(doc)); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}
