// Package defs loads workflow definitions from YAML documents.
package defs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tyrvik/weft/pkg/api"
)

// The on-disk shape differs from api.Workflow only where YAML needs help:
// durations are written as strings ("30s", "5m").

type yamlTransition struct {
	Name   string `yaml:"name"`
	Target string `yaml:"target"`
}

type yamlStep struct {
	Name        string            `yaml:"name"`
	Executable  string            `yaml:"executable"`
	Transitions []yamlTransition  `yaml:"transitions"`
	TimeLimit   string            `yaml:"timeLimit"`
	Category    string            `yaml:"category"`
	View        map[string]string `yaml:"view"`
}

type yamlWorkflow struct {
	URI       string            `yaml:"uri"`
	Name      string            `yaml:"name"`
	StartStep string            `yaml:"start"`
	Category  string            `yaml:"category"`
	Steps     []yamlStep        `yaml:"steps"`
	View      map[string]string `yaml:"view"`
}

func (y yamlWorkflow) toWorkflow() (api.Workflow, error) {
	wf := api.Workflow{
		URI:       y.URI,
		Name:      y.Name,
		StartStep: y.StartStep,
		Category:  y.Category,
		View:      y.View,
		Steps:     make([]api.Step, 0, len(y.Steps)),
	}
	for _, s := range y.Steps {
		step := api.Step{
			Name:       s.Name,
			Executable: s.Executable,
			Category:   s.Category,
			View:       s.View,
		}
		if s.TimeLimit != "" {
			d, err := time.ParseDuration(s.TimeLimit)
			if err != nil {
				return api.Workflow{}, fmt.Errorf("step %q: bad timeLimit: %w", s.Name, err)
			}
			step.TimeLimit = d
		}
		for _, t := range s.Transitions {
			step.Transitions = append(step.Transitions, api.Transition{Name: t.Name, Target: t.Target})
		}
		wf.Steps = append(wf.Steps, step)
	}
	return wf, wf.Validate()
}

// Load reads one or more YAML documents from r, each holding a workflow
// definition, and returns them validated.
func Load(r io.Reader) ([]api.Workflow, error) {
	dec := yaml.NewDecoder(r)
	var out []api.Workflow
	for {
		var y yamlWorkflow
		if err := dec.Decode(&y); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode workflow: %w", err)
		}
		wf, err := y.toWorkflow()
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	if len(out) == 0 {
		return nil, errors.New("no workflow definitions found")
	}
	return out, nil
}

// LoadFile reads workflow definitions from a YAML file.
func LoadFile(path string) ([]api.Workflow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	defs, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return defs, nil
}
