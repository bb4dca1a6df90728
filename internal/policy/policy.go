// Package policy admits or denies corpus records with rego rules. The
// embedded corpus.rego is used unless the configuration names its own
// policy files.
package policy

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/open-policy-agent/opa/rego"

	"github.com/robert-at-pretension-io/cforge/internal/corpus"
)

//go:embed corpus.rego
var defaultPolicy string

// DenyQuery is the rule every policy must define: a set of messages, one
// per reason a record is refused.
const DenyQuery = "data.cforge.corpus.deny"

// Config is passed to the rules as input.config.
type Config struct {
	MinTokens   int      `json:"min_tokens"`
	DeniedNames []string `json:"denied_names,omitempty"`
}

// Decision is the outcome for one record.
type Decision struct {
	Record  corpus.Record
	Reasons []string
}

// Admitted reports whether no rule denied the record.
func (d Decision) Admitted() bool { return len(d.Reasons) == 0 }

// Engine evaluates a prepared deny query. Prepared queries are safe for
// concurrent evaluation.
type Engine struct {
	query  rego.PreparedEvalQuery
	config Config
}

// New prepares the embedded policy.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	return prepare(ctx, cfg, rego.Module("corpus.rego", defaultPolicy))
}

// Load prepares the .rego files in paths instead of the embedded policy.
// A directory contributes every .rego file directly inside it.
func Load(ctx context.Context, cfg Config, paths []string) (*Engine, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("policy path: %w", err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(p, "*.rego"))
		if err != nil {
			return nil, fmt.Errorf("finding policy files: %w", err)
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no policy files found in %v", paths)
	}
	sort.Strings(files)

	var modules []func(*rego.Rego)
	for _, f := range files {
		content, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", f, err)
		}
		modules = append(modules, rego.Module(f, string(content)))
	}
	return prepare(ctx, cfg, modules...)
}

func prepare(ctx context.Context, cfg Config, modules ...func(*rego.Rego)) (*Engine, error) {
	opts := append(modules, rego.Query(DenyQuery))
	query, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("preparing deny query: %w", err)
	}
	return &Engine{query: query, config: cfg}, nil
}

// Evaluate runs the deny rules against one record.
func (e *Engine) Evaluate(ctx context.Context, r corpus.Record) (Decision, error) {
	input, err := toMap(map[string]any{"record": r, "config": e.config})
	if err != nil {
		return Decision{}, fmt.Errorf("converting input: %w", err)
	}

	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("evaluating %s: %w", DenyQuery, err)
	}

	d := Decision{Record: r}
	if len(rs) > 0 && len(rs[0].Expressions) > 0 {
		if msgs, ok := rs[0].Expressions[0].Value.([]any); ok {
			for _, m := range msgs {
				if s, ok := m.(string); ok {
					d.Reasons = append(d.Reasons, s)
				}
			}
		}
	}
	sort.Strings(d.Reasons)
	return d, nil
}

// Admit splits records into admitted ones and the decisions that denied
// the rest, keeping input order in both.
func (e *Engine) Admit(ctx context.Context, records []corpus.Record) ([]corpus.Record, []Decision, error) {
	var admitted []corpus.Record
	var denied []Decision
	for _, r := range records {
		d, err := e.Evaluate(ctx, r)
		if err != nil {
			return nil, nil, err
		}
		if d.Admitted() {
			admitted = append(admitted, r)
		} else {
			denied = append(denied, d)
		}
	}
	return admitted, denied, nil
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var result map[string]any
	err = json.Unmarshal(data, &result)
	return result, err
}
