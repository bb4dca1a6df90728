// Package extractor selects self-contained, numerically typed declarations
// from a parsed C unit for the corpus.
package extractor

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/robert-at-pretension-io/cforge/internal/cast"
	"github.com/robert-at-pretension-io/cforge/internal/source"
	"github.com/robert-at-pretension-io/cforge/internal/transform"
)

// Mode chooses how function definitions containing calls are treated.
type Mode string

const (
	// ModeExtract rejects any function that makes a call.
	ModeExtract Mode = "extract"
	// ModeProcess replaces calls with placeholders and keeps the function
	// when every call could be replaced.
	ModeProcess Mode = "process"
)

// Kind is the declaration variant a match came from.
type Kind string

const (
	KindFunction Kind = "function"
	KindGlobal   Kind = "global"
	KindTypedef  Kind = "typedef"
)

// VoidParams is recorded for a function that takes no parameters.
const VoidParams = "void"

// Match is one selected declaration.
type Match struct {
	Kind           Kind        `json:"kind" msgpack:"kind"`
	Name           string      `json:"name" msgpack:"name"`
	Text           string      `json:"text" msgpack:"text"`
	ParameterTypes []string    `json:"parameter_types,omitempty" msgpack:"parameter_types,omitempty"`
	ReturnType     string      `json:"return_type,omitempty" msgpack:"return_type,omitempty"`
	// Globals names the selected globals a function still references and
	// Misc holds their declarations, so the function compiles on its own.
	Globals        []string    `json:"globals,omitempty" msgpack:"globals,omitempty"`
	Misc           []string    `json:"misc,omitempty" msgpack:"misc,omitempty"`
	Line           int         `json:"line" msgpack:"line"`
	Span           source.Span `json:"-" msgpack:"-"`
}

// Rejection records why a declaration was not selected. It is not an
// error: the unit is still processed normally.
type Rejection struct {
	Kind   Kind   `json:"kind"`
	Name   string `json:"name"`
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// Result holds everything selected from one unit, in source order.
type Result struct {
	File       string
	Matches    []Match
	Rejections []Rejection
}

// Engine evaluates the selection rules. It holds no per-unit state and
// can be shared across goroutines.
type Engine struct {
	Mode   Mode
	logger *zap.Logger
}

// New creates an Engine. A nil logger discards output.
func New(mode Mode, logger *zap.Logger) *Engine {
	if mode == "" {
		mode = ModeExtract
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{Mode: mode, logger: logger}
}

// Select runs every rule over u. Matches and rejections come back in the
// order their declarations appear in the file.
//
// Function matches are made standalone: the selected globals they use
// are attached, and selected typedef names are replaced by the types
// they stand for.
func (e *Engine) Select(u *cast.Unit) (Result, error) {
	res := Result{File: u.Path()}

	type selected struct {
		idx  int
		decl *cast.Decl
	}
	var fns []selected
	for _, d := range u.Functions() {
		if !d.IsDefinition {
			continue
		}
		m, reason, err := e.function(u, d)
		if err != nil {
			return Result{}, fmt.Errorf("select %s: %w", d.Name, err)
		}
		if m != nil {
			fns = append(fns, selected{idx: len(res.Matches), decl: d})
		}
		res.add(d, KindFunction, m, reason)
	}

	globals := make(map[string]string)
	for _, d := range u.Globals() {
		m, reason := e.variable(u, d, KindGlobal)
		if m != nil {
			if _, seen := globals[d.Name]; !seen || d.Storage != "extern" {
				globals[d.Name] = m.Text
			}
		}
		res.add(d, KindGlobal, m, reason)
	}
	typedefs := make(map[string]string)
	for _, d := range u.Typedefs() {
		m, reason := e.variable(u, d, KindTypedef)
		// An anonymous enum has no spelling to substitute.
		if m != nil && !strings.Contains(d.Type, "__anon") {
			typedefs[d.Name] = d.Type
		}
		res.add(d, KindTypedef, m, reason)
	}

	inline := newTypedefInliner(typedefs)
	for _, f := range fns {
		m := &res.Matches[f.idx]
		m.Globals, m.Misc = linkGlobals(u, f.decl, m.Text, globals)
		inline.match(m)
	}

	sort.SliceStable(res.Matches, func(i, j int) bool { return res.Matches[i].Span.Start < res.Matches[j].Span.Start })
	sort.SliceStable(res.Rejections, func(i, j int) bool { return res.Rejections[i].Line < res.Rejections[j].Line })

	e.logger.Debug("selected declarations",
		zap.String("file", u.Path()),
		zap.String("mode", string(e.Mode)),
		zap.Int("matches", len(res.Matches)),
		zap.Int("rejected", len(res.Rejections)))
	return res, nil
}

func (r *Result) add(d *cast.Decl, kind Kind, m *Match, reason string) {
	if m != nil {
		r.Matches = append(r.Matches, *m)
		return
	}
	r.Rejections = append(r.Rejections, Rejection{Kind: kind, Name: d.Name, Line: line(d), Reason: reason})
}

// function applies the function rules. A nil match comes with the reason
// it was rejected.
func (e *Engine) function(u *cast.Unit, d *cast.Decl) (*Match, string, error) {
	if t := u.Classify(d.Type); !numericOrPointer(t) {
		return nil, fmt.Sprintf("return type %q", d.Type), nil
	}
	if d.Variadic {
		return nil, "variadic parameter list", nil
	}
	params := make([]string, 0, len(d.Params))
	for _, p := range d.Params {
		if t := u.Classify(p.Type); !numericOrPointer(t) {
			return nil, fmt.Sprintf("parameter %s has type %q", p.Name, p.Type), nil
		}
		params = append(params, p.Type)
	}
	if len(params) == 0 {
		params = []string{VoidParams}
	}

	body := d.Node.Child("body")
	if reason := outsideRefs(u, body); reason != "" {
		return nil, reason, nil
	}

	text := u.Text(d.Node)
	calls := countCalls(body)
	switch {
	case calls > 0 && e.Mode == ModeExtract:
		return nil, fmt.Sprintf("contains %d calls", calls), nil
	case calls > 0:
		rewritten, unresolved, err := e.eliminate(u, d)
		if err != nil {
			return nil, "", err
		}
		if unresolved > 0 {
			return nil, fmt.Sprintf("%d calls have no placeholder", unresolved), nil
		}
		text = rewritten
	}

	return &Match{
		Kind:           KindFunction,
		Name:           d.Name,
		Text:           text,
		ParameterTypes: params,
		ReturnType:     d.Type,
		Line:           line(d),
		Span:           d.Node.Span,
	}, "", nil
}

// eliminate runs call elimination on d alone and cuts its rewritten text
// back out of the unit.
func (e *Engine) eliminate(u *cast.Unit, d *cast.Decl) (string, int, error) {
	s := transform.NewSession(u, transform.Options{Target: d.Name}, e.logger)
	sites, err := s.EliminateCalls()
	if err != nil {
		return "", 0, err
	}
	unresolved := 0
	for _, c := range sites {
		if !c.Resolvable() {
			unresolved++
		}
	}
	out, err := s.Apply()
	if err != nil {
		return "", 0, err
	}
	// Every edit lies inside the definition, so the text after it is
	// unchanged and anchors the cut.
	tail := len(u.Src()) - int(d.Node.Span.End)
	return string(out[d.Node.Span.Start : len(out)-tail]), unresolved, nil
}

// variable applies the global and typedef rule: integer, character or
// floating type, or a pointer to one.
func (e *Engine) variable(u *cast.Unit, d *cast.Decl, kind Kind) (*Match, string) {
	t := u.Classify(d.Type)
	if !t.IsScalar() && !t.PointsTo(cast.TypeDescriptor.IsScalar) {
		return nil, fmt.Sprintf("type %q", d.Type)
	}
	return &Match{
		Kind: kind,
		Name: d.Name,
		Text: declarationText(u, d),
		Line: line(d),
		Span: d.Node.Span,
	}, ""
}

// declarationText renders d as a standalone declaration. A declaration
// that introduces several names is narrowed to d's own declarator.
func declarationText(u *cast.Unit, d *cast.Decl) string {
	declarators := d.Node.ChildrenByField("declarator")
	if len(declarators) <= 1 || d.Declarator == nil {
		return u.Text(d.Node)
	}
	prefix := u.File.Slice(source.Span{Start: d.Node.Span.Start, End: declarators[0].Span.Start})
	return prefix + u.Text(d.Declarator) + ";"
}

// linkGlobals lists the selected globals referenced in d, in order of first
// use, with their declarations. A global whose only use was inside an
// eliminated call no longer appears in text and is left out.
func linkGlobals(u *cast.Unit, d *cast.Decl, text string, globals map[string]string) ([]string, []string) {
	var names, decls []string
	seen := make(map[string]bool)
	d.Node.Walk(func(n *cast.Node) bool {
		if n.Type != "identifier" || !u.IsReference(n) {
			return true
		}
		ref := u.Ref(n)
		if ref == nil || ref.Kind != cast.DeclGlobal || seen[ref.Name] {
			return true
		}
		decl, ok := globals[ref.Name]
		if !ok || !containsWord(text, ref.Name) {
			return true
		}
		seen[ref.Name] = true
		names = append(names, ref.Name)
		decls = append(decls, decl)
		return true
	})
	return names, decls
}

func containsWord(text, word string) bool {
	for i := 0; ; {
		j := strings.Index(text[i:], word)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(word)
		if (start == 0 || !isIdentByte(text[start-1])) && (end == len(text) || !isIdentByte(text[end])) {
			return true
		}
		i = start + 1
	}
}

func isIdentByte(b byte) bool {
	return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

// typedefInliner replaces typedef names with their underlying spelling.
type typedefInliner struct {
	under map[string]string
	re    *regexp.Regexp
}

func newTypedefInliner(under map[string]string) *typedefInliner {
	if len(under) == 0 {
		return &typedefInliner{}
	}
	names := make([]string, 0, len(under))
	for name := range under {
		names = append(names, regexp.QuoteMeta(name))
	}
	sort.Strings(names)
	return &typedefInliner{
		under: under,
		re:    regexp.MustCompile(`\b(?:` + strings.Join(names, "|") + `)\b`),
	}
}

// inline rewrites s until no typedef name is left. A typedef chain is at
// most len(under) long, which bounds the rounds.
func (t *typedefInliner) inline(s string) string {
	if t.re == nil {
		return s
	}
	for range len(t.under) + 1 {
		next := t.re.ReplaceAllStringFunc(s, func(name string) string { return t.under[name] })
		if next == s {
			break
		}
		s = next
	}
	return s
}

func (t *typedefInliner) match(m *Match) {
	m.Text = t.inline(m.Text)
	m.ReturnType = t.inline(m.ReturnType)
	for i := range m.ParameterTypes {
		m.ParameterTypes[i] = t.inline(m.ParameterTypes[i])
	}
	for i := range m.Misc {
		m.Misc[i] = t.inline(m.Misc[i])
	}
}

func numericOrPointer(t cast.TypeDescriptor) bool {
	return t.IsIntegerLike() || t.PointsTo(cast.TypeDescriptor.IsIntegerLike)
}

// outsideRefs checks every identifier in body. Locals and parameters may
// have any type; anything else must be an integer-like variable or an
// enumerator. Callee names are left to the call rule.
func outsideRefs(u *cast.Unit, body *cast.Node) string {
	var reason string
	body.Walk(func(n *cast.Node) bool {
		if reason != "" {
			return false
		}
		if n.Type != "identifier" || !u.IsReference(n) {
			return true
		}
		if n.Field == "function" && n.Parent.Type == "call_expression" {
			return true
		}
		d := u.Ref(n)
		switch {
		case d == nil:
			reason = fmt.Sprintf("undeclared identifier %s", u.Text(n))
		case d.Kind == cast.DeclEnumConst || d.HasLocalStorage():
		case d.Kind == cast.DeclFunction:
			reason = fmt.Sprintf("takes the address of function %s", d.Name)
		case !u.Classify(d.Type).IsIntegerLike():
			reason = fmt.Sprintf("references %s of type %q", d.Name, d.Type)
		}
		return true
	})
	return reason
}

func countCalls(n *cast.Node) int {
	count := 0
	n.Walk(func(x *cast.Node) bool {
		if x.Type == "call_expression" {
			count++
		}
		return true
	})
	return count
}

func line(d *cast.Decl) int {
	if d.NameNode != nil {
		return int(d.NameNode.Row) + 1
	}
	return int(d.Node.Row) + 1
}
