// Package projectfilter parses project search filters such as
// `coverage >= 80 and languages in (go, java) and isFavorite` and turns them
// into a typed query.
package projectfilter

import (
	"errors"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	apperrors "github.com/louisbranch/qualityhub/internal/platform/errors"
)

// Operator compares a criterion key with its value.
type Operator string

const (
	OpNone Operator = ""
	OpEQ   Operator = "="
	OpLT   Operator = "<"
	OpLTE  Operator = "<="
	OpGT   Operator = ">"
	OpGTE  Operator = ">="
	OpIN   Operator = "in"
)

// Criterion is one `key op value` term of a filter.
type Criterion struct {
	Key      string
	Operator Operator
	// Value is set for comparison operators.
	Value string
	// Values is set for OpIN.
	Values []string
}

type filterAST struct {
	Criteria []*criterionAST `parser:"( @@ ( And @@ )* )?"`
}

type criterionAST struct {
	Key      string      `parser:"@Ident"`
	Operator string      `parser:"( @Operator"`
	Value    *valueAST   `parser:"  @@"`
	In       bool        `parser:"| @'in'"`
	Values   []*valueAST `parser:"  '(' @@ ( ',' @@ )* ')' )?"`
}

type valueAST struct {
	Quoted *string  `parser:"  @String"`
	Words  []string `parser:"| @Ident+"`
}

func (v *valueAST) text() string {
	if v.Quoted != nil {
		return *v.Quoted
	}
	return strings.Join(v.Words, " ")
}

var filterLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "String", Pattern: `"(\\"|[^"])*"`},
	{Name: "And", Pattern: `(?i)and\b`},
	{Name: "Ident", Pattern: `<null>|[^\s<>=(),"]+`},
	{Name: "Operator", Pattern: `<=|>=|<|>|=`},
	{Name: "Punct", Pattern: `[(),]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

var filterParser = participle.MustBuild[filterAST](
	participle.Lexer(filterLexer),
	participle.Elide("Whitespace"),
	participle.Unquote("String"),
	participle.CaseInsensitive("Ident"),
)

// Parse splits a filter into criteria. Blank filters yield no criteria.
// Keys are lower-cased; unquoted multi-word values are joined by single
// spaces.
func Parse(filter string) ([]Criterion, error) {
	if strings.TrimSpace(filter) == "" {
		return nil, nil
	}
	ast, err := filterParser.ParseString("", filter)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeFilterInvalid, "Invalid filter: '"+failingCriterion(filter, err)+"'", err)
	}
	criteria := make([]Criterion, 0, len(ast.Criteria))
	for _, c := range ast.Criteria {
		criterion := Criterion{Key: strings.ToLower(c.Key)}
		switch {
		case c.In:
			criterion.Operator = OpIN
			for _, v := range c.Values {
				criterion.Values = append(criterion.Values, strings.TrimSpace(v.text()))
			}
		case c.Operator != "":
			criterion.Operator = Operator(c.Operator)
			criterion.Value = c.Value.text()
			if c.Value.Quoted == nil {
				criterion.Value = strings.TrimSpace(criterion.Value)
			}
		}
		criteria = append(criteria, criterion)
	}
	return criteria, nil
}

// failingCriterion returns the and-separated term holding the parse error
// position, or the whole filter when the term cannot be isolated.
func failingCriterion(filter string, err error) string {
	var perr participle.Error
	if !errors.As(err, &perr) {
		return strings.TrimSpace(filter)
	}
	offset := perr.Position().Offset
	start, end := 0, len(filter)
	if lex, lexErr := filterLexer.LexString("", filter); lexErr == nil {
		and := filterLexer.Symbols()["And"]
		for {
			tok, err := lex.Next()
			if err != nil || tok.EOF() {
				break
			}
			if tok.Type != and {
				continue
			}
			if tok.Pos.Offset >= offset {
				end = tok.Pos.Offset
				break
			}
			start = tok.Pos.Offset + len(tok.Value)
		}
	}
	if start > end || end > len(filter) {
		return strings.TrimSpace(filter)
	}
	term := strings.TrimSpace(filter[start:end])
	if term == "" {
		return strings.TrimSpace(filter)
	}
	return term
}
