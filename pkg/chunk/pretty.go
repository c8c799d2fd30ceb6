package chunk

import (
	"connbridge/pkg/datum"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// Pretty form, one row per line:
//
//	I T          optional header of type codes
//	+ 1 alice
//	- 2 "bob smith"
//	U+ 3 .       "." is NULL
//
// Without a header column types are inferred from the values.

// nullWord is the unquoted spelling of NULL.
const nullWord = "."

var prettyLexer = lexer.MustSimple([]lexer.SimpleRule{
	// an op marker is only an op when followed by a blank, so "-1" stays a word
	{Name: "Op", Pattern: `(?:U[+-]|[+-])(?:[ \t]|$)`},
	{Name: "String", Pattern: `"(?:\\.|[^"\\])*"`},
	{Name: "Word", Pattern: `[^\s"]+`},
	{Name: "Whitespace", Pattern: `[ \t\r]+`},
})

type prettyRow struct {
	Op     string         `parser:"@Op"`
	Values []*prettyValue `parser:"@@*"`
}

type prettyValue struct {
	Quoted *string `parser:"  @String"`
	Word   *string `parser:"| @Word"`
}

type prettyHeader struct {
	Types []string `parser:"@Word+"`
}

var (
	rowParser = participle.MustBuild[prettyRow](
		participle.Lexer(prettyLexer),
		participle.Unquote("String"),
		participle.Elide("Whitespace"),
	)
	headerParser = participle.MustBuild[prettyHeader](
		participle.Lexer(prettyLexer),
		participle.Elide("Whitespace"),
	)

	opLine = regexp.MustCompile(`^(?:U[+-]|[+-])(?:[ \t]|$)`)
)

type textCell struct {
	text   string
	quoted bool
	null   bool
}

type textRow struct {
	line  int
	op    datum.Op
	cells []textCell
}

// Parse builds a chunk from its pretty form. Blank lines are ignored.
func Parse(text string) (*Chunk, error) {
	var (
		types []datum.DataType
		rows  []textRow
	)

	for i, line := range strings.Split(text, "\n") {
		lineNo := i + 1
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if !opLine.MatchString(line) {
			if types != nil || len(rows) > 0 {
				return nil, decodeErr("line %d: expected an op marker", lineNo)
			}
			header, err := headerParser.ParseString("", line)
			if err != nil {
				return nil, decodeErr("line %d: %v", lineNo, err)
			}
			types = make([]datum.DataType, 0, len(header.Types))
			for _, code := range header.Types {
				t, err := datum.ParseType(code)
				if err != nil {
					return nil, decodeErr("line %d: %v", lineNo, err)
				}
				types = append(types, t)
			}
			continue
		}

		parsed, err := rowParser.ParseString("", line)
		if err != nil {
			return nil, decodeErr("line %d: %v", lineNo, err)
		}
		op, err := datum.ParseOp(strings.TrimSpace(parsed.Op))
		if err != nil {
			return nil, decodeErr("line %d: %v", lineNo, err)
		}
		row := textRow{line: lineNo, op: op, cells: make([]textCell, len(parsed.Values))}
		for j, v := range parsed.Values {
			switch {
			case v.Quoted != nil:
				row.cells[j] = textCell{text: *v.Quoted, quoted: true}
			case *v.Word == nullWord:
				row.cells[j] = textCell{null: true}
			default:
				row.cells[j] = textCell{text: *v.Word}
			}
		}
		rows = append(rows, row)
	}

	if types == nil {
		if len(rows) == 0 {
			return NewBuilder(nil).Build(), nil
		}
		var err error
		if types, err = inferTypes(rows); err != nil {
			return nil, err
		}
	}

	b := NewBuilder(types)
	for _, row := range rows {
		if len(row.cells) != len(types) {
			return nil, decodeErr("line %d: %d values, expected %d", row.line, len(row.cells), len(types))
		}
		values := make([]datum.Datum, len(types))
		for j, cell := range row.cells {
			if cell.null {
				continue
			}
			v, err := datum.Parse(types[j], cell.text)
			if err != nil {
				return nil, decodeErr("line %d column %d: %v", row.line, j, err)
			}
			values[j] = v
		}
		if err := b.Append(row.op, values...); err != nil {
			return nil, decodeErr("line %d: %v", row.line, err)
		}
	}
	return b.Build(), nil
}

// inferTypes picks, per column, the narrowest of int32, int64, float64 and bool that
// accepts every non-null value, falling back to varchar. Quoted values are always text
// and an all-NULL column is varchar.
func inferTypes(rows []textRow) ([]datum.DataType, error) {
	width := len(rows[0].cells)
	types := make([]datum.DataType, width)
	for j := 0; j < width; j++ {
		isInt32, isInt64, isFloat, isBool := true, true, true, true
		seen := false
		for _, row := range rows {
			if len(row.cells) != width {
				return nil, decodeErr("line %d: %d values, expected %d", row.line, len(row.cells), width)
			}
			cell := row.cells[j]
			if cell.null {
				continue
			}
			seen = true
			if cell.quoted {
				isInt32, isInt64, isFloat, isBool = false, false, false, false
				break
			}
			if _, err := strconv.ParseInt(cell.text, 10, 32); err != nil {
				isInt32 = false
			}
			if _, err := strconv.ParseInt(cell.text, 10, 64); err != nil {
				isInt64 = false
			}
			if _, err := strconv.ParseFloat(cell.text, 64); err != nil || !strings.ContainsAny(cell.text, "0123456789") {
				isFloat = false
			}
			if cell.text != "true" && cell.text != "false" {
				isBool = false
			}
		}
		switch {
		case !seen:
			types[j] = datum.TypeVarchar
		case isInt32:
			types[j] = datum.TypeInt32
		case isInt64:
			types[j] = datum.TypeInt64
		case isFloat:
			types[j] = datum.TypeFloat64
		case isBool:
			types[j] = datum.TypeBool
		default:
			types[j] = datum.TypeVarchar
		}
	}
	return types, nil
}

// Render prints c in pretty form with an explicit header, so that Parse(Render(c))
// reproduces c exactly.
func Render(c *Chunk) (string, error) {
	var sb strings.Builder

	codes := make([]string, len(c.columns))
	for j, col := range c.columns {
		codes[j] = col.Type.Code()
	}
	sb.WriteString(strings.Join(codes, " "))
	sb.WriteByte('\n')

	for i := 0; i < c.Cardinality(); i++ {
		sb.WriteString(c.ops[i].Marker())
		for _, col := range c.columns {
			sb.WriteByte(' ')
			v := col.Values[i]
			if v == nil {
				sb.WriteString(nullWord)
				continue
			}
			text, err := datum.Format(col.Type, v)
			if err != nil {
				return "", fmt.Errorf("render row %d: %w", i, err)
			}
			if needsQuote(text) {
				text = strconv.Quote(text)
			}
			sb.WriteString(text)
		}
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

func needsQuote(s string) bool {
	switch s {
	case "", nullWord, "+", "-", "U+", "U-":
		return true
	}
	for _, r := range s {
		if r <= ' ' || r == '"' || r == 0x7f || !unicode.IsPrint(r) {
			return true
		}
	}
	return false
}
