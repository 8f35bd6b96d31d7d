package nodes

import (
	"context"
	"encoding/csv"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/fusserg007/botconstructor/internal/engine"
	"github.com/fusserg007/botconstructor/pkg/schema"
)

func (d Deps) csvParser(ctx context.Context, n *schema.Node, _ *engine.ExecutionContext, env *engine.Env) (*engine.Outcome, error) {
	text := textParam(env, n, "csvData", "")
	if text == "" {
		src := textParam(env, n, "csvUrl", "")
		if src == "" {
			return nil, invalid(n, "csvData or csvUrl is required")
		}
		resp, err := d.call(ctx, n, env, requestSpec{URL: src, Method: "GET", Timeout: timeoutParam(env, n)})
		if err != nil {
			return nil, err
		}
		if !resp.OK() {
			return nil, failed(n, "fetch %s: status %d", src, resp.StatusCode)
		}
		text = string(resp.Raw)
	}

	delim := stringParam(n, "delimiter", ",")
	r, size := utf8.DecodeRuneInString(delim)
	if r == utf8.RuneError || size != len(delim) {
		return nil, invalid(n, "delimiter must be a single character, got %q", delim)
	}
	rows, header, err := parseCSV(text, r, boolParam(n, "hasHeader", true))
	if err != nil {
		return nil, invalid(n, "csv: %v", err)
	}

	variable := stringParam(n, "responseVariable", "csvData")
	return engine.Next().
		SetVar(variable, rows).
		SetVar(variable+"_rows", float64(len(rows))).
		SetVar(variable+"_columns", header), nil
}

// parseCSV returns every record as an object. Without a header row the
// keys are column_0, column_1, ...
func parseCSV(text string, delim rune, hasHeader bool) ([]any, []any, error) {
	cr := csv.NewReader(strings.NewReader(text))
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var header []string
	rows := make([]any, 0)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		if header == nil {
			if hasHeader {
				header = rec
				continue
			}
			header = make([]string, len(rec))
			for i := range rec {
				header[i] = "column_" + itoa(i)
			}
		}
		row := make(map[string]any, len(header))
		for i, key := range header {
			v := ""
			if i < len(rec) {
				v = rec[i]
			}
			row[key] = v
		}
		rows = append(rows, row)
	}

	columns := make([]any, len(header))
	for i, h := range header {
		columns[i] = h
	}
	return rows, columns, nil
}

