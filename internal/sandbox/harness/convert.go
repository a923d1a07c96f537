package harness

import (
	"fmt"

	"go.starlark.net/starlark"

	"deskforge/internal/tabular"
)

func rowsToStarlark(rows [][]string) *starlark.List {
	outer := make([]starlark.Value, len(rows))
	for i, row := range rows {
		inner := make([]starlark.Value, len(row))
		for j, cell := range row {
			inner[j] = starlark.String(cell)
		}
		outer[i] = starlark.NewList(inner)
	}
	return starlark.NewList(outer)
}

func workbookToStarlark(wb *tabular.Workbook) *starlark.Dict {
	d := starlark.NewDict(len(wb.Sheets))
	for _, sheet := range wb.Sheets {
		d.SetKey(starlark.String(sheet.Name), rowsToStarlark(sheet.Rows))
	}
	return d
}

func starlarkToRows(list *starlark.List) ([][]string, error) {
	rows := make([][]string, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		seq, ok := list.Index(i).(starlark.Indexable)
		if !ok {
			return nil, fmt.Errorf("row %d is not a list", i)
		}
		row := make([]string, 0, seq.Len())
		for j := 0; j < seq.Len(); j++ {
			row = append(row, cellString(seq.Index(j)))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func starlarkToWorkbook(sheets *starlark.Dict) (*tabular.Workbook, error) {
	var wb tabular.Workbook
	for _, item := range sheets.Items() {
		name, ok := starlark.AsString(item[0])
		if !ok {
			return nil, fmt.Errorf("sheet name %v is not a string", item[0])
		}
		list, ok := item[1].(*starlark.List)
		if !ok {
			return nil, fmt.Errorf("sheet %q is not a list of rows", name)
		}
		rows, err := starlarkToRows(list)
		if err != nil {
			return nil, fmt.Errorf("sheet %q: %w", name, err)
		}
		wb.Sheets = append(wb.Sheets, tabular.Sheet{Name: name, Rows: rows})
	}
	return &wb, nil
}

// cellString renders a cell the way it will appear in the file: strings
// verbatim, everything else via Starlark's repr-less String form.
func cellString(v starlark.Value) string {
	if s, ok := starlark.AsString(v); ok {
		return s
	}
	return v.String()
}

// toGo converts a Starlark value into a JSON-encodable Go value.
func toGo(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.String:
		return string(val), nil
	case starlark.Int:
		if i, ok := val.Int64(); ok {
			return i, nil
		}
		return val.String(), nil
	case starlark.Float:
		return float64(val), nil
	case *starlark.List:
		return sequenceToGo(val)
	case starlark.Tuple:
		out := make([]interface{}, len(val))
		for i, item := range val {
			conv, err := toGo(item)
			if err != nil {
				return nil, err
			}
			out[i] = conv
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]interface{}, val.Len())
		for _, item := range val.Items() {
			key, ok := starlark.AsString(item[0])
			if !ok {
				key = item[0].String()
			}
			conv, err := toGo(item[1])
			if err != nil {
				return nil, err
			}
			out[key] = conv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("value of type %s is not JSON-encodable", v.Type())
	}
}

func sequenceToGo(list *starlark.List) ([]interface{}, error) {
	out := make([]interface{}, list.Len())
	for i := 0; i < list.Len(); i++ {
		conv, err := toGo(list.Index(i))
		if err != nil {
			return nil, err
		}
		out[i] = conv
	}
	return out, nil
}
