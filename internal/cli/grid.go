package cli

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"ticker-storefront/internal/models"
	"ticker-storefront/pkg/utils"
)

// Align is a column's horizontal alignment.
type Align int

const (
	AlignLeft Align = iota
	AlignRight
)

// Column describes one grid column. A positive MaxWidth cuts longer cells
// in the rendered table; CSV export keeps them whole.
type Column struct {
	Key      string
	Label    string
	Align    Align
	Format   func(v any) string
	MaxWidth int
}

func (c Column) cell(row models.Row) string {
	v := row[c.Key]
	if c.Format != nil {
		return c.Format(v)
	}
	return formatCell(v)
}

func (c Column) display(row models.Row) string {
	s := c.cell(row)
	if c.MaxWidth > 0 {
		s = utils.Truncate(stripANSI(s), c.MaxWidth)
	}
	return s
}

// Grid renders rows through column descriptors. It does not know what the
// rows mean.
type Grid struct {
	columns []Column
	hidden  map[string]bool
	rows    []models.Row
}

// NewGrid creates a grid with the given columns.
func NewGrid(columns ...Column) *Grid {
	return &Grid{columns: columns, hidden: map[string]bool{}}
}

// AddRow appends a row.
func (g *Grid) AddRow(row models.Row) {
	g.rows = append(g.rows, row)
}

// AddRows appends rows.
func (g *Grid) AddRows(rows []models.Row) {
	g.rows = append(g.rows, rows...)
}

// Len returns the row count.
func (g *Grid) Len() int {
	return len(g.rows)
}

// Only restricts output to the given column keys. Unknown keys are ignored;
// an empty list shows every column.
func (g *Grid) Only(keys []string) {
	if len(keys) == 0 {
		return
	}
	want := map[string]bool{}
	for _, k := range keys {
		want[strings.TrimSpace(k)] = true
	}
	for _, c := range g.columns {
		g.hidden[c.Key] = !want[c.Key]
	}
}

// SortBy orders rows by a column. Numbers compare numerically, everything
// else by its string form. Rows with equal keys keep their order.
func (g *Grid) SortBy(key string, ascending bool) {
	if key == "" {
		return
	}
	sort.SliceStable(g.rows, func(i, j int) bool {
		c := compareCells(g.rows[i][key], g.rows[j][key])
		if ascending {
			return c < 0
		}
		return c > 0
	})
}

func (g *Grid) visible() []Column {
	out := make([]Column, 0, len(g.columns))
	for _, c := range g.columns {
		if !g.hidden[c.Key] {
			out = append(out, c)
		}
	}
	return out
}

// Render writes the grid as an aligned text table.
func (g *Grid) Render(o *Output) {
	cols := g.visible()
	if len(cols) == 0 {
		return
	}

	cells := make([][]string, len(g.rows))
	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = utf8.RuneCountInString(c.Label)
	}
	for r, row := range g.rows {
		cells[r] = make([]string, len(cols))
		for i, c := range cols {
			s := c.display(row)
			cells[r][i] = s
			if n := utf8.RuneCountInString(stripANSI(s)); n > widths[i] {
				widths[i] = n
			}
		}
	}

	header := make([]string, len(cols))
	sep := make([]string, len(cols))
	for i, c := range cols {
		header[i] = o.BoldText(pad(c.Label, widths[i], c.Align))
		sep[i] = strings.Repeat("─", widths[i])
	}
	o.Println(strings.Join(header, "  "))
	o.Println(o.DimText(strings.Join(sep, "──")))

	for _, row := range cells {
		parts := make([]string, len(cols))
		for i, c := range cols {
			parts[i] = pad(row[i], widths[i], c.Align)
		}
		o.Println(strings.TrimRight(strings.Join(parts, "  "), " "))
	}
}

// WriteCSV writes the visible columns as CSV with a label header row.
func (g *Grid) WriteCSV(w io.Writer) error {
	cols := g.visible()
	cw := csv.NewWriter(w)

	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = c.Label
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range g.rows {
		rec := make([]string, len(cols))
		for i, c := range cols {
			rec[i] = stripANSI(c.cell(row))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ColumnsFromRows derives plain columns from row keys, sorted by name.
func ColumnsFromRows(rows []models.Row) []Column {
	seen := map[string]bool{}
	var keys []string
	for _, r := range rows {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	cols := make([]Column, len(keys))
	for i, k := range keys {
		cols[i] = Column{Key: k, Label: k}
	}
	return cols
}

func pad(s string, width int, align Align) string {
	n := width - utf8.RuneCountInString(stripANSI(s))
	if n <= 0 {
		return s
	}
	if align == AlignRight {
		return strings.Repeat(" ", n) + s
	}
	return s + strings.Repeat(" ", n)
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return "-"
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%.2f", x)
	case []string:
		return strings.Join(x, ", ")
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = formatCell(e)
		}
		return strings.Join(parts, ", ")
	case time.Time:
		return utils.FormatTimestamp(x)
	case models.NullTime:
		if !x.Valid {
			return "-"
		}
		return utils.FormatTimestamp(x.Time)
	default:
		return fmt.Sprint(x)
	}
}

func formatPrice(v any) string {
	if f, ok := toFloat(v); ok {
		return utils.FormatPrice(f)
	}
	return formatCell(v)
}

func formatQuantity(v any) string {
	if f, ok := toFloat(v); ok && f == float64(int64(f)) {
		return utils.FormatQuantity(int64(f))
	}
	return formatCell(v)
}

func formatCurrency(v any) string {
	if f, ok := toFloat(v); ok {
		return utils.FormatIndianCurrency(f)
	}
	return formatCell(v)
}

// formatTimestamp renders backend ISO timestamps.
func formatTimestamp(v any) string {
	s, ok := v.(string)
	if !ok {
		return formatCell(v)
	}
	var nt models.NullTime
	if err := nt.UnmarshalJSON([]byte(fmt.Sprintf("%q", s))); err != nil || !nt.Valid {
		return s
	}
	return utils.FormatTimestamp(nt.Time)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case models.InstrumentID:
		return float64(x), true
	}
	return 0, false
}

func compareCells(a, b any) int {
	fa, aok := toFloat(a)
	fb, bok := toFloat(b)
	if aok && bok {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(formatCell(a), formatCell(b))
}
