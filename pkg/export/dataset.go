package export

// Column describes one exported field.
type Column struct {
	Key   string
	Title string
	// Width is the PDF column width in millimetres. Zero-width columns share
	// whatever the fixed columns leave over.
	Width float64
}

// Dataset defines tabular export content.
type Dataset struct {
	Title   string
	Columns []Column
	Rows    []map[string]string
	// Footer is printed on every PDF page next to the page number.
	Footer string
}

func (d Dataset) titles() []string {
	out := make([]string, len(d.Columns))
	for i, col := range d.Columns {
		out[i] = col.Title
		if out[i] == "" {
			out[i] = col.Key
		}
	}
	return out
}
