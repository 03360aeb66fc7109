package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDataset() Dataset {
	return Dataset{
		Title: "Audit Ledger",
		Columns: []Column{
			{Key: "seq", Title: "Seq", Width: 12},
			{Key: "action", Title: "Action"},
			{Key: "reason"},
		},
		Rows: []map[string]string{
			{"seq": "1", "action": "pending.create", "reason": "policy violation"},
			{"seq": "2", "action": "user.delete", "reason": "=HYPERLINK(\"http://evil\")"},
		},
		Footer: "records 1-2",
	}
}

func TestCSVExporterNeutralisesFormulas(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, NewCSVExporter().Write(buf, sampleDataset()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Seq,Action,reason", lines[0])
	assert.Equal(t, "1,pending.create,policy violation", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], `2,user.delete,"'=HYPERLINK(`))
}

func TestCSVExporterRequiresColumns(t *testing.T) {
	assert.Error(t, NewCSVExporter().Write(&bytes.Buffer{}, Dataset{}))
}

func TestPDFExporterRendersDocument(t *testing.T) {
	buf := &bytes.Buffer{}
	data := sampleDataset()
	for i := 0; i < 80; i++ {
		data.Rows = append(data.Rows, map[string]string{"seq": "3", "action": strings.Repeat("very long action ", 10)})
	}
	require.NoError(t, NewPDFExporter().Write(buf, data))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF")))
}

func TestColumnWidthsShareRemainder(t *testing.T) {
	widths := columnWidths([]Column{{Width: 77}, {}, {}})
	assert.Equal(t, []float64{77, 100, 100}, widths)
}
