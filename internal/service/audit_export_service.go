package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/mentor-trust-api/internal/models"
	appErrors "github.com/noah-isme/mentor-trust-api/pkg/errors"
	"github.com/noah-isme/mentor-trust-api/pkg/export"
)

// Supported audit export formats.
const (
	AuditExportCSV = "csv"
	AuditExportPDF = "pdf"
)

type auditRecordSource interface {
	Export(ctx context.Context, filter models.AuditRecordFilter) ([]models.AuditRecord, error)
}

type datasetWriter interface {
	Write(w io.Writer, data export.Dataset) error
}

// AuditExport is a rendered ledger extract ready for download.
type AuditExport struct {
	Filename    string
	ContentType string
	Body        []byte
	Count       int
}

// AuditExportService renders ledger extracts as CSV or PDF.
type AuditExportService struct {
	source auditRecordSource
	csv    datasetWriter
	pdf    datasetWriter
	logger *zap.Logger
	now    func() time.Time
}

// NewAuditExportService constructs the export service.
func NewAuditExportService(source auditRecordSource, csv, pdf datasetWriter, logger *zap.Logger) *AuditExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &AuditExportService{source: source, csv: csv, pdf: pdf, logger: logger, now: time.Now}
}

// Export renders every record matching filter in the requested format.
func (s *AuditExportService) Export(ctx context.Context, filter models.AuditRecordFilter, format string) (*AuditExport, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = AuditExportCSV
	}
	var (
		writer      datasetWriter
		contentType string
	)
	switch format {
	case AuditExportCSV:
		writer, contentType = s.csv, "text/csv; charset=utf-8"
	case AuditExportPDF:
		writer, contentType = s.pdf, "application/pdf"
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}

	records, err := s.source.Export(ctx, filter)
	if err != nil {
		return nil, err
	}
	generated := s.now().UTC()
	dataset := auditDataset(records, format == AuditExportPDF, generated)

	buf := &bytes.Buffer{}
	if err := writer.Write(buf, dataset); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render audit export")
	}
	s.logger.Info("audit ledger exported", zap.String("format", format), zap.Int("records", len(records)))
	return &AuditExport{
		Filename:    fmt.Sprintf("audit-ledger-%s.%s", generated.Format("20060102-150405"), format),
		ContentType: contentType,
		Body:        buf.Bytes(),
		Count:       len(records),
	}, nil
}

func auditDataset(records []models.AuditRecord, compact bool, generated time.Time) export.Dataset {
	columns := []export.Column{
		{Key: "sequence", Title: "Seq", Width: 12},
		{Key: "createdAt", Title: "Created At", Width: 34},
		{Key: "actor", Title: "Actor", Width: 30},
		{Key: "action", Title: "Action", Width: 34},
		{Key: "target", Title: "Target"},
		{Key: "riskLevel", Title: "Risk", Width: 14},
		{Key: "reason", Title: "Reason"},
		{Key: "ipAddress", Title: "IP", Width: 24},
		{Key: "hash", Title: "Hash", Width: 26},
		{Key: "previousHash", Title: "Previous Hash", Width: 26},
	}
	rows := make([]map[string]string, 0, len(records))
	for _, r := range records {
		hash, prev := r.Hash, r.PreviousHash
		if compact {
			hash, prev = shortHash(hash), shortHash(prev)
		}
		target := r.TargetType
		if r.TargetID != "" {
			target += ":" + r.TargetID
		}
		if r.TargetName != "" {
			target += " (" + r.TargetName + ")"
		}
		actor := r.ActorName
		if actor == "" {
			actor = r.ActorID
		}
		rows = append(rows, map[string]string{
			"sequence":     strconv.FormatInt(r.SequenceNumber, 10),
			"createdAt":    r.CreatedAt.UTC().Format(time.RFC3339),
			"actor":        actor,
			"action":       r.Action,
			"target":       target,
			"riskLevel":    string(r.RiskLevel),
			"reason":       r.Reason,
			"ipAddress":    r.IPAddress,
			"hash":         hash,
			"previousHash": prev,
		})
	}
	return export.Dataset{
		Title:   "Audit Ledger",
		Columns: columns,
		Rows:    rows,
		Footer:  fmt.Sprintf("%d records, generated %s", len(records), generated.Format(time.RFC3339)),
	}
}

func shortHash(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[:12]
}
