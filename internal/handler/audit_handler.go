package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/mentor-trust-api/internal/dto"
	"github.com/noah-isme/mentor-trust-api/internal/models"
	"github.com/noah-isme/mentor-trust-api/internal/service"
	appErrors "github.com/noah-isme/mentor-trust-api/pkg/errors"
	"github.com/noah-isme/mentor-trust-api/pkg/response"
)

const (
	defaultAuditPageSize = 50
	maxAuditPageSize     = 200
)

type auditLedgerService interface {
	List(ctx context.Context, filter models.AuditRecordFilter) ([]models.AuditRecord, int, error)
	VerifyChain(ctx context.Context, startSeq, endSeq int64) (*models.ChainVerification, error)
}

type auditExporter interface {
	Export(ctx context.Context, filter models.AuditRecordFilter, format string) (*service.AuditExport, error)
}

// AuditHandler exposes the audit ledger.
type AuditHandler struct {
	ledger   auditLedgerService
	exporter auditExporter
}

// NewAuditHandler constructs the handler.
func NewAuditHandler(ledger auditLedgerService, exporter auditExporter) *AuditHandler {
	return &AuditHandler{ledger: ledger, exporter: exporter}
}

// List godoc
// @Summary List audit records
// @Tags AuditLog
// @Produce json
// @Param actorId query string false "Actor ID"
// @Param action query string false "Action identifier"
// @Param targetType query string false "Target type"
// @Param targetId query string false "Target ID"
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /audit-log [get]
func (h *AuditHandler) List(c *gin.Context) {
	query, err := bindAuditQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	page := query.Page
	if page <= 0 {
		page = 1
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultAuditPageSize
	}
	if limit > maxAuditPageSize {
		limit = maxAuditPageSize
	}
	filter := auditFilter(query)
	filter.Limit = limit
	filter.Offset = (page - 1) * limit

	records, total, err := h.ledger.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	if records == nil {
		records = []models.AuditRecord{}
	}
	response.JSON(c, http.StatusOK, records, response.Paginate(page, limit, total))
}

// Verify godoc
// @Summary Verify the audit hash chain
// @Description Recomputes every record hash in the range and checks sequence contiguity and back-links.
// @Tags AuditLog
// @Produce json
// @Param startSeq query int false "First sequence number (default 1)"
// @Param endSeq query int false "Last sequence number (default head)"
// @Success 200 {object} response.Envelope
// @Router /audit-log/verify [get]
func (h *AuditHandler) Verify(c *gin.Context) {
	var query dto.VerifyChainQuery
	var ok bool
	if query.StartSeq, ok = queryInt64(c, "startSeq"); !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "startSeq must be a positive integer"))
		return
	}
	if query.EndSeq, ok = queryInt64(c, "endSeq"); !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "endSeq must be a positive integer"))
		return
	}
	if query.EndSeq > 0 && query.StartSeq > query.EndSeq {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "startSeq must not exceed endSeq"))
		return
	}
	result, err := h.ledger.VerifyChain(c.Request.Context(), query.StartSeq, query.EndSeq)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Export godoc
// @Summary Download audit records
// @Tags AuditLog
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv (default) or pdf"
// @Param startSeq query int false "First sequence number"
// @Param endSeq query int false "Last sequence number"
// @Success 200 {file} file
// @Router /audit-log/export [get]
func (h *AuditHandler) Export(c *gin.Context) {
	if h.exporter == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "audit export not configured"))
		return
	}
	query, err := bindAuditQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	out, err := h.exporter.Export(c.Request.Context(), auditFilter(query), query.Format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, out.Filename, out.ContentType, out.Body, out.Count)
}

func bindAuditQuery(c *gin.Context) (dto.AuditLogQuery, error) {
	var query dto.AuditLogQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		return query, appErrors.Clone(appErrors.ErrValidation, "invalid query parameters")
	}
	if query.StartSeq < 0 || query.EndSeq < 0 {
		return query, appErrors.Clone(appErrors.ErrValidation, "sequence bounds must be positive")
	}
	return query, nil
}

func auditFilter(query dto.AuditLogQuery) models.AuditRecordFilter {
	return models.AuditRecordFilter{
		ActorID:    query.ActorID,
		Action:     query.Action,
		TargetType: query.TargetType,
		TargetID:   query.TargetID,
		StartSeq:   query.StartSeq,
		EndSeq:     query.EndSeq,
	}
}
