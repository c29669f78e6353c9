package s3blob

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// OpportunityArchiveStore is the read side the archiver needs.
type OpportunityArchiveStore interface {
	// ListBefore returns every opportunity detected strictly before the
	// cutoff.
	ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error)
}

// ArchiveImpl implements domain.Archiver. It writes old opportunities to
// object storage twice: as JSONL (full records) and as a flat CSV trade log.
// Removing the rows from Postgres is left to the caller once this returns
// without error.
type ArchiveImpl struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	store  OpportunityArchiveStore
	audit  domain.AuditStore
}

// NewArchiver creates an ArchiveImpl. reader and audit may be nil; with a
// reader, uploads are verified with a HEAD request.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	store OpportunityArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		reader: reader,
		store:  store,
		audit:  audit,
	}
}

// ArchiveOpportunities uploads all opportunities detected before the cutoff
// and returns how many were archived.
func (a *ArchiveImpl) ArchiveOpportunities(ctx context.Context, before time.Time) (int64, error) {
	opps, err := a.store.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities query: %w", err)
	}
	if len(opps) == 0 {
		return 0, nil
	}

	jsonl, err := marshalJSONL(opps)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities marshal: %w", err)
	}
	tradeLog, err := marshalTradeLog(opps)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trade log marshal: %w", err)
	}

	jsonlPath := archivePath("opportunities", before, "jsonl")
	csvPath := archivePath("trade_log", before, "csv")
	if err := a.upload(ctx, jsonlPath, jsonl, contentTypeJSONL); err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities upload: %w", err)
	}
	if err := a.upload(ctx, csvPath, tradeLog, contentTypeCSV); err != nil {
		return 0, fmt.Errorf("s3blob: archive trade log upload: %w", err)
	}

	count := int64(len(opps))
	if a.audit != nil {
		if err := a.audit.Log(ctx, domain.AuditArchiveCompleted, map[string]any{
			"paths":  []string{jsonlPath, csvPath},
			"count":  count,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive audit log: %w", err)
		}
	}
	return count, nil
}

func (a *ArchiveImpl) upload(ctx context.Context, path string, data []byte, contentType string) error {
	var err error
	if int64(len(data)) > minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(data), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(data), contentType)
	}
	if err != nil {
		return err
	}
	if a.reader == nil {
		return nil
	}
	ok, err := a.reader.Exists(ctx, path)
	if err != nil {
		return fmt.Errorf("verify %s: %w", path, err)
	}
	if !ok {
		return fmt.Errorf("verify %s: %w", path, domain.ErrNotFound)
	}
	return nil
}

// archivePath builds the object key for one archive run, partitioned by the
// month of the cutoff and named after the cutoff itself so daily runs never
// overwrite each other:
//
//	archive/opportunities/2026-01/20260115T030000Z.jsonl
//	archive/trade_log/2026-01/20260115T030000Z.csv
func archivePath(kind string, before time.Time, ext string) string {
	before = before.UTC()
	return fmt.Sprintf("archive/%s/%s/%s.%s",
		kind, before.Format("2006-01"), before.Format("20060102T150405Z"), ext)
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var tradeLogHeader = []string{"timestamp", "route", "symbols", "profit_pct", "net_profit_pct", "hits"}

// marshalTradeLog renders the flat CSV trade log, one row per opportunity.
func marshalTradeLog(opps []domain.Opportunity) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(tradeLogHeader); err != nil {
		return nil, err
	}
	for _, o := range opps {
		row := []string{
			o.DetectedAt.UTC().Format(time.RFC3339Nano),
			o.RouteString(),
			strings.Join(o.Symbols, " "),
			strconv.FormatFloat(o.ProfitPercentage, 'f', 6, 64),
			strconv.FormatFloat(o.NetProfitPercentage, 'f', 6, 64),
			strconv.Itoa(o.Hits),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
