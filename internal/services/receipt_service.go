// Package services – ReceiptService
//
// This file implements ReceiptService, which turns an uploaded receipt
// image into a receipt review table.
package services

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/scan2serve/internal/editing"
	"github.com/tbourn/scan2serve/internal/extract"
	"github.com/tbourn/scan2serve/internal/upstream"
)

// Extractor reads line items from a receipt image.
type Extractor interface {
	Extract(ctx context.Context, image []byte, mediaType string) (*extract.Result, error)
}

// ReceiptService scans receipts into review tables.
type ReceiptService struct {
	Extractor Extractor
	Policy    extract.Policy
	Tables    *TableService
}

// Scan extracts image and registers the rows as a new receipt table.
// Media errors from the extract package are returned unchanged; upstream
// failures are wrapped in ErrUpstream.
func (s *ReceiptService) Scan(ctx context.Context, image []byte, mediaType string) (*editing.Table, error) {
	ctx, span := otel.Tracer("services/ReceiptService").Start(ctx, "Scan",
		trace.WithAttributes(attribute.Int("image.bytes", len(image)), attribute.String("image.type", mediaType)),
	)
	defer span.End()

	res, err := s.Extractor.Extract(ctx, image, mediaType)
	if err != nil {
		var ue *upstream.Error
		if errors.As(err, &ue) {
			return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
		}
		return nil, err
	}
	rows := extract.BuildRows(res.Items, s.Policy)
	span.SetAttributes(attribute.Int("receipt.rows", len(rows)))
	return s.Tables.CreateReceiptTable(rows), nil
}
