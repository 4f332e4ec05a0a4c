// Receipt HTTP handler.
//
//   - POST /receipts   (upload a receipt image, get a receipt table back)
//
// The image may be sent as multipart/form-data in the "image" field, or as
// the raw request body with an image Content-Type. The bytes are sniffed;
// the declared type is only a fallback.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/scan2serve/internal/http/middleware"
)

// errTooLarge marks an upload over the configured cap.
var errTooLarge = errors.New("upload too large")

// readImage returns the uploaded bytes and their declared media type.
func (h *Handlers) readImage(c *gin.Context) ([]byte, string, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+(1<<20))

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("image")
		if err != nil {
			if isTooLarge(err) {
				return nil, "", errTooLarge
			}
			return nil, "", fmt.Errorf("image field required: %w", err)
		}
		if fh.Size > h.maxUpload {
			return nil, "", errTooLarge
		}
		f, err := fh.Open()
		if err != nil {
			return nil, "", err
		}
		defer f.Close()
		b, err := readCapped(f, h.maxUpload)
		return b, fh.Header.Get("Content-Type"), err
	}

	b, err := readCapped(c.Request.Body, h.maxUpload)
	return b, c.ContentType(), err
}

func readCapped(r io.Reader, max int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		if isTooLarge(err) {
			return nil, errTooLarge
		}
		return nil, err
	}
	if int64(len(b)) > max {
		return nil, errTooLarge
	}
	return b, nil
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large")
}

// ScanReceipt godoc
// @ID          scanReceipt
// @Summary     Scan a receipt
// @Description Sends the image to the extraction service and opens a receipt table with one row per line item.
// @Description Nothing is written to the pantry until the table is accepted.
// @Tags        Receipts
// @Accept      multipart/form-data
// @Accept      image/jpeg
// @Accept      image/png
// @Accept      image/webp
// @Produce     json
// @Param       image  formData  file  false  "Receipt image (multipart uploads)"
// @Success     201  {object} handlers.TableResponse
// @Failure     400  {object} handlers.ErrorResponse "No image"
// @Failure     413  {object} handlers.ErrorResponse "Image too large"
// @Failure     415  {object} handlers.ErrorResponse "Unsupported image type"
// @Failure     502  {object} handlers.ErrorResponse "Extraction service failed"
// @Router      /receipts [post]
func (h *Handlers) ScanReceipt(c *gin.Context) {
	image, declared, err := h.readImage(c)
	switch {
	case errors.Is(err, errTooLarge):
		fail(c, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, fmt.Sprintf("image exceeds %d bytes", h.maxUpload))
		return
	case err != nil:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "image required")
		return
	}

	t, err := h.receipts.Scan(c.Request.Context(), image, declared)
	if err != nil {
		failErr(c, err)
		return
	}
	middleware.LoggerFrom(c).Info().Str("table_id", t.ID).Int("rows", len(t.Rows())).Msg("receipt scanned")
	ok(c, http.StatusCreated, tableResponse(t))
}
