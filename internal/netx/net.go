// Package netx builds HTTP request bodies that the API client sends.
package netx

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
)

// MultipartFile encodes r as a single-file multipart/form-data body under
// fieldName. It returns the body and the Content-Type header (with boundary)
// that must accompany it. The body is fully buffered so the request can be
// replayed after a credential refresh.
func MultipartFile(fieldName, fileName string, r io.Reader) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile(fieldName, fileName)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, "", fmt.Errorf("copy %s: %w", fileName, err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}

	return buf.Bytes(), mw.FormDataContentType(), nil
}
