package pdfcheck

import (
	"errors"
	"fmt"

	"github.com/ledongthuc/pdf"
)

var ErrNotPDF = errors.New("file is not a valid pdf")

// Validate opens the file as a PDF and confirms its structure parses.
// Content-Type headers are client-supplied, so uploads are checked against
// the actual bytes before they leave for the remote index.
func Validate(path string) error {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotPDF, err)
	}
	defer f.Close()

	if reader.NumPage() < 1 {
		return ErrNotPDF
	}
	return nil
}
