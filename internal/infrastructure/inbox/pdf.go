package inbox

import (
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// MaxPDFPages bounds how much of a dropped PDF becomes task content.
const MaxPDFPages = 10

// PDFText extracts the text layer of the first MaxPDFPages pages
func PDFText(path string) (string, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	pages := doc.NumPage()
	if pages > MaxPDFPages {
		pages = MaxPDFPages
	}

	var b strings.Builder
	for n := 0; n < pages; n++ {
		text, err := doc.Text(n)
		if err != nil {
			return "", fmt.Errorf("failed to read page %d: %w", n+1, err)
		}
		if n > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strings.TrimSpace(text))
	}

	if strings.TrimSpace(b.String()) == "" {
		return "", fmt.Errorf("PDF has no text layer")
	}
	return b.String(), nil
}
