package delivery

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gomutex/godocx"
	"github.com/gomutex/godocx/docx"
)

const (
	docFont     = "Calibri"
	docFontSize = 11
)

var (
	reHeading = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	reBold    = regexp.MustCompile(`\*\*(.+?)\*\*`)
	reBullet  = regexp.MustCompile(`^[\-\*]\s+(.+)$`)
)

// WriteDocument writes markdown to dir/base.md and, when withDocx is set, a styled dir/base.docx.
// The returned attachments list the files written.
func WriteDocument(dir, base, title, markdown string, withDocx bool) ([]Attachment, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	mdPath := filepath.Join(dir, base+".md")
	if err := os.WriteFile(mdPath, []byte(markdown), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", filepath.Base(mdPath), err)
	}
	files := []Attachment{{Name: base + ".md", Path: mdPath}}

	if withDocx {
		docPath := filepath.Join(dir, base+".docx")
		if err := markdownToDocx(title, markdown, docPath); err != nil {
			return files, fmt.Errorf("write %s: %w", filepath.Base(docPath), err)
		}
		files = append(files, Attachment{Name: base + ".docx", Path: docPath})
	}
	return files, nil
}

// markdownToDocx renders headings, bullets and **bold** spans; other markdown is flattened to text
func markdownToDocx(title, markdown, outputPath string) error {
	doc, err := godocx.NewDocument()
	if err != nil {
		return err
	}

	addRun(doc.AddParagraph(""), title, true, 16)

	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || trimmed == "---" {
			continue
		}

		if m := reHeading.FindStringSubmatch(trimmed); m != nil {
			addRun(doc.AddParagraph(""), m[2], true, headingSize(len(m[1])))
			continue
		}
		if m := reBullet.FindStringSubmatch(trimmed); m != nil {
			addRichText(doc.AddParagraph(""), "• "+m[1])
			continue
		}
		addRichText(doc.AddParagraph(""), trimmed)
	}

	return doc.SaveTo(outputPath)
}

func headingSize(level int) uint64 {
	switch level {
	case 1:
		return 15
	case 2:
		return 13
	default:
		return 12
	}
}

func addRun(p *docx.Paragraph, text string, bold bool, size uint64) {
	run := p.AddText(stripInline(text)).Font(docFont).Size(size)
	if bold {
		run.Bold(true)
	}
}

// addRichText splits text on **bold** markers and emits alternating runs
func addRichText(p *docx.Paragraph, text string) {
	plain := reBold.Split(text, -1)
	bold := reBold.FindAllStringSubmatch(text, -1)

	for i, part := range plain {
		if part != "" {
			p.AddText(stripInline(part)).Font(docFont).Size(docFontSize)
		}
		if i < len(bold) {
			p.AddText(stripInline(bold[i][1])).Font(docFont).Size(docFontSize).Bold(true)
		}
	}
}

func stripInline(s string) string {
	return strings.NewReplacer("**", "", "__", "", "`", "").Replace(s)
}
