package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var disableConfigDir sync.Once

func pdfConfig() *model.Configuration {
	disableConfigDir.Do(api.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// pdf extracts the text operands of the first MaxPages content streams.
func (e *Extractor) pdf(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	defer f.Close()

	conf := pdfConfig()

	pages, err := api.PageCount(f, conf)
	if err != nil {
		return "", fmt.Errorf("%w: reading pdf %s: %w", ErrExtraction, path, err)
	}
	if pages == 0 {
		return "", nil
	}
	if _, err := f.Seek(0, 0); err != nil {
		return "", fmt.Errorf("%w: %w", ErrExtraction, err)
	}

	outDir, err := os.MkdirTemp("", "tidy-pdf-*")
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	defer os.RemoveAll(outDir)

	last := min(pages, e.opts.MaxPages)
	selection := []string{fmt.Sprintf("1-%d", last)}
	if err := api.ExtractContent(f, outDir, "page", selection, conf); err != nil {
		return "", fmt.Errorf("%w: extracting pdf %s: %w", ErrExtraction, path, err)
	}

	files, err := filepath.Glob(filepath.Join(outDir, "*"))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	// page_Content_page_2.txt before page_Content_page_10.txt
	sort.Slice(files, func(i, j int) bool {
		if len(files[i]) != len(files[j]) {
			return len(files[i]) < len(files[j])
		}
		return files[i] < files[j]
	})

	var sb strings.Builder
	for _, name := range files {
		data, err := os.ReadFile(name)
		if err != nil {
			continue
		}
		text := contentText(data)
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(text)
		if int64(sb.Len()) >= e.opts.MaxBytes {
			break
		}
	}

	return sb.String(), nil
}

// contentText pulls literal string operands out of a page content stream.
// Strings inside a TJ array are joined directly; other strings are
// separated by spaces.
func contentText(stream []byte) string {
	var sb strings.Builder
	inArray := false

	for i := 0; i < len(stream); i++ {
		switch c := stream[i]; c {
		case '%':
			for i < len(stream) && stream[i] != '\n' && stream[i] != '\r' {
				i++
			}
		case '[':
			inArray = true
		case ']':
			if inArray {
				sb.WriteByte(' ')
			}
			inArray = false
		case '(':
			s, next := literalString(stream, i+1)
			i = next
			sb.WriteString(s)
			if !inArray {
				sb.WriteByte(' ')
			}
		}
	}

	return strings.Join(strings.Fields(sb.String()), " ")
}

// literalString decodes a PDF literal string starting after its opening
// parenthesis. It returns the decoded text and the index of the closing
// parenthesis.
func literalString(b []byte, start int) (string, int) {
	var sb strings.Builder
	depth := 1

	i := start
	for ; i < len(b); i++ {
		c := b[i]
		switch c {
		case '\\':
			i++
			if i >= len(b) {
				return sb.String(), i
			}
			switch esc := b[i]; esc {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case 'b', 'f':
			case '\r', '\n':
				// line continuation
			default:
				if esc >= '0' && esc <= '7' {
					v := int(esc - '0')
					for k := 0; k < 2 && i+1 < len(b) && b[i+1] >= '0' && b[i+1] <= '7'; k++ {
						i++
						v = v*8 + int(b[i]-'0')
					}
					sb.WriteByte(byte(v))
				} else {
					sb.WriteByte(esc)
				}
			}
		case '(':
			depth++
			sb.WriteByte(c)
		case ')':
			depth--
			if depth == 0 {
				return sb.String(), i
			}
			sb.WriteByte(c)
		default:
			sb.WriteByte(c)
		}
	}

	return sb.String(), i
}
