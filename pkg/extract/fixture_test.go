package extract

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildPDF 生成一个每页一行文字的最小 PDF，xref 偏移按实际字节计算。
func buildPDF(pages ...string) []byte {
	var objects []string
	kids := ""
	for i := range pages {
		kids += fmt.Sprintf("%d 0 R ", 4+2*i)
	}
	objects = append(objects,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d /MediaBox [0 0 612 792] >>", kids, len(pages)),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	)
	for i, text := range pages {
		stream := fmt.Sprintf("BT /F1 18 Tf 72 720 Td (%s) Tj ET", text)
		objects = append(objects,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
		)
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestNativeExtractorReadsTextLayer(t *testing.T) {
	data := buildPDF("Hello page one", "Second page here")

	res, err := NewNativeExtractor().ExtractText(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, 2, res.PageCount)
	require.Len(t, res.Pages, 2)
	assert.Contains(t, res.Pages[0], "Hello page one")
	assert.Contains(t, res.Pages[1], "Second page here")
	assert.Contains(t, res.Text, "Hello page one")
	assert.Contains(t, res.Text, "Second page here")
}

func TestNativeExtractorHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewNativeExtractor().ExtractText(ctx, buildPDF("one"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPageSplitterSplitsEveryPage(t *testing.T) {
	data := buildPDF("alpha", "beta", "gamma")

	pages, err := NewPageSplitter(t.TempDir()).Split(context.Background(), data)
	require.NoError(t, err)
	require.Len(t, pages, 3)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	for i, page := range pages {
		assert.True(t, IsPDF(page), "第 %d 页不是 PDF", i+1)
		count, err := api.PageCount(bytes.NewReader(page), conf)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	}
}
