package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullDocument = `<!DOCTYPE html PUBLIC "-//W3C//DTD XHTML 1.0 Strict//EN" "http://www.w3.org/TR/xhtml1/DTD/xhtml1-strict.dtd">
<html xmlns="http://www.w3.org/1999/xhtml">
<head>
<title></title>
</head>
<body>
	<h1>This is some content</h1>
	<p>Our job is to clean it up.</p>
</body>
</html>`

func TestExtract_fullDocument(t *testing.T) {
	want := "<h1>This is some content</h1>\n\t<p>Our job is to clean it up.</p>"
	assert.Equal(t, want, NewExtractor().Extract(fullDocument))
}

func TestExtract_isFixedPoint(t *testing.T) {
	e := NewExtractor()
	once := e.Extract(fullDocument)
	assert.Equal(t, once, e.Extract(once))
}

func TestExtract_onlyBodyContents(t *testing.T) {
	fragment := "<h1>This is some content</h1>\n<p>Our job is to clean it up.</p>"
	assert.Equal(t, fragment, NewExtractor().Extract(fragment))
}

func TestExtract_noBodyTag(t *testing.T) {
	doc := `<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml">
<head>
<title></title>
</head>
</html>`
	assert.Empty(t, NewExtractor().Extract(doc))
}

func TestExtract_invalidHTML(t *testing.T) {
	doc := `<html xmlns="http://www.w3.org/1999/xhtml">
<head>
<title></title>
</body>
</html>`
	assert.Empty(t, NewExtractor().Extract(doc))

	_, err := BodyContents(doc)
	var serr *StructureError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "body", serr.Tag)
}

func TestExtract_strayClosingTagInsideBody(t *testing.T) {
	assert.Empty(t, NewExtractor().Extract("<body><p>one</div></p></body>"))
}

func TestExtract_headWithoutClosingTag(t *testing.T) {
	in := "<!DOCTYPE html><html><head><title>T</title><body><p>Hello</p></body></html>"
	assert.Equal(t, "<p>Hello</p>", NewExtractor().Extract(in))
}

func TestExtract_headEndsAtFirstBodyElement(t *testing.T) {
	in := `<html><head><meta charset="utf-8"><title>T</title><p>Hello</p></html>`
	assert.Equal(t, "<p>Hello</p>", NewExtractor().Extract(in))

	late := "<html><head><title>T</title><p>Hello</p></head><body></body></html>"
	out, err := BodyContents(late)
	require.NoError(t, err)
	assert.Equal(t, "<p>Hello</p>", out)
}

func TestExtract_strayBreakAndParagraphClosers(t *testing.T) {
	in := "<body><p>one</p>two</br>three</p></body>"
	assert.Equal(t, "<p>one</p>two<br>three<p></p>", NewExtractor().Extract(in))
}

func TestExtract_preservesMultibyte(t *testing.T) {
	emoji := "<p>emoji: 😉</p>"
	assert.Equal(t, emoji, NewExtractor().Extract(emoji))

	accents := "<html><body><p>Crème brûlée — naïve café</p></body></html>"
	assert.Equal(t, "<p>Crème brûlée — naïve café</p>", NewExtractor().Extract(accents))
}

func TestExtract_preservesEntitiesAndQuotes(t *testing.T) {
	in := `<body><p>Here's "quoted" &amp; escaped &lt;text&gt;</p></body>`
	assert.Equal(t, `<p>Here's "quoted" &amp; escaped &lt;text&gt;</p>`, NewExtractor().Extract(in))
}

func TestExtract_decodesDeclaredCharset(t *testing.T) {
	// 0xE9 is "é" in windows-1252 and is not valid UTF-8 on its own.
	in := "<html><head><meta charset=\"windows-1252\"></head><body><p>caf\xe9</p></body></html>"
	assert.Equal(t, "<p>café</p>", NewExtractor().Extract(in))
}

func TestExtract_voidAndSelfClosingElements(t *testing.T) {
	in := `<body><p>a<br>b<img src="x.jpg" /></p><hr></body>`
	assert.Equal(t, `<p>a<br>b<img src="x.jpg" /></p><hr>`, NewExtractor().Extract(in))
}

func TestExtract_implicitlyClosedElementsAreTolerated(t *testing.T) {
	in := "<body><ul><li>one<li>two</ul><p>open paragraph</body>"
	assert.Equal(t, "<ul><li>one<li>two</ul><p>open paragraph", NewExtractor().Extract(in))
}

func TestExtract_stripsWrappingDivWhenEnabled(t *testing.T) {
	in := "<html><body>\n<div>\n\t<h1>Title</h1>\n</div>\n</body></html>"
	assert.Equal(t, "<h1>Title</h1>", NewExtractor(WithStripWrappingDiv(true)).Extract(in))
	assert.Equal(t, "<div>\n\t<h1>Title</h1>\n</div>", NewExtractor().Extract(in))
}
