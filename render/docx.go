package render

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"time"
)

// BlockKind distinguishes the structural elements of the DOCX model.
type BlockKind int

const (
	BlockTitle BlockKind = iota
	BlockHeading
	BlockSubheading
	BlockParagraph
)

// Run is a span of text with uniform formatting. Break starts a new line
// before the text.
type Run struct {
	Text  string
	Bold  bool
	Break bool
}

// Block is one paragraph-level element.
type Block struct {
	Kind BlockKind
	Runs []Run
}

// Text concatenates the block's runs.
func (b Block) Text() string {
	var buf bytes.Buffer
	for _, r := range b.Runs {
		if r.Break {
			buf.WriteByte('\n')
		}
		buf.WriteString(r.Text)
	}
	return buf.String()
}

// BuildModel lays a document out as blocks in the same order and numbering
// as the HTML skeleton.
func BuildModel(doc *Document) []Block {
	var blocks []Block
	add := func(kind BlockKind, runs ...Run) {
		blocks = append(blocks, Block{Kind: kind, Runs: runs})
	}

	add(BlockTitle, Run{Text: doc.Title})

	add(BlockParagraph, Run{Text: "Parties", Bold: true})
	for i, p := range doc.ListedParties() {
		runs := []Run{{Text: fmt.Sprintf("%d. ", i+1)}, {Text: p.Label + ":", Bold: true}, {Text: " " + p.Name}}
		for j, line := range Lines(p.Address) {
			if p.Address == "" {
				break
			}
			if j == 0 {
				runs = append(runs, Run{Text: ", " + line})
			} else {
				runs = append(runs, Run{Text: line, Break: true})
			}
		}
		add(BlockParagraph, runs...)
	}

	for _, s := range doc.Sections {
		add(BlockHeading, Run{Text: fmt.Sprintf("%d. ", s.Number), Bold: true}, Run{Text: s.Title, Bold: true})
		if s.Subtitle != "" {
			add(BlockSubheading, Run{Text: s.Subtitle})
		}
		for _, para := range Paragraphs(s.Body) {
			var runs []Run
			for j, line := range Lines(para) {
				runs = append(runs, Run{Text: line, Break: j > 0})
			}
			add(BlockParagraph, runs...)
		}
	}

	for _, p := range doc.Signatories() {
		add(BlockParagraph, Run{Text: "Signed for and on behalf of " + p.Label, Bold: true})
		add(BlockParagraph, Run{Text: "Name: ", Bold: true}, Run{Text: p.Name})
		if p.Signatory != "" {
			add(BlockParagraph, Run{Text: "Signatory: ", Bold: true}, Run{Text: p.Signatory})
		}
		add(BlockParagraph, Run{Text: "Signature: ", Bold: true}, Run{Text: "______________________________"})
		add(BlockParagraph, Run{Text: "Date: ", Bold: true}, Run{Text: "______________________________"})
	}
	return blocks
}

const (
	nsW       = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	nsRel     = "http://schemas.openxmlformats.org/package/2006/relationships"
	nsTypes   = "http://schemas.openxmlformats.org/package/2006/content-types"
	relOffice = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument"
	relStyles = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/styles"
)

// Style ids referenced by w:pStyle.
const (
	StyleTitle    = "Title"
	StyleHeading1 = "Heading1"
	StyleHeading2 = "Heading2"
)

// docxEpoch is stamped on every zip entry so identical input yields identical bytes.
var docxEpoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

type wDocument struct {
	XMLName xml.Name `xml:"w:document"`
	XmlnsW  string   `xml:"xmlns:w,attr"`
	Body    wBody    `xml:"w:body"`
}

type wBody struct {
	Paragraphs []wP `xml:"w:p"`
}

type wP struct {
	PPr  *wPPr `xml:"w:pPr,omitempty"`
	Runs []wR  `xml:"w:r"`
}

type wPPr struct {
	PStyle *wVal `xml:"w:pStyle,omitempty"`
}

type wVal struct {
	Val string `xml:"w:val,attr"`
}

type wR struct {
	RPr *wRPr `xml:"w:rPr,omitempty"`
	Br  *wBr  `xml:"w:br,omitempty"`
	T   wT    `xml:"w:t"`
}

type wRPr struct {
	B *wB `xml:"w:b,omitempty"`
}

type wB struct{}

type wBr struct{}

type wT struct {
	Space string `xml:"xml:space,attr,omitempty"`
	Text  string `xml:",chardata"`
}

func styleFor(kind BlockKind) string {
	switch kind {
	case BlockTitle:
		return StyleTitle
	case BlockHeading:
		return StyleHeading1
	case BlockSubheading:
		return StyleHeading2
	}
	return ""
}

func documentXML(blocks []Block) ([]byte, error) {
	doc := wDocument{XmlnsW: nsW}
	for _, b := range blocks {
		p := wP{}
		if style := styleFor(b.Kind); style != "" {
			p.PPr = &wPPr{PStyle: &wVal{Val: style}}
		}
		for _, r := range b.Runs {
			run := wR{T: wT{Space: "preserve", Text: r.Text}}
			if r.Bold {
				run.RPr = &wRPr{B: &wB{}}
			}
			if r.Break {
				run.Br = &wBr{}
			}
			p.Runs = append(p.Runs, run)
		}
		doc.Body.Paragraphs = append(doc.Body.Paragraphs, p)
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

const contentTypesXML = xml.Header + `<Types xmlns="` + nsTypes + `">` +
	`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>` +
	`<Default Extension="xml" ContentType="application/xml"/>` +
	`<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>` +
	`<Override PartName="/word/styles.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.styles+xml"/>` +
	`</Types>`

const packageRelsXML = xml.Header + `<Relationships xmlns="` + nsRel + `">` +
	`<Relationship Id="rId1" Type="` + relOffice + `" Target="word/document.xml"/>` +
	`</Relationships>`

const documentRelsXML = xml.Header + `<Relationships xmlns="` + nsRel + `">` +
	`<Relationship Id="rId1" Type="` + relStyles + `" Target="styles.xml"/>` +
	`</Relationships>`

const stylesXML = xml.Header + `<w:styles xmlns:w="` + nsW + `">` +
	`<w:docDefaults><w:rPrDefault><w:rPr><w:rFonts w:ascii="Times New Roman" w:hAnsi="Times New Roman"/><w:sz w:val="22"/></w:rPr></w:rPrDefault></w:docDefaults>` +
	`<w:style w:type="paragraph" w:default="1" w:styleId="Normal"><w:name w:val="Normal"/><w:pPr><w:spacing w:after="120"/></w:pPr></w:style>` +
	`<w:style w:type="paragraph" w:styleId="Title"><w:name w:val="Title"/><w:basedOn w:val="Normal"/><w:pPr><w:jc w:val="center"/></w:pPr><w:rPr><w:b/><w:sz w:val="32"/></w:rPr></w:style>` +
	`<w:style w:type="paragraph" w:styleId="Heading1"><w:name w:val="heading 1"/><w:basedOn w:val="Normal"/><w:pPr><w:keepNext/><w:spacing w:before="240"/><w:outlineLvl w:val="0"/></w:pPr><w:rPr><w:b/><w:sz w:val="24"/></w:rPr></w:style>` +
	`<w:style w:type="paragraph" w:styleId="Heading2"><w:name w:val="heading 2"/><w:basedOn w:val="Normal"/><w:pPr><w:keepNext/><w:outlineLvl w:val="1"/></w:pPr><w:rPr><w:i/></w:rPr></w:style>` +
	`</w:styles>`

// RenderDOCX serializes the document model as a WordprocessingML package.
func RenderDOCX(doc *Document) ([]byte, error) {
	body, err := documentXML(BuildModel(doc))
	if err != nil {
		return nil, fmt.Errorf("render docx body: %w", err)
	}

	parts := []struct {
		name string
		data []byte
	}{
		{"[Content_Types].xml", []byte(contentTypesXML)},
		{"_rels/.rels", []byte(packageRelsXML)},
		{"word/_rels/document.xml.rels", []byte(documentRelsXML)},
		{"word/document.xml", body},
		{"word/styles.xml", []byte(stylesXML)},
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, part := range parts {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     part.name,
			Method:   zip.Deflate,
			Modified: docxEpoch,
		})
		if err != nil {
			return nil, fmt.Errorf("render docx part %s: %w", part.name, err)
		}
		if _, err := w.Write(part.data); err != nil {
			return nil, fmt.Errorf("render docx part %s: %w", part.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("render docx: %w", err)
	}
	return buf.Bytes(), nil
}
