package render

import (
	"bytes"
	"fmt"
	"html/template"
)

const htmlSkeleton = `<!DOCTYPE html>
<html lang="{{.Language}}">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: "Times New Roman", serif; font-size: 11pt; line-height: 1.45; }
h1.document-title { text-align: center; font-size: 16pt; }
h2.clause-title { font-size: 12pt; margin-top: 1.4em; }
h3.clause-subtitle { font-size: 11pt; font-style: italic; }
.signatures { margin-top: 3em; }
.signature-block { margin-top: 2em; page-break-inside: avoid; }
</style>
</head>
<body>
<article class="document" data-template="{{.TemplateCode}}" data-jurisdiction="{{.Jurisdiction}}">
<h1 class="document-title">{{.Title}}</h1>
<section class="parties">
<p class="parties-heading"><strong>Parties</strong></p>
<ol>
{{- range .ListedParties}}
<li><strong>{{.Label}}:</strong> {{.Name}}{{with .Address}}{{range $i, $l := lines .}}{{if eq $i 0}}, {{else}}<br>{{end}}{{$l}}{{end}}{{end}}</li>
{{- end}}
</ol>
</section>
{{- range .Sections}}
<section class="clause" id="clause-{{.ClauseID}}" data-number="{{.Number}}">
<h2 class="clause-title"><span class="clause-number">{{.Number}}.</span> {{.Title}}</h2>
{{- with .Subtitle}}
<h3 class="clause-subtitle">{{.}}</h3>
{{- end}}
{{- range paragraphs .Body}}
<p>{{range $i, $l := lines .}}{{if $i}}<br>{{end}}{{$l}}{{end}}</p>
{{- end}}
</section>
{{- end}}
<section class="signatures">
{{- range .Signatories}}
<div class="signature-block">
<p><strong>Signed for and on behalf of {{.Label}}</strong></p>
<p>Name: {{.Name}}</p>
{{- with .Signatory}}
<p>Signatory: {{.}}</p>
{{- end}}
<p>Signature: ______________________________</p>
<p>Date: ______________________________</p>
</div>
{{- end}}
</section>
</article>
</body>
</html>
`

var htmlTemplate = template.Must(template.New("document").Funcs(template.FuncMap{
	"paragraphs": Paragraphs,
	"lines":      Lines,
}).Parse(htmlSkeleton))

// RenderHTML writes the fixed document skeleton. All text is escaped; clause
// content never carries markup.
func RenderHTML(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, doc); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	return buf.Bytes(), nil
}
