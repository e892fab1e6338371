package cte

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// userAgent is sent on consultation requests; some portals reject the Go
// default agent.
const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

var httpClient = &http.Client{Timeout: 10 * time.Second}

// Party identifies one participant of the transport document.
type Party struct {
	RazaoSocial string `json:"razao_social,omitempty"`
	CNPJ        string `json:"cnpj,omitempty"`
}

// Document holds fields scraped from a CT-e consultation page. The
// selectors are layout-specific and brittle: portals differ per state, so
// empty fields simply mean the label was not found on this layout.
type Document struct {
	NumeroCTe    string             `json:"numero_cte,omitempty"`
	ChaveAcesso  string             `json:"chave_acesso,omitempty"`
	DataEmissao  string             `json:"data_emissao,omitempty"`
	Emitente     Party              `json:"emitente"`
	Remetente    Party              `json:"remetente"`
	Destinatario Party              `json:"destinatario"`
	Tomador      Party              `json:"tomador"`
	ValorTotal   string             `json:"valor_total,omitempty"`
	ValorReceber string             `json:"valor_receber,omitempty"`
	Modalidade   string             `json:"modalidade,omitempty"`
	TipoServico  string             `json:"tipo_servico,omitempty"`
	Valores      map[string]float64 `json:"valores,omitempty"`
	URL          string             `json:"url_qrcode,omitempty"`
}

var (
	chaveRE    = regexp.MustCompile(`\b\d{44}\b`)
	numeroRE   = regexp.MustCompile(`(?i)CT-e\s*n[º°]?\s*[:.]?\s*(\d+)`)
	valorRules = []struct {
		re  *regexp.Regexp
		key string
	}{
		{regexp.MustCompile(`(?i)valor\s*total\s*(?:do|da|de)?\s*CT-?e\s*[:.]?\s*R?\$?\s*([\d.,]+)`), "valor_total"},
		{regexp.MustCompile(`(?i)valor\s*a\s*(?:receber|pagar)\s*[:.]?\s*R?\$?\s*([\d.,]+)`), "valor_receber"},
		{regexp.MustCompile(`(?i)valor\s*(?:do|da|de)?\s*carga\s*[:.]?\s*R?\$?\s*([\d.,]+)`), "valor_carga"},
	}
)

// Fetch retrieves and parses a consultation page.
func Fetch(ctx context.Context, url string) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch consultation page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("consultation page returned status %d", resp.StatusCode)
	}
	doc, err := Parse(resp.Body)
	if err != nil {
		return nil, err
	}
	doc.URL = url
	return doc, nil
}

// Parse extracts CT-e fields from a consultation page. Two layers: a
// label-based lookup over the page's text chunks, then regex fallbacks over
// the flattened text for anything the labels missed.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	chunks := textChunks(root)
	full := strings.Join(chunks, " ")

	doc := &Document{
		NumeroCTe:   textByLabel(chunks, "Número do CT-e", "Nro. do CT-e", "Número"),
		ChaveAcesso: textByLabel(chunks, "Chave de Acesso", "Chave do CT-e"),
		DataEmissao: textByLabel(chunks, "Data de Emissão", "Emissão"),
		Emitente: Party{
			RazaoSocial: textByLabel(chunks, "Razão Social do Emitente", "Emitente"),
			CNPJ:        textByLabel(chunks, "CNPJ do Emitente"),
		},
		Remetente: Party{
			RazaoSocial: textByLabel(chunks, "Razão Social do Remetente", "Remetente"),
			CNPJ:        textByLabel(chunks, "CNPJ do Remetente"),
		},
		Destinatario: Party{
			RazaoSocial: textByLabel(chunks, "Razão Social do Destinatário", "Destinatário"),
			CNPJ:        textByLabel(chunks, "CNPJ do Destinatário"),
		},
		Tomador: Party{
			RazaoSocial: textByLabel(chunks, "Razão Social do Tomador", "Tomador"),
			CNPJ:        textByLabel(chunks, "CNPJ do Tomador"),
		},
		ValorTotal:   textByLabel(chunks, "Valor Total", "Total CT-e"),
		ValorReceber: textByLabel(chunks, "Valor a Receber", "Valor a Pagar"),
		Modalidade:   textByLabel(chunks, "Modalidade", "Modal"),
		TipoServico:  textByLabel(chunks, "Tipo de Serviço"),
	}

	if doc.ChaveAcesso == "" {
		doc.ChaveAcesso = chaveRE.FindString(full)
	}
	if doc.NumeroCTe == "" {
		if m := numeroRE.FindStringSubmatch(full); len(m) >= 2 {
			doc.NumeroCTe = m[1]
		}
	}
	for _, rule := range valorRules {
		m := rule.re.FindStringSubmatch(full)
		if len(m) < 2 {
			continue
		}
		v, err := parseBRL(m[1])
		if err != nil {
			continue
		}
		if doc.Valores == nil {
			doc.Valores = map[string]float64{}
		}
		doc.Valores[rule.key] = v
	}

	if doc.empty() {
		return nil, ErrNoData
	}
	return doc, nil
}

func (d *Document) empty() bool {
	return d.NumeroCTe == "" && d.ChaveAcesso == "" && d.DataEmissao == "" &&
		d.Emitente == (Party{}) && d.Remetente == (Party{}) &&
		d.Destinatario == (Party{}) && d.Tomador == (Party{}) &&
		d.ValorTotal == "" && d.ValorReceber == "" &&
		d.Modalidade == "" && d.TipoServico == "" && len(d.Valores) == 0
}

// parseBRL parses a Brazilian-formatted value ("1.234,56") as a float.
func parseBRL(s string) (float64, error) {
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")
	return strconv.ParseFloat(s, 64)
}

// textChunks collects trimmed text nodes in document order, skipping script
// and style subtrees.
func textChunks(n *html.Node) []string {
	var out []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				out = append(out, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

// textByLabel finds the value following one of the given labels, most
// specific label first. A chunk holding "Label: value" yields its suffix;
// otherwise the next non-empty chunk is taken.
func textByLabel(chunks []string, labels ...string) string {
	for _, label := range labels {
		low := strings.ToLower(label)
		for i, c := range chunks {
			if !strings.Contains(strings.ToLower(c), low) {
				continue
			}
			if idx := strings.Index(c, ":"); idx >= 0 {
				if v := strings.TrimSpace(c[idx+1:]); v != "" {
					return v
				}
			}
			if i+1 < len(chunks) {
				if v := strings.TrimSpace(chunks[i+1]); v != "" {
					return v
				}
			}
		}
	}
	return ""
}
