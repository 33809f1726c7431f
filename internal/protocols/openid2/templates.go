package openid2

import (
	"bytes"
	"embed"
	"html/template"
	"log"
	"net/http"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageNames = []string{"error", "empty", "login", "decide", "identity"}

func loadPages() (map[string]*template.Template, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, err
		}
		pages[name] = t
	}
	return pages, nil
}

func (p *Plugin) render(w http.ResponseWriter, status int, page string, data interface{}) {
	t, ok := p.pages[page]
	if !ok {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		log.Printf("[OpenID] render %s: %v", page, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

type errorPage struct {
	Error   string
	Payload string
}

type emptyPage struct {
	Endpoint string
	XRDSURL  string
}

type loginPage struct {
	Action   string
	CSRF     string
	Next     string
	Username string
	Error    string
}

type sregView struct {
	Required  []string
	Optional  []string
	PolicyURL string
}

type decidePage struct {
	Action       string
	LogoutAction string
	CSRF         string
	TrustRoot    string
	Sane         bool
	Username     string
	Identity     string
	SReg         *sregView
}

type identityPage struct {
	Username string
	Endpoint string
	Identity string
	XRDSURL  string
}
