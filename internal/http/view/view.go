// Package view рендерит HTML-страницы панели биллинга.
package view

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"math"
	"net/http"
	"time"

	"github.com/magabrotheeeer/billing-panel/internal/models"
	"github.com/magabrotheeeer/billing-panel/internal/services/billing"
)

//go:embed templates/*.html
var files embed.FS

var pages = template.Must(template.ParseFS(files, "templates/*.html"))

// NoticeKind — вид уведомления на странице.
type NoticeKind string

const (
	NoticeSuccess NoticeKind = "success"
	NoticeError   NoticeKind = "error"
)

// Notice — всплывающее уведомление.
type Notice struct {
	Kind NoticeKind
	Text string
}

// Chooser — выбор провайдера оплаты для периода.
type Chooser struct {
	Period models.Period
	Action string
}

// Page — данные для шаблона страницы.
type Page struct {
	LoggedIn bool
	Notice   *Notice
	Panel    *billing.Panel
	Chooser  *Chooser
	// RefreshSeconds и RefreshURL дублируют заголовок Refresh в meta-теге.
	RefreshSeconds int
	RefreshURL     string
}

// Render пишет страницу с указанным статусом.
func Render(w http.ResponseWriter, status int, p Page) error {
	const op = "view.Render"

	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, "layout", p); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RedirectAfter показывает страницу p и перенаправляет на url через delay.
// Нулевая задержка превращается в 303 See Other без страницы.
func RedirectAfter(w http.ResponseWriter, r *http.Request, delay time.Duration, url string, p Page) error {
	if delay <= 0 {
		http.Redirect(w, r, url, http.StatusSeeOther)
		return nil
	}
	secs := int(math.Ceil(delay.Seconds()))
	w.Header().Set("Refresh", fmt.Sprintf("%d; url=%s", secs, url))
	p.RefreshSeconds = secs
	p.RefreshURL = url
	return Render(w, http.StatusOK, p)
}
