package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/iudanet/farmkeeper/internal/client/badge"
	"github.com/iudanet/farmkeeper/internal/models"
	pkgapi "github.com/iudanet/farmkeeper/pkg/api"
)

// shortIDLen длина префикса correlation id в выводе
const shortIDLen = 8

// styles раскрашивает вывод, если он идет в терминал
type styles struct {
	header     lipgloss.Style
	muted      lipgloss.Style
	categories map[badge.Category]lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		header: r.NewStyle().Bold(true),
		muted:  r.NewStyle().Faint(true),
		categories: map[badge.Category]lipgloss.Style{
			badge.CategoryNeutral:  r.NewStyle().Foreground(lipgloss.Color("8")),
			badge.CategoryProgress: r.NewStyle().Foreground(lipgloss.Color("4")),
			badge.CategorySuccess:  r.NewStyle().Foreground(lipgloss.Color("2")),
			badge.CategoryDanger:   r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
			badge.CategoryWarning:  r.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
		},
	}
}

func (s styles) badge(b badge.Badge) string {
	style, ok := s.categories[b.Category]
	if !ok {
		return b.String()
	}
	return style.Render(b.String())
}

// table выравнивает колонки по ширине с учетом escape-последовательностей
type table struct {
	headers []string
	rows    [][]string
}

func (t *table) add(row ...string) {
	t.rows = append(t.rows, row)
}

func (t *table) render(w io.Writer, st styles) {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], lipgloss.Width(cell))
			}
		}
	}

	line := func(cells []string, style func(string) string) {
		var sb strings.Builder
		for i, cell := range cells {
			if i >= len(widths) {
				break
			}
			if i > 0 {
				sb.WriteString("  ")
			}
			sb.WriteString(style(cell))
			if i < len(cells)-1 {
				sb.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)))
			}
		}
		sb.WriteString("\n")
		_, _ = io.WriteString(w, sb.String())
	}

	line(t.headers, func(s string) string { return st.header.Render(s) })
	for _, row := range t.rows {
		line(row, func(s string) string { return s })
	}
}

func shortID(id string) string {
	if len(id) <= shortIDLen {
		return id
	}
	return id[:shortIDLen]
}

// target описывает запись, которую меняет операция: "update animals/cow-7"
func target(op *models.PendingOperation) string {
	return fmt.Sprintf("%s %s/%s", op.Kind, op.Collection, op.RecordID)
}

// age печатает время с точностью до секунды
func age(now, t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return now.Sub(t).Truncate(time.Second).String()
}

// compactJSON печатает JSON в одну строку, недопустимый JSON выводится как есть
func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "-"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// indentJSON печатает JSON с отступами для подробного вывода
func indentJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "-"
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "  ", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

func (c *Cli) printOperations(ops []*models.PendingOperation, now time.Time) {
	st := newStyles(c.io)
	t := &table{headers: []string{"ID", "STATUS", "OPERATION", "BASE", "ATTEMPT", "AGE", "DETAILS"}}
	for _, op := range ops {
		t.add(
			shortID(op.CorrelationID),
			st.badge(badge.ForOperation(op)),
			target(op),
			fmt.Sprint(op.BaseVersion),
			fmt.Sprint(op.Attempt),
			age(now, op.CreatedAt),
			details(op),
		)
	}
	t.render(c.io, st)
}

// details краткое пояснение к статусу операции
func details(op *models.PendingOperation) string {
	switch op.Status {
	case models.StatusSynced:
		return fmt.Sprintf("confirmed v%d", op.ConfirmedVersion)
	case models.StatusConflict:
		return fmt.Sprintf("remote is at v%d: %s", op.RemoteVersion, op.LastError)
	case models.StatusError:
		return op.LastError
	}
	return ""
}

func (c *Cli) printOperation(op *models.PendingOperation) {
	st := newStyles(c.io)
	c.io.Printf("Operation:   %s\n", op.CorrelationID)
	c.io.Printf("Status:      %s\n", st.badge(badge.ForOperation(op)))
	c.io.Printf("Target:      %s\n", target(op))
	c.io.Printf("Base:        v%d\n", op.BaseVersion)
	c.io.Printf("Attempt:     %d\n", op.Attempt)
	if op.LastError != "" {
		c.io.Printf("Last error:  %s\n", op.LastError)
	}
	c.io.Printf("Payload:     %s\n", indentJSON(op.Payload))
	if op.Status == models.StatusConflict {
		if op.RemoteDeleted {
			c.io.Printf("Remote (v%d): deleted\n", op.RemoteVersion)
		} else {
			c.io.Printf("Remote (v%d): %s\n", op.RemoteVersion, indentJSON(op.RemoteRecord))
		}
		c.io.Println(st.muted.Render("Resolve with: farmkeeper resolve " + shortID(op.CorrelationID) + " --keep local|remote|merged"))
	}
	if op.Status == models.StatusError {
		if op.Permanent {
			c.io.Println(st.muted.Render("Edit with: farmkeeper amend " + shortID(op.CorrelationID) + " --data '<json>'"))
		} else {
			c.io.Println(st.muted.Render("Retry with: farmkeeper retry " + shortID(op.CorrelationID)))
		}
	}
}

func (c *Cli) printRecords(records []pkgapi.Record, now time.Time) {
	st := newStyles(c.io)
	t := &table{headers: []string{"ID", "VERSION", "AGE", "DATA"}}
	for _, rec := range records {
		t.add(rec.ID, fmt.Sprintf("v%d", rec.Version), age(now, rec.UpdatedAt), compactJSON(rec.Data))
	}
	t.render(c.io, st)
}

func (c *Cli) printRecord(rec *pkgapi.Record) {
	c.io.Printf("Record:   %s/%s\n", rec.Collection, rec.ID)
	c.io.Printf("Version:  v%d\n", rec.Version)
	if rec.Deleted {
		c.io.Println("Deleted:  yes")
	}
	c.io.Printf("Updated:  %s\n", rec.UpdatedAt.Format(time.RFC3339))
	c.io.Printf("Data:     %s\n", indentJSON(rec.Data))
}
