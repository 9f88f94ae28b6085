package usecase

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/eliteGoblin/focusd/errwatch/internal/domain"
)

const (
	// MaxDisplayLength is the longest message excerpt shown in an alert.
	MaxDisplayLength = 300

	parseModeHTML = "HTML"

	// maxListedPackages caps the /packages reply to stay under the
	// transport's message size limit.
	maxListedPackages = 150
)

// Status is the liveness snapshot reported by /alive.
type Status struct {
	Host       string
	RunID      string
	StartedAt  time.Time
	LastPoll   time.Time
	Iterations uint64
	Forwarded  uint64
	Uptime     time.Duration // system uptime, zero if unknown
}

// StatusProvider supplies the loop's liveness snapshot.
type StatusProvider interface {
	Status() Status
}

// FormatAlert renders a forwarded error with an ignore button.
func FormatAlert(host string, ev domain.ErrorEvent, fp domain.Fingerprint) domain.Message {
	text := fmt.Sprintf("🚨 <b>Error on %s</b>\n\n"+
		"<b>Process:</b> <code>%s</code>\n"+
		"<b>Time:</b> %s\n"+
		"<b>ID:</b> <code>%s</code>\n\n"+
		"<code>%s</code>",
		html.EscapeString(host),
		html.EscapeString(ev.Process),
		ev.ObservedAt.Format("2006-01-02 15:04:05"),
		fp.String(),
		html.EscapeString(truncateRunes(ev.Message, MaxDisplayLength)),
	)

	return domain.Message{
		Text:      text,
		ParseMode: parseModeHTML,
		Controls: [][]domain.Button{
			{{Text: "🔕 Ignore " + fp.String(), Data: "/ignore " + fp.String()}},
		},
	}
}

// FormatStartup renders the one-time startup notification.
func FormatStartup(st Status) domain.Message {
	var b strings.Builder
	b.WriteString("🖥️ <b>Error monitor started</b>\n\n")
	fmt.Fprintf(&b, "<b>Host:</b> <code>%s</code>\n", html.EscapeString(st.Host))
	fmt.Fprintf(&b, "<b>Started:</b> %s\n", st.StartedAt.Format("2006-01-02 15:04:05"))
	if st.Uptime > 0 {
		fmt.Fprintf(&b, "<b>Uptime:</b> %s\n", formatDuration(st.Uptime))
	}
	fmt.Fprintf(&b, "<b>Run:</b> <code>%s</code>\n\n", st.RunID)
	b.WriteString("✅ Monitoring system logs for errors.")

	return domain.Message{
		Text:      b.String(),
		ParseMode: parseModeHTML,
		Controls:  CommandControls(),
	}
}

// CommandControls mirrors the command set as buttons.
func CommandControls() [][]domain.Button {
	return [][]domain.Button{
		{
			{Text: "📦 Packages", Data: "/packages"},
			{Text: "🌐 Global mode", Data: "/nm"},
		},
		{
			{Text: "🔕 Ignoring", Data: "/ignoring"},
			{Text: "💓 Alive", Data: "/alive"},
			{Text: "❓ Help", Data: "/help"},
		},
	}
}

// FormatStatus renders the /alive report.
func FormatStatus(st Status, mode domain.Mode, watched []string, ignored int) string {
	var b strings.Builder
	b.WriteString("💓 <b>Alive</b>\n\n")
	fmt.Fprintf(&b, "<b>Host:</b> <code>%s</code>\n", html.EscapeString(st.Host))
	fmt.Fprintf(&b, "<b>Running for:</b> %s\n", formatDuration(time.Since(st.StartedAt)))
	if st.Uptime > 0 {
		fmt.Fprintf(&b, "<b>System uptime:</b> %s\n", formatDuration(st.Uptime))
	}
	fmt.Fprintf(&b, "<b>Mode:</b> %s\n", modeDescription(mode, watched))
	fmt.Fprintf(&b, "<b>Ignored:</b> %d\n", ignored)
	fmt.Fprintf(&b, "<b>Forwarded:</b> %d\n", st.Forwarded)
	fmt.Fprintf(&b, "<b>Polls:</b> %d\n", st.Iterations)
	if !st.LastPoll.IsZero() {
		fmt.Fprintf(&b, "<b>Last poll:</b> %s\n", st.LastPoll.Format("15:04:05"))
	}
	fmt.Fprintf(&b, "<b>Run:</b> <code>%s</code>", st.RunID)
	return b.String()
}

// FormatPackages renders the /packages listing.
func FormatPackages(pkgs []domain.Package) string {
	if len(pkgs) == 0 {
		return "No running processes found."
	}

	var b strings.Builder
	b.WriteString("📦 <b>Running processes</b>\n\n")
	for i, p := range pkgs {
		if i == maxListedPackages {
			fmt.Fprintf(&b, "… and %d more\n", len(pkgs)-maxListedPackages)
			break
		}
		fmt.Fprintf(&b, "<code>%3d</code> %s\n", p.ID, html.EscapeString(p.Label))
	}
	b.WriteString("\nWatch with <code>/pm 1,2,3</code>")
	return b.String()
}

// FormatIgnoring renders the /ignoring listing.
func FormatIgnoring(fps []domain.Fingerprint) string {
	if len(fps) == 0 {
		return "🔔 No errors are being ignored."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🔕 <b>Ignoring %d error(s)</b>\n\n", len(fps))
	for _, fp := range fps {
		fmt.Fprintf(&b, "<code>%s</code>\n", fp.String())
	}
	b.WriteString("\nRestore with <code>/unignore #ID</code>")
	return b.String()
}

// HelpText lists the command surface.
const HelpText = `❓ <b>Commands</b>

/packages - list running processes with IDs
/pm &lt;id[,id...]&gt; - only report errors from these processes
/nm - report errors from every process
/ignore #ID - stop reporting an error
/unignore #ID - report an ignored error again
/ignoring - list ignored errors
/alive - liveness report
/help - this message`

func modeDescription(mode domain.Mode, watched []string) string {
	if mode == domain.ModeScoped {
		return "scoped to " + html.EscapeString(strings.Join(watched, ", "))
	}
	return "global"
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}
