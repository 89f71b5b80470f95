package notifier

import (
	"fmt"
	"html"
	"strings"

	"TickerStream/internal/model"
	"TickerStream/internal/stream"
)

const timeLayout = "2006-01-02 15:04:05 MST"

// FormatQuote formats a quote for display.
func FormatQuote(q *model.Quote) string {
	if q == nil {
		return "No quote yet."
	}
	var b strings.Builder

	source := "live"
	if !q.IsRealData {
		source = "fallback"
	}
	b.WriteString(fmt.Sprintf("📈 <b>%s</b> %.2f (%+.2f, %+.2f%%)\n", html.EscapeString(q.Symbol), q.Price, q.Change, q.ChangePercent))
	b.WriteString(fmt.Sprintf("Open %.2f | High %.2f | Low %.2f\n", q.Open, q.High, q.Low))
	b.WriteString(fmt.Sprintf("Volume: %.0f\n", q.Volume))
	if q.MarketCap != "" {
		b.WriteString(fmt.Sprintf("Market cap: %s\n", html.EscapeString(q.MarketCap)))
	}
	b.WriteString(fmt.Sprintf("Source: %s | %s\n", source, q.LastUpdated.Format(timeLayout)))
	return b.String()
}

// FormatStatus formats the stream connection state.
func FormatStatus(s stream.Snapshot) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🔌 <b>%s stream</b>\n\n", html.EscapeString(s.Symbol)))
	b.WriteString(fmt.Sprintf("State: %s\n", s.Status))
	b.WriteString(fmt.Sprintf("Live data: %v\n", s.HasLiveData))
	b.WriteString(fmt.Sprintf("Reconnect attempts: %d\n", s.ReconnectAttempts))
	if s.SessionID != "" {
		b.WriteString(fmt.Sprintf("Session: %s\n", s.SessionID))
	}
	if len(s.TrackedSymbols) > 0 {
		b.WriteString(fmt.Sprintf("Seen symbols: %s\n", html.EscapeString(strings.Join(s.TrackedSymbols, ", "))))
	}
	if s.Error != "" {
		b.WriteString(fmt.Sprintf("Error: %s\n", html.EscapeString(s.Error)))
	}
	return b.String()
}

// FormatErrorAlert formats the alert sent when the stream enters the error state.
func FormatErrorAlert(s stream.Snapshot) string {
	return fmt.Sprintf("❌ <b>%s stream error</b>\n\n%s\nReconnect attempts: %d",
		html.EscapeString(s.Symbol), html.EscapeString(s.Error), s.ReconnectAttempts)
}

// FormatFallbackAlert formats the alert sent when placeholder data replaces live quotes.
func FormatFallbackAlert(s stream.Snapshot) string {
	return fmt.Sprintf("⚠️ <b>%s showing fallback data</b>\n\nNo live tick arrived in time; state: %s",
		html.EscapeString(s.Symbol), s.Status)
}
