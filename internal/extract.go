package internal

import (
	"regexp"
	"strings"
	"time"
)

// DefaultKeywords is the relevance filter: a message is worth logging when
// its lowercased text contains at least one of these as a substring.
// Substring, not word-boundary, so "ats" also hits inside larger words;
// that is the inherited behavior and operators can override the list in
// config if it proves too noisy.
var DefaultKeywords = []string{
	"oncall", "on-call", "firing", "critical", "incident", "status",
	"4xx", "5xx", "failed", "500", "ats", "partnership",
	"ats-unified-apis", "sqs",
}

// Field defaults. Every field is total: a relevant message always yields a
// complete row, with these sentinels standing in for anything the text
// didn't carry.
const (
	defaultTitle       = "Unknown Title"
	defaultDescription = "No description"
	defaultAlertID     = "Unknown Alert ID"
	defaultIdentity    = "unknown"
	notAvailable       = "N/A"
)

// Alert messages arrive in Slack mrkdwn with minor format drift between
// upstream integrations, so each field has its own small pattern and its
// own default instead of one do-or-die expression.
var (
	// Upstreams sometimes deliver a literal backslash-n instead of a real
	// newline; both split lines.
	reLineBreak = regexp.MustCompile(`\r?\n|\\n`)
	reAlertID   = regexp.MustCompile(`alert-groups/([A-Za-z0-9]+)\|`)
	reSourceURL = regexp.MustCompile(`<(https?://[^|>]+)\|source>`)
	reTitle     = regexp.MustCompile(`\|(?:#\d+)?[^\]]*\](.*?)>\*`)
	reOnCallID  = regexp.MustCompile(`\|#(\d+)`)
)

// Fields is one extracted record, serialized positionally into the sheet.
type Fields struct {
	Date             string `json:"date"`
	Time             string `json:"time"`
	User             string `json:"user"`
	Channel          string `json:"channel"`
	Title            string `json:"title"`
	Description      string `json:"description"`
	AlertID          string `json:"alert_id"`
	SourceURL        string `json:"source_url"`
	ATSCustomerName  string `json:"ats_customer_name"`
	ATSName          string `json:"ats_name"`
	CustomerID       string `json:"customer_id"`
	Summary          string `json:"summary"`
	ImportantSummary string `json:"important_summary"`
	OnCallID         string `json:"oncall_id"`
}

// Row returns the fields in sheet column order (A through N).
func (f Fields) Row() []string {
	return []string{
		f.Date,
		f.Time,
		f.User,
		f.Channel,
		f.Title,
		f.Description,
		f.AlertID,
		f.SourceURL,
		f.ATSCustomerName,
		f.ATSName,
		f.CustomerID,
		f.Summary,
		f.ImportantSummary,
		f.OnCallID,
	}
}

// Meta carries the event identity fields that come from the envelope rather
// than the message text.
type Meta struct {
	User    string
	Channel string
}

// Extractor classifies message text for relevance and derives a Fields
// record from it. It is a pure function of its input plus one wall-clock
// read; the clock is a field so tests can pin it.
type Extractor struct {
	keywords []string
	clock    func() time.Time
}

func NewExtractor(keywords []string) *Extractor {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	lowered := make([]string, len(keywords))
	for i, keyword := range keywords {
		lowered[i] = strings.ToLower(keyword)
	}
	return &Extractor{keywords: lowered, clock: time.Now}
}

// Relevant reports whether text contains any relevance keyword. Blank text
// is never relevant.
func (e *Extractor) Relevant(text string) bool {
	lowered := strings.ToLower(text)
	if strings.TrimSpace(lowered) == "" {
		return false
	}
	for _, keyword := range e.keywords {
		if strings.Contains(lowered, keyword) {
			return true
		}
	}
	return false
}

// Extract derives a complete Fields record from the message text. The
// second return value is false when the text is not relevant; extraction
// itself cannot fail, every field falls back to its default.
func (e *Extractor) Extract(text string, meta Meta) (Fields, bool) {
	if !e.Relevant(text) {
		return Fields{}, false
	}

	now := e.clock()
	fields := Fields{
		Date:            now.Format("2006-01-02"),
		Time:            now.Format("15:04:05"),
		User:            orDefault(meta.User, defaultIdentity),
		Channel:         orDefault(meta.Channel, defaultIdentity),
		Title:           defaultTitle,
		Description:     defaultDescription,
		AlertID:         defaultAlertID,
		SourceURL:       notAvailable,
		ATSCustomerName: notAvailable,
		ATSName:         notAvailable,
		CustomerID:      notAvailable,
		Summary:         notAvailable,
		OnCallID:        notAvailable,
	}

	// Line scan for key:value fields. Later occurrences of the same key
	// overwrite earlier ones. A description line opens annotation capture:
	// subsequent "-" lines are collected as highlights until a blank line.
	var bullets []string
	capturing := false
	for _, line := range reLineBreak.Split(text, -1) {
		line = strings.TrimSpace(line)
		lowered := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lowered, "atsname:"):
			fields.ATSName = valueAfterColon(line, notAvailable)
		case strings.HasPrefix(lowered, "atscustomername:"):
			fields.ATSCustomerName = valueAfterColon(line, notAvailable)
		case strings.HasPrefix(lowered, "customerid:"):
			fields.CustomerID = valueAfterColon(line, notAvailable)
		case strings.HasPrefix(lowered, "summary:"):
			fields.Summary = valueAfterColon(line, notAvailable)
		case strings.HasPrefix(lowered, "description:"):
			fields.Description = valueAfterColon(line, defaultDescription)
			capturing = true
		case capturing && line == "":
			capturing = false
		case capturing && strings.HasPrefix(line, "-"):
			bullets = append(bullets, line)
		}
	}
	fields.ImportantSummary = strings.Join(bullets, "; ")

	// Whole-text pattern extraction, each independent of the others.
	if m := reAlertID.FindStringSubmatch(text); m != nil {
		fields.AlertID = m[1]
	}
	if m := reSourceURL.FindStringSubmatch(text); m != nil {
		fields.SourceURL = m[1]
	}
	if m := reTitle.FindStringSubmatch(text); m != nil {
		if title := strings.TrimSpace(m[1]); title != "" {
			fields.Title = title
		}
	}
	if m := reOnCallID.FindStringSubmatch(text); m != nil {
		fields.OnCallID = "#" + m[1]
	}

	return fields, true
}

func valueAfterColon(line, fallback string) string {
	_, rest, _ := strings.Cut(line, ":")
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return fallback
	}
	return rest
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
