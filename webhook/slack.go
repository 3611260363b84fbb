package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"sheetlog/internal"

	"github.com/buger/jsonparser"
)

const defaultMaxBodyBytes = 1 << 20

// SlackHandler is the events endpoint: it answers URL verification, funnels
// message events through the normalizer and extractor, and appends relevant
// records to the row sink. Everything around the extractor is deliberately
// thin I/O glue.
type SlackHandler struct {
	signingSecret string
	maxBody       int64
	exclude       *internal.ExclusionEngine
	extractor     *internal.Extractor
	sink          internal.RowSink
	mirror        internal.Mirror
	logger        *log.Logger
	clock         func() time.Time
}

// NewSlackHandler wires the pipeline. The exclusion engine and mirror are
// optional; extractor and sink are not. An empty secret disables signature
// verification.
func NewSlackHandler(secret string, exclude *internal.ExclusionEngine, extractor *internal.Extractor, sink internal.RowSink, mirror internal.Mirror, logger *log.Logger) (*SlackHandler, error) {
	if extractor == nil {
		return nil, errors.New("slack handler: extractor is required")
	}
	if sink == nil {
		return nil, errors.New("slack handler: sink is required")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &SlackHandler{
		signingSecret: secret,
		maxBody:       defaultMaxBodyBytes,
		exclude:       exclude,
		extractor:     extractor,
		sink:          sink,
		mirror:        mirror,
		logger:        logger,
		clock:         time.Now,
	}, nil
}

// SetMaxBodyBytes caps the accepted request body size.
func (h *SlackHandler) SetMaxBodyBytes(n int64) {
	if n > 0 {
		h.maxBody = n
	}
}

func (h *SlackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	internal.IncRequest("slack")

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if h.signingSecret != "" {
		if err := VerifySignature(h.signingSecret, r.Header, rawBody, h.clock()); err != nil {
			h.logger.Printf("signature rejected: %v", err)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}

	// URL verification is a handshake, not an event; it never reaches the
	// extractor. Peek at the type without decoding the whole envelope.
	if callbackType, _ := jsonparser.GetString(rawBody, "type"); callbackType == "url_verification" {
		challenge, _ := jsonparser.GetString(rawBody, "challenge")
		internal.IncVerification()
		respondJSON(w, http.StatusOK, map[string]string{"challenge": challenge})
		return
	}

	var callback internal.Callback
	if err := json.Unmarshal(rawBody, &callback); err != nil {
		internal.IncParseError()
		h.logger.Printf("callback decode failed: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if !callback.Event.IsMessage() {
		w.WriteHeader(http.StatusOK)
		return
	}

	if name, drop := h.exclude.ExcludedRaw(rawBody); drop {
		internal.IncExcluded(name)
		h.logger.Printf("event excluded by rule %q channel=%s", name, callback.Event.Channel)
		w.WriteHeader(http.StatusOK)
		return
	}

	text := callback.Event.MessageText()
	fields, relevant := h.extractor.Extract(text, internal.Meta{
		User:    callback.Event.User,
		Channel: callback.Event.Channel,
	})
	if !relevant {
		internal.IncSkipped()
		w.WriteHeader(http.StatusOK)
		return
	}

	row := fields.Row()
	rows, err := h.sink.Append(r.Context(), row)
	if err != nil {
		internal.IncAppendError()
		h.logger.Printf("append to %s failed: %v", h.sink.Name(), err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	internal.AddRowsAppended(rows)
	h.logger.Printf("logged message user=%s channel=%s rows=%d", fields.User, fields.Channel, rows)

	if h.mirror != nil {
		if err := h.mirror.Publish(r.Context(), internal.Record{Fields: fields, Row: row}); err != nil {
			internal.IncMirrorError()
			h.logger.Printf("mirror publish failed: %v", err)
		}
	}

	w.WriteHeader(http.StatusOK)
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
