package names

import (
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/wonny/captrack/pkg/logger"
)

// Resolver maps symbols to localized display names backed by a JSON file.
// The file is reloaded only when its modification time changes; malformed
// entries are skipped, a malformed or missing file yields an empty mapping.
type Resolver struct {
	mu     sync.Mutex
	path   string
	logger *logger.Logger

	names  map[string]string
	mtime  time.Time
	loaded bool
}

// NewResolver creates a resolver over the given JSON file.
func NewResolver(path string, log *logger.Logger) *Resolver {
	return &Resolver{
		path:   path,
		logger: log,
		names:  map[string]string{},
	}
}

// DisplayName resolves a symbol to its localized name. Unmapped symbols, or
// fallbacks identical to the symbol itself, resolve to the bare symbol.
func (r *Resolver) DisplayName(symbol, fallback string) string {
	upper := strings.ToUpper(strings.TrimSpace(symbol))

	if name := r.lookup(upper); name != "" {
		return name
	}

	fallback = strings.TrimSpace(fallback)
	if fallback != "" && !strings.EqualFold(fallback, upper) {
		return fallback
	}
	return symbol
}

// lookup returns the localized name for an upper-cased symbol, refreshing
// the mapping first when the backing file changed.
func (r *Resolver) lookup(symbol string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refreshLocked()
	return r.names[symbol]
}

// refreshLocked reloads the file when its mtime moved. Caller holds the lock.
func (r *Resolver) refreshLocked() {
	info, err := os.Stat(r.path)
	if err != nil {
		// Missing file simply means no localized names.
		r.names = map[string]string{}
		r.loaded = false
		return
	}

	if r.loaded && info.ModTime().Equal(r.mtime) {
		return
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		r.logger.WithError(err).Warn("Failed to read company names file")
		return
	}

	parsed := parseNames(data)
	if parsed == nil {
		r.logger.WithField("path", r.path).Warn("Company names file is malformed; keeping previous mapping")
		return
	}

	r.names = parsed
	r.mtime = info.ModTime()
	r.loaded = true
}

// parseNames accepts both plain string values and {"name_ko": ...} objects.
// Entries that fit neither shape are skipped. Returns nil when the document
// itself is not a JSON object.
func parseNames(data []byte) map[string]string {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}

	out := make(map[string]string, len(raw))
	for key, value := range raw {
		symbol := strings.ToUpper(strings.TrimSpace(key))
		if symbol == "" {
			continue
		}

		var s string
		if err := json.Unmarshal(value, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				out[symbol] = s
			}
			continue
		}

		var obj struct {
			NameKo string `json:"name_ko"`
		}
		if err := json.Unmarshal(value, &obj); err == nil {
			if name := strings.TrimSpace(obj.NameKo); name != "" {
				out[symbol] = name
			}
		}
	}
	return out
}
