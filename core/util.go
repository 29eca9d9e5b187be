package core

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"os"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// NewID returns an opaque unique session identifier.
func NewID() string { return uuid.New().String() }

// WriteJSON writes v as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "write json error: %v", err)
	}
}

// FormatClock renders seconds as HH:MM:SS.
func FormatClock(sec float64) string {
	s := int(math.Max(sec, 0))
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}

// Clamp bounds x to [lo, hi].
func Clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

var nonLetter = regexp.MustCompile(`[^a-zA-Z0-9\p{Han}]+`)

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "a": {}, "an": {}, "of": {}, "to": {}, "in": {},
	"is": {}, "are": {}, "for": {}, "on": {}, "with": {}, "that": {},
	"this": {}, "it": {}, "as": {}, "at": {}, "be": {}, "by": {}, "from": {},
	"have": {}, "will": {}, "they": {}, "been": {}, "were": {}, "said": {},
	"each": {}, "which": {}, "their": {}, "about": {}, "would": {},
	"there": {}, "could": {}, "other": {}, "more": {}, "very": {},
	"what": {}, "know": {}, "just": {}, "into": {}, "over": {}, "also": {},
	"your": {},
}

// Tokenize lowercases, strips punctuation and drops stop words.
func Tokenize(s string) []string {
	s = strings.ToLower(s)
	s = nonLetter.ReplaceAllString(s, " ")
	parts := strings.Fields(s)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if _, ok := stopWords[p]; ok {
			continue
		}
		out = append(out, p)
	}
	return out
}

// IsStopWord reports whether w is in the shared stop-word list.
func IsStopWord(w string) bool {
	_, ok := stopWords[strings.ToLower(w)]
	return ok
}
