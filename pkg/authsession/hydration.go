package authsession

import (
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
)

// HydrationElementID is the DOM id of the script tag carrying the hydration
// payload in server-rendered pages.
const HydrationElementID = "__coachcall_session__"

// HydrationPayload is the one-shot server-to-client handoff of auth state.
// It is created once per server render, consumed once by the client session
// initializer, and never reused or persisted beyond the page load it serves.
type HydrationPayload struct {
	AccessToken string       `json:"accessToken"`
	User        *UserProfile `json:"user"`
	Processed   bool         `json:"processed"`
}

// Valid reports whether the payload carries a usable session: both token and
// user present. The client initializer adopts a valid payload directly,
// skipping the refresh round-trip on first paint.
func (p *HydrationPayload) Valid() bool {
	return p != nil && p.AccessToken != "" && p.User != nil
}

// ScriptTag renders the payload as an inline JSON script element for
// embedding in the page shell. "</" is escaped so a hostile display name
// cannot close the script element early.
func (p *HydrationPayload) ScriptTag() (template.HTML, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("authsession: encoding hydration payload: %w", err)
	}
	escaped := strings.ReplaceAll(string(data), "</", `<\/`)
	tag := fmt.Sprintf(`<script id=%q type="application/json">%s</script>`, HydrationElementID, escaped)
	return template.HTML(tag), nil
}

// DecodeHydration parses a hydration payload produced by ScriptTag's JSON
// body. A nil or empty input yields (nil, nil), meaning "no payload" — the
// client initializer then falls back to a refresh attempt.
func DecodeHydration(data []byte) (*HydrationPayload, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var p HydrationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("authsession: decoding hydration payload: %w", err)
	}
	return &p, nil
}
