package model

import (
	"encoding/base64"
	"time"
)

// Query is a validated research request.
type Query struct {
	Animal     string `json:"animal"`
	Normalized string `json:"normalized"`
	Language   string `json:"language"`
}

// Usage records what a provider call consumed.
type Usage struct {
	Model            string  `json:"model"`
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
	CostUSD          float64 `json:"cost_usd"`
}

// Facts is the structured answer of the information provider.
type Facts struct {
	Name        string   `json:"name"`
	EnglishName string   `json:"english_name,omitempty"`
	Class       string   `json:"class,omitempty"`
	Group       string   `json:"group,omitempty"`
	Covering    string   `json:"covering,omitempty"`
	Facts       []string `json:"facts"`
	Raw         string   `json:"raw,omitempty"`
	Usage       *Usage   `json:"usage,omitempty"`
}

// Image is a generated picture.
type Image struct {
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
	Usage    *Usage `json:"usage,omitempty"`
}

// DataURL renders the image inline for browsers.
func (i *Image) DataURL() string {
	if i == nil || len(i.Data) == 0 {
		return ""
	}
	mime := i.MimeType
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// Session is the persisted progress record of one research request.
type Session struct {
	ID            string        `json:"id"`
	Stage         Stage         `json:"stage"`
	Query         Query         `json:"query"`
	Info          *Facts        `json:"info"`
	Image         *Image        `json:"image"`
	Errors        []string      `json:"errors"`
	Suggestions   []string      `json:"suggestions"`
	CostUSD       float64       `json:"cost_usd"`
	CreatedAt     time.Time     `json:"created_at"`
	LastUpdatedAt time.Time     `json:"last_updated_at"`
	TTL           time.Duration `json:"ttl"`
}

// Patch carries the data produced by a pipeline step.
type Patch struct {
	Info        *Facts
	Image       *Image
	Errors      []string
	Suggestions []string
	CostUSD     float64
}

// ImageView is the poll representation of an Image.
type ImageView struct {
	MimeType string `json:"mime_type"`
	URL      string `json:"url"`
}

// Snapshot is the client-visible view of a session. Every field is always
// present in its JSON form.
type Snapshot struct {
	SessionID   string     `json:"session_id"`
	Stage       Stage      `json:"stage"`
	Animal      string     `json:"animal"`
	Info        *Facts     `json:"info"`
	Image       *ImageView `json:"image"`
	Errors      []string   `json:"errors"`
	Suggestions []string   `json:"suggestions"`
	FromCache   bool       `json:"from_cache"`
	UpdatedAt   *time.Time `json:"updated_at"`
}

// Snapshot builds the client view of s.
func (s *Session) Snapshot() Snapshot {
	snap := NewSnapshot(s.ID, s.Stage, s.Query.Animal)
	snap.Info = s.Info
	snap.Image = viewOf(s.Image)
	snap.Errors = append(snap.Errors, s.Errors...)
	snap.Suggestions = append(snap.Suggestions, s.Suggestions...)
	if !s.LastUpdatedAt.IsZero() {
		t := s.LastUpdatedAt
		snap.UpdatedAt = &t
	}
	return snap
}

// NewSnapshot returns a snapshot with empty, non-nil collections.
func NewSnapshot(id string, stage Stage, animal string) Snapshot {
	return Snapshot{
		SessionID:   id,
		Stage:       stage,
		Animal:      animal,
		Errors:      []string{},
		Suggestions: []string{},
	}
}

// ReloadSnapshot is reported for a session the store no longer holds.
func ReloadSnapshot(id string) Snapshot {
	snap := NewSnapshot(id, StageReloadRequired, "")
	snap.Errors = append(snap.Errors, "session was lost, please submit the search again")
	return snap
}

// CachedSnapshot is the completed view of a cached result.
func CachedSnapshot(animal string, r Result) Snapshot {
	snap := NewSnapshot("", StageCompleted, animal)
	snap.Info = r.Info
	snap.Image = viewOf(r.Image)
	snap.FromCache = true
	return snap
}

func viewOf(img *Image) *ImageView {
	if img == nil {
		return nil
	}
	return &ImageView{MimeType: img.MimeType, URL: img.DataURL()}
}

// Result is the complete output of a successful pipeline run.
type Result struct {
	Info  *Facts `json:"info"`
	Image *Image `json:"image"`
}

// Complete reports whether both parts of the result are present.
func (r Result) Complete() bool {
	return r.Info != nil && r.Image != nil && len(r.Image.Data) > 0
}
