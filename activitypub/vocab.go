package activitypub

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/deemkeen/fedsync/domain"
)

const (
	ActivityStreamsContext = "https://www.w3.org/ns/activitystreams"
	PublicCollection       = "https://www.w3.org/ns/activitystreams#Public"

	ContentType = "application/activity+json"
)

// Activity is the closed set of activity kinds this server understands.
// Every kind is a pointer to one of the structs below; the unexported wire
// method keeps other packages from adding cases.
type Activity interface {
	Base() *Envelope
	wire() wireActivity
}

// Envelope holds the fields shared by every activity kind.
type Envelope struct {
	ID        string
	Type      string
	Actor     string
	Published time.Time
	To        []string
	Cc        []string

	// Raw is the document as received. Empty for locally built activities.
	Raw []byte
}

func (e *Envelope) Base() *Envelope { return e }

// Create carries a new object. Object is nil when the sender only gave a
// reference; ObjectURI is always set.
type Create struct {
	Envelope
	ObjectURI string
	Object    *Object
}

type Like struct {
	Envelope
	Object string
}

type Announce struct {
	Envelope
	Object string
}

// Follow targets the actor in Object.
type Follow struct {
	Envelope
	Object string
}

// Undo reverses a prior activity. Inner is the embedded activity, or nil
// when the sender only referenced it by ObjectURI.
type Undo struct {
	Envelope
	ObjectURI string
	Inner     Activity
}

// Accept answers a Follow.
type Accept struct {
	Envelope
	ObjectURI string
	Inner     Activity
}

// EmojiReact is the Pleroma/Akkoma reaction extension.
type EmojiReact struct {
	Envelope
	Object string
	Emoji  string
	Tags   Tags
}

// ChatMessage is the Pleroma direct chat extension. It arrives either as a
// top level activity or as the object of a Create.
type ChatMessage struct {
	Envelope
	ObjectID string
	Content  string
	Tags     Tags
}

// Unknown is any other type. It is logged and dropped.
type Unknown struct {
	Envelope
}

// Object is an embedded Note (or ChatMessage). Fields this server does not
// model are kept verbatim in Extensions.
type Object struct {
	ID           string
	Type         string
	AttributedTo string
	Content      string
	Summary      string
	InReplyTo    string
	Published    time.Time
	To           []string
	Cc           []string
	Tag          Tags
	Extensions   domain.Extensions
}

type Tag struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
	Href string `json:"href,omitempty"`
	Icon *Image `json:"icon,omitempty"`
}

type Image struct {
	Type      string `json:"type"`
	MediaType string `json:"mediaType,omitempty"`
	URL       string `json:"url"`
}

// Mentions returns the href of every Mention tag.
func (ts Tags) Mentions() []string {
	var out []string
	for _, t := range ts {
		if t.Type == "Mention" && t.Href != "" {
			out = append(out, t.Href)
		}
	}
	return out
}

// Emojis returns the name of every Emoji tag.
func (ts Tags) Emojis() []string {
	var out []string
	for _, t := range ts {
		if t.Type == "Emoji" && t.Name != "" {
			out = append(out, t.Name)
		}
	}
	return out
}

// IRI decodes a link that may be a bare string or an object with an id.
type IRI string

func (i *IRI) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*i = IRI(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*i = IRI(obj.ID)
	return nil
}

// Text decodes a content field. Pleroma may send a map of media type to
// rendering instead of a string; HTML wins, then plain text, then markdown.
type Text string

var textPreference = []string{"text/html", "text/plain", "text/markdown"}

func (t *Text) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = Text(s)
		return nil
	}
	var byType map[string]string
	if err := json.Unmarshal(b, &byType); err != nil {
		return err
	}
	for _, mediaType := range textPreference {
		if v, ok := byType[mediaType]; ok {
			*t = Text(v)
			return nil
		}
	}
	*t = ""
	return nil
}

// Audience decodes to/cc, which may be a single string or an array.
type Audience []string

func (a *Audience) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*a = Audience{one}
		return nil
	}
	var many []IRI
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	out := make(Audience, 0, len(many))
	for _, m := range many {
		if m != "" {
			out = append(out, string(m))
		}
	}
	*a = out
	return nil
}

// Tags decodes a tag list leniently: a single tag is accepted and entries
// that do not look like tags are skipped.
type Tags []Tag

func (ts *Tags) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		raw = []json.RawMessage{b}
	}
	out := make(Tags, 0, len(raw))
	for _, r := range raw {
		var t Tag
		if err := json.Unmarshal(r, &t); err != nil || t.Type == "" {
			continue
		}
		out = append(out, t)
	}
	*ts = out
	return nil
}

type wireActivity struct {
	Context   any             `json:"@context,omitempty"`
	ID        string          `json:"id,omitempty"`
	Type      string          `json:"type"`
	Actor     IRI             `json:"actor"`
	Object    json.RawMessage `json:"object,omitempty"`
	Content   Text            `json:"content,omitempty"`
	Published string          `json:"published,omitempty"`
	To        Audience        `json:"to,omitempty"`
	Cc        Audience        `json:"cc,omitempty"`
	Tag       Tags            `json:"tag,omitempty"`
}

// ParseActivity decodes an inbound activity document into its kind.
func ParseActivity(body []byte) (Activity, error) {
	var w wireActivity
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("failed to parse activity: %w", err)
	}
	if w.ID == "" || w.Type == "" || w.Actor == "" {
		return nil, errors.New("activity missing id, type or actor")
	}
	activity, err := fromWire(&w)
	if err != nil {
		return nil, err
	}
	activity.Base().Raw = body
	return activity, nil
}

func fromWire(w *wireActivity) (Activity, error) {
	env := Envelope{
		ID:        w.ID,
		Type:      w.Type,
		Actor:     string(w.Actor),
		Published: parseTime(w.Published),
		To:        w.To,
		Cc:        w.Cc,
	}

	switch w.Type {
	case "Create":
		ref, obj, err := objectOf(w.Object)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Create object: %w", err)
		}
		if obj != nil && obj.Type == "ChatMessage" {
			return chatFromObject(env, obj), nil
		}
		if ref == "" {
			return nil, errors.New("Create without object")
		}
		return &Create{Envelope: env, ObjectURI: ref, Object: obj}, nil
	case "Like":
		return &Like{Envelope: env, Object: refOf(w.Object)}, nil
	case "Announce":
		return &Announce{Envelope: env, Object: refOf(w.Object)}, nil
	case "Follow":
		return &Follow{Envelope: env, Object: refOf(w.Object)}, nil
	case "Undo":
		ref, inner := innerOf(w.Object)
		return &Undo{Envelope: env, ObjectURI: ref, Inner: inner}, nil
	case "Accept":
		ref, inner := innerOf(w.Object)
		return &Accept{Envelope: env, ObjectURI: ref, Inner: inner}, nil
	case "EmojiReact":
		emoji := string(w.Content)
		if emoji == "" {
			if names := w.Tag.Emojis(); len(names) > 0 {
				emoji = names[0]
			}
		}
		return &EmojiReact{Envelope: env, Object: refOf(w.Object), Emoji: emoji, Tags: w.Tag}, nil
	case "ChatMessage":
		if _, obj, err := objectOf(w.Object); err == nil && obj != nil {
			return chatFromObject(env, obj), nil
		}
		return &ChatMessage{Envelope: env, ObjectID: env.ID, Content: string(w.Content), Tags: w.Tag}, nil
	}
	return &Unknown{Envelope: env}, nil
}

func chatFromObject(env Envelope, obj *Object) *ChatMessage {
	env.Type = "ChatMessage"
	if len(env.To) == 0 {
		env.To = obj.To
	}
	if env.Published.IsZero() {
		env.Published = obj.Published
	}
	return &ChatMessage{Envelope: env, ObjectID: obj.ID, Content: obj.Content, Tags: obj.Tag}
}

// refOf returns the id of an object given by reference or by value.
func refOf(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var iri IRI
	if err := json.Unmarshal(raw, &iri); err != nil {
		return ""
	}
	return string(iri)
}

func objectOf(raw json.RawMessage) (string, *Object, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return refOf(raw), nil, nil
	}
	var obj Object
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", nil, err
	}
	return obj.ID, &obj, nil
}

// innerOf decodes the object of an Undo or Accept. An embedded activity that
// does not parse still yields its id.
func innerOf(raw json.RawMessage) (string, Activity) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return refOf(raw), nil
	}
	var w wireActivity
	if err := json.Unmarshal(raw, &w); err != nil || w.Type == "" {
		return refOf(raw), nil
	}
	inner, err := fromWire(&w)
	if err != nil {
		return w.ID, nil
	}
	inner.Base().Raw = raw
	return w.ID, inner
}

// Marshal encodes a locally built activity with its @context.
func Marshal(a Activity) ([]byte, error) {
	w := a.wire()
	w.Context = ActivityStreamsContext
	return json.Marshal(w)
}

func (e *Envelope) wireBase() wireActivity {
	w := wireActivity{
		ID:    e.ID,
		Type:  e.Type,
		Actor: IRI(e.Actor),
		To:    e.To,
		Cc:    e.Cc,
	}
	if !e.Published.IsZero() {
		w.Published = e.Published.UTC().Format(time.RFC3339)
	}
	return w
}

func (a *Create) wire() wireActivity {
	w := a.wireBase()
	if a.Object != nil {
		w.Object = mustJSON(a.Object)
	} else {
		w.Object = mustJSON(a.ObjectURI)
	}
	return w
}

func (a *Like) wire() wireActivity {
	w := a.wireBase()
	w.Object = mustJSON(a.Object)
	return w
}

func (a *Announce) wire() wireActivity {
	w := a.wireBase()
	w.Object = mustJSON(a.Object)
	return w
}

func (a *Follow) wire() wireActivity {
	w := a.wireBase()
	w.Object = mustJSON(a.Object)
	return w
}

func (a *Undo) wire() wireActivity {
	w := a.wireBase()
	w.Object = innerJSON(a.Inner, a.ObjectURI)
	return w
}

func (a *Accept) wire() wireActivity {
	w := a.wireBase()
	w.Object = innerJSON(a.Inner, a.ObjectURI)
	return w
}

func (a *EmojiReact) wire() wireActivity {
	w := a.wireBase()
	w.Object = mustJSON(a.Object)
	w.Content = Text(a.Emoji)
	w.Tag = a.Tags
	return w
}

// ChatMessage goes out wrapped in a Create, the way Pleroma sends it.
func (a *ChatMessage) wire() wireActivity {
	w := a.wireBase()
	w.Type = "Create"
	w.Object = mustJSON(Object{
		ID:           a.ObjectID,
		Type:         "ChatMessage",
		AttributedTo: a.Actor,
		Content:      a.Content,
		Published:    a.Published,
		To:           a.To,
		Tag:          a.Tags,
	})
	return w
}

func (a *Unknown) wire() wireActivity {
	return a.wireBase()
}

func innerJSON(inner Activity, ref string) json.RawMessage {
	if inner == nil {
		return mustJSON(ref)
	}
	return mustJSON(inner.wire())
}

var objectFields = map[string]bool{
	"@context":     true,
	"id":           true,
	"type":         true,
	"attributedTo": true,
	"content":      true,
	"summary":      true,
	"inReplyTo":    true,
	"published":    true,
	"to":           true,
	"cc":           true,
	"tag":          true,
}

type wireObject struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	AttributedTo IRI      `json:"attributedTo,omitempty"`
	Content      Text     `json:"content,omitempty"`
	Summary      string   `json:"summary,omitempty"`
	InReplyTo    IRI      `json:"inReplyTo,omitempty"`
	Published    string   `json:"published,omitempty"`
	To           Audience `json:"to,omitempty"`
	Cc           Audience `json:"cc,omitempty"`
	Tag          Tags     `json:"tag,omitempty"`
}

func (o *Object) UnmarshalJSON(b []byte) error {
	var w wireObject
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}

	*o = Object{
		ID:           w.ID,
		Type:         w.Type,
		AttributedTo: string(w.AttributedTo),
		Content:      string(w.Content),
		Summary:      w.Summary,
		InReplyTo:    string(w.InReplyTo),
		Published:    parseTime(w.Published),
		To:           w.To,
		Cc:           w.Cc,
		Tag:          w.Tag,
	}
	for k, v := range all {
		if objectFields[k] && !(k == "content" && isJSONObject(v)) {
			continue
		}
		if o.Extensions == nil {
			o.Extensions = domain.Extensions{}
		}
		o.Extensions[k] = v
	}
	return nil
}

func (o Object) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(o.Extensions)+10)
	for k, v := range o.Extensions {
		out[k] = v
	}
	out["id"] = o.ID
	out["type"] = o.Type
	if o.AttributedTo != "" {
		out["attributedTo"] = o.AttributedTo
	}
	if _, multi := o.Extensions["content"]; !multi && o.Content != "" {
		out["content"] = o.Content
	}
	if o.Summary != "" {
		out["summary"] = o.Summary
	}
	if o.InReplyTo != "" {
		out["inReplyTo"] = o.InReplyTo
	}
	if !o.Published.IsZero() {
		out["published"] = o.Published.UTC().Format(time.RFC3339)
	}
	if len(o.To) > 0 {
		out["to"] = o.To
	}
	if len(o.Cc) > 0 {
		out["cc"] = o.Cc
	}
	if len(o.Tag) > 0 {
		out["tag"] = o.Tag
	}
	return json.Marshal(out)
}

func isJSONObject(b json.RawMessage) bool {
	b = bytes.TrimSpace(b)
	return len(b) > 0 && b[0] == '{'
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal: %v", err))
	}
	return b
}
