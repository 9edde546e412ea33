package analysis

import (
	"time"
)

// Box locates an extraction on a document page.
type Box struct {
	Page   int     `json:"page"`
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Extraction is a single piece of structured data recognized on a document.
type Extraction struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Entity string `json:"entity,omitempty"`
	Box    *Box   `json:"box,omitempty"`
}

// Extractions maps an extraction name (e.g. "amountToPay") to its value.
type Extractions map[string]Extraction

// Clone returns a copy that callers may modify freely.
func (e Extractions) Clone() Extractions {
	if e == nil {
		return nil
	}
	out := make(Extractions, len(e))
	for k, v := range e {
		if v.Box != nil {
			box := *v.Box
			v.Box = &box
		}
		out[k] = v
	}
	return out
}

// CloneLineItems deep-copies a list of line-item extractions.
func CloneLineItems(items []Extractions) []Extractions {
	if items == nil {
		return nil
	}
	out := make([]Extractions, len(items))
	for i, item := range items {
		out[i] = item.Clone()
	}
	return out
}

// Values flattens the extractions into name -> value.
func (e Extractions) Values() map[string]string {
	out := make(map[string]string, len(e))
	for k, v := range e {
		out[k] = v.Value
	}
	return out
}

// Document is the backend's handle for an analyzed document.
type Document struct {
	ID        string            `json:"id"`
	Name      string            `json:"name,omitempty"`
	PageCount int               `json:"pageCount,omitempty"`
	Links     map[string]string `json:"links,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	// LineItems holds the compound "lineItems" extractions, one map per row.
	LineItems []Extractions `json:"lineItems,omitempty"`
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	if d.Links != nil {
		out.Links = make(map[string]string, len(d.Links))
		for k, v := range d.Links {
			out.Links[k] = v
		}
	}
	out.LineItems = CloneLineItems(d.LineItems)
	return &out
}

// Page is one image of a multipage document.
type Page struct {
	Data     []byte
	FileName string
	MimeType string
	// Rotation is applied by the backend, in degrees clockwise.
	Rotation int
}

// Request carries the image to analyze plus metadata for the backend.
//
// A multipage document sets Pages in reading order and leaves Data empty.
type Request struct {
	// ID is used as the request id when set; otherwise one is generated.
	ID         string
	Data       []byte
	Pages      []Page
	FileName   string
	MimeType   string
	DocumentID string
}

// SizeBytes is the total payload size across all pages.
func (r Request) SizeBytes() int {
	n := len(r.Data)
	for _, p := range r.Pages {
		n += len(p.Data)
	}
	return n
}

// PageCount is the number of images in the request.
func (r Request) PageCount() int {
	if len(r.Pages) > 0 {
		return len(r.Pages)
	}
	return 1
}

func (r Request) empty() bool {
	if len(r.Pages) == 0 {
		return len(r.Data) == 0
	}
	for _, p := range r.Pages {
		if len(p.Data) == 0 {
			return true
		}
	}
	return false
}

// Completion receives the terminal outcome of a non-cancelled request.
// Exactly one of (extractions, document) or err is set.
type Completion func(extractions Extractions, document *Document, err error)

// Outcome is the single value fanned out to the completion, the event bus and
// the ticket.
type Outcome struct {
	RequestID   string
	DocumentID  string
	Extractions Extractions
	Document    *Document
	Err         error
	FinishedAt  time.Time
}

// Event converts the outcome into the notification published on the bus.
func (o Outcome) Event() Event {
	kind := EventResult
	if o.Err != nil {
		kind = EventError
	}
	return Event{
		Kind:        kind,
		RequestID:   o.RequestID,
		DocumentID:  o.DocumentID,
		Extractions: o.Extractions,
		Document:    o.Document,
		Err:         o.Err,
		At:          o.FinishedAt,
	}
}

// Info describes a request for lifecycle observers.
type Info struct {
	RequestID  string
	DocumentID string
	FileName   string
	MimeType   string
	SizeBytes  int
	PageCount  int
	StartedAt  time.Time
}

// State is a point-in-time view of the coordinator.
type State struct {
	Analyzing     bool
	RequestID     string
	LastRequestID string
	LastResult    Extractions
	LastDocument  *Document
	LastError     error
}
