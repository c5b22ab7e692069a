package orderstore

import (
	"fmt"
	"time"

	"github.com/kevingbb/processorders/errors"
	"github.com/kevingbb/processorders/message"
)

// Slot is one of the three parts of an order.
type Slot int

const (
	SlotHeader Slot = iota + 1
	SlotLineItems
	SlotProductInfo
)

func (s Slot) String() string {
	switch s {
	case SlotHeader:
		return "header"
	case SlotLineItems:
		return "line_items"
	case SlotProductInfo:
		return "product_info"
	default:
		return fmt.Sprintf("slot(%d)", int(s))
	}
}

// Signal records that the part in Slot is available at URL.
type Signal struct {
	Slot Slot
	URL  string
}

// SignalFor maps a parsed file reference onto a signal. Unknown file types
// yield ErrUnknownFileType.
func SignalFor(ref message.FileReference) (Signal, error) {
	var slot Slot
	switch ref.FileType {
	case message.FileTypeOrderHeaderDetails:
		slot = SlotHeader
	case message.FileTypeOrderLineItems:
		slot = SlotLineItems
	case message.FileTypeProductInformation:
		slot = SlotProductInfo
	default:
		return Signal{}, fmt.Errorf("%w: %q", errors.ErrUnknownFileType, ref.FileType)
	}
	return Signal{Slot: slot, URL: ref.FullURL}, nil
}

// State is the join state of one order, keyed by batch prefix.
type State struct {
	ID             string    `json:"id"`
	HeaderURL      string    `json:"header_url,omitempty"`
	LineItemsURL   string    `json:"line_items_url,omitempty"`
	ProductInfoURL string    `json:"product_info_url,omitempty"`
	Complete       bool      `json:"complete"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewState returns the empty state for id.
func NewState(id string, now time.Time) State {
	return State{ID: id, CreatedAt: now, UpdatedAt: now}
}

// ReceiveHeader fills the header slot.
func (s *State) ReceiveHeader(url string) { s.receive(SlotHeader, url) }

// ReceiveLineItems fills the line items slot.
func (s *State) ReceiveLineItems(url string) { s.receive(SlotLineItems, url) }

// ReceiveProductInfo fills the product information slot.
func (s *State) ReceiveProductInfo(url string) { s.receive(SlotProductInfo, url) }

// Apply fills the slot named by sig and stamps the update time. It reports
// whether anything changed. An empty URL is ignored so a slot can never be
// cleared.
func (s *State) Apply(sig Signal, now time.Time) bool {
	before := *s
	s.receive(sig.Slot, sig.URL)
	if *s == before {
		return false
	}
	s.UpdatedAt = now
	return true
}

func (s *State) receive(slot Slot, url string) {
	if url == "" {
		return
	}
	switch slot {
	case SlotHeader:
		s.HeaderURL = url
	case SlotLineItems:
		s.LineItemsURL = url
	case SlotProductInfo:
		s.ProductInfoURL = url
	}
	// sticky once set
	s.Complete = s.Complete || s.allFilled()
}

func (s State) allFilled() bool {
	return s.HeaderURL != "" && s.LineItemsURL != "" && s.ProductInfoURL != ""
}

// IsComplete reports whether all three parts have arrived.
func (s State) IsComplete() bool {
	return s.Complete
}

// Filled counts the filled slots.
func (s State) Filled() int {
	n := 0
	for _, u := range []string{s.HeaderURL, s.LineItemsURL, s.ProductInfoURL} {
		if u != "" {
			n++
		}
	}
	return n
}

// Snapshot returns a copy of s.
func (s State) Snapshot() State {
	return s
}

// MergeRequest builds the request for a complete order.
func (s State) MergeRequest() (message.MergeRequest, error) {
	if !s.IsComplete() {
		return message.MergeRequest{}, fmt.Errorf("%w: %s has %d of 3 parts", errors.ErrNotReady, s.ID, s.Filled())
	}
	return message.MergeRequest{
		OrderKey:       s.ID,
		HeaderURL:      s.HeaderURL,
		LineItemsURL:   s.LineItemsURL,
		ProductInfoURL: s.ProductInfoURL,
	}, nil
}
