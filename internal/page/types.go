package page

import (
	"encoding/json"
	"fmt"
	"time"
)

// SnapshotNode is one included element of a snapshot tree.
type SnapshotNode struct {
	UID         string          `json:"uid"`
	Tag         string          `json:"tag"`
	Role        string          `json:"role,omitempty"`
	Name        string          `json:"name,omitempty"`
	Value       string          `json:"value,omitempty"`
	Href        string          `json:"href,omitempty"`
	Src         string          `json:"src,omitempty"`
	Text        string          `json:"text,omitempty"`
	Aria        *Aria           `json:"aria,omitempty"`
	Computed    *Computed       `json:"computed,omitempty"`
	IsIframe    bool            `json:"isIframe,omitempty"`
	FrameSrc    string          `json:"frameSrc,omitempty"`
	CrossOrigin bool            `json:"crossOrigin,omitempty"`
	Children    []*SnapshotNode `json:"children"`
}

// Count returns the number of nodes in the subtree rooted at n.
func (n *SnapshotNode) Count() int {
	if n == nil {
		return 0
	}
	total := 1
	for _, c := range n.Children {
		total += c.Count()
	}
	return total
}

// Find returns the node with the given uid, or nil.
func (n *SnapshotNode) Find(uid string) *SnapshotNode {
	if n == nil {
		return nil
	}
	if n.UID == uid {
		return n
	}
	for _, c := range n.Children {
		if found := c.Find(uid); found != nil {
			return found
		}
	}
	return nil
}

// Tristate is an ARIA value that is true, false or mixed.
type Tristate string

const (
	TriTrue  Tristate = "true"
	TriFalse Tristate = "false"
	TriMixed Tristate = "mixed"
)

func (t Tristate) MarshalJSON() ([]byte, error) {
	switch t {
	case TriTrue:
		return []byte("true"), nil
	case TriFalse:
		return []byte("false"), nil
	case TriMixed:
		return []byte(`"mixed"`), nil
	}
	return nil, fmt.Errorf("invalid tristate %q", string(t))
}

func (t *Tristate) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		if b {
			*t = TriTrue
		} else {
			*t = TriFalse
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s != string(TriMixed) {
		return fmt.Errorf("invalid tristate %q", s)
	}
	*t = TriMixed
	return nil
}

type Aria struct {
	Disabled     *bool     `json:"disabled,omitempty"`
	Hidden       *bool     `json:"hidden,omitempty"`
	Selected     *bool     `json:"selected,omitempty"`
	Expanded     *bool     `json:"expanded,omitempty"`
	Checked      *Tristate `json:"checked,omitempty"`
	Pressed      *Tristate `json:"pressed,omitempty"`
	Autocomplete string    `json:"autocomplete,omitempty"`
	HasPopup     string    `json:"haspopup,omitempty"`
	Invalid      string    `json:"invalid,omitempty"`
	Label        string    `json:"label,omitempty"`
	LabelledBy   string    `json:"labelledby,omitempty"`
	DescribedBy  string    `json:"describedby,omitempty"`
	Controls     string    `json:"controls,omitempty"`
	Level        *int      `json:"level,omitempty"`
}

type Computed struct {
	Focusable   bool `json:"focusable"`
	Interactive bool `json:"interactive"`
	Visible     bool `json:"visible"`
	Accessible  bool `json:"accessible"`
}

// UIDEntry maps a uid to the selectors that locate its element.
type UIDEntry struct {
	UID    string   `json:"uid"`
	CSS    string   `json:"css"`
	XPath  string   `json:"xpath,omitempty"`
	Frames []string `json:"frames,omitempty"`
}

type Snapshot struct {
	Root       *SnapshotNode `json:"root"`
	SnapshotID int           `json:"snapshotId"`
	Timestamp  time.Time     `json:"timestamp"`
	Truncated  bool          `json:"truncated,omitempty"`
	URL        string        `json:"url,omitempty"`
	Title      string        `json:"title,omitempty"`
	// SessionID names the browser session the snapshot was taken in, on
	// backends that serve several.
	SessionID string `json:"sessionId,omitempty"`
}
