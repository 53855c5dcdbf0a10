// Package report defines the capability interfaces of a remote analytics
// report session: servers, subscribed reports and the objects inside them.
//
// Implementations deliver every callback on the loop.Scheduler they were
// created with, never synchronously from another goroutine.
package report

import (
	"errors"
	"fmt"
	"image"
	"net/url"
)

// ErrNotFound is returned when a report or object does not exist on the server.
var ErrNotFound = errors.New("report: not found")

// Size is a thumbnail size in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// ServerDescriptor identifies a report server.
type ServerDescriptor struct {
	URL string
}

// Host returns the host portion of the server URL, or the raw URL when it
// does not parse.
func (d ServerDescriptor) Host() string {
	u, err := url.Parse(d.URL)
	if err != nil || u.Host == "" {
		return d.URL
	}
	return u.Host
}

// Descriptor identifies a report on a server.
type Descriptor struct {
	ID string
}

// Manager verifies servers and hands out connected ones.
type Manager interface {
	// Server returns an already verified server for desc.
	Server(desc ServerDescriptor) (Server, bool)
	// Verify checks that desc is reachable and reports the server.
	Verify(desc ServerDescriptor, done func(Server, error))
}

// Server is a connection to a report server.
type Server interface {
	Connect(done func(error))
	Subscribe(desc Descriptor, done func(Report, error))
	SubscribedReport(desc Descriptor) (Report, bool)
}

// Report is a subscribed report.
type Report interface {
	ID() string
	LoadObject(id string) (Object, bool)
	UnloadObject(id string)
	// Update checks for new report data. done is called with each status
	// change and finally with a status whose Finished method reports true.
	Update(done func(UpdateStatus, error))
	SetDelegate(d Delegate)
}

// Delegate receives report-level notifications.
type Delegate interface {
	// DataUpdated fires when the server signals fresh data is available.
	DataUpdated(r Report)
	// ReportUpdated fires when new report content has been applied.
	ReportUpdated(r Report)
}

// Object is one object inside a report.
type Object interface {
	ID() string
	IsBusy() bool
	AccessibilityLabel() string
	SetDelegate(d ObjectDelegate)
}

// ObjectDelegate receives readiness notifications for an Object.
type ObjectDelegate interface {
	ObjectBusy(o Object)
	ObjectReady(o Object)
	ObjectDataChanged(o Object)
}

// Filter is an object that selects a dimension value for the whole report.
type Filter interface {
	Object
	SelectedValue() string
	SetSelectedValue(v string)
	UniqueValues() []string
}

// Text is an object whose content is a rich-text document.
type Text interface {
	Object
	Text() []byte
}

// Renderer is an object that can render itself to a thumbnail image.
type Renderer interface {
	Object
	RenderThumbnail(size Size, withTitle bool, done func(Object, image.Image))
}

// UpdateStatus is a step of a Report.Update call.
type UpdateStatus int

const (
	StatusNoUpdate UpdateStatus = iota
	StatusCheckBegan
	StatusDownloadBegan
	StatusFinished
)

// Finished reports whether s is terminal for an update call.
func (s UpdateStatus) Finished() bool {
	return s == StatusNoUpdate || s == StatusFinished
}

func (s UpdateStatus) String() string {
	switch s {
	case StatusNoUpdate:
		return "no-update"
	case StatusCheckBegan:
		return "check-began"
	case StatusDownloadBegan:
		return "download-began"
	case StatusFinished:
		return "finished"
	default:
		return fmt.Sprintf("UpdateStatus(%d)", int(s))
	}
}
