package internal

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

type EventKind string

const (
	EventClick EventKind = "click"
	EventView  EventKind = "view"
)

var EventKinds = []EventKind{EventClick, EventView}

// Event is a single click or profile view. It is immutable once created.
type Event struct {
	SubjectID  string    `json:"subjectId"`
	Device     string    `json:"device"`
	UserAgent  string    `json:"userAgent"`
	Country    string    `json:"country"`
	Referrer   string    `json:"referrer"`
	OccurredAt time.Time `json:"occurredAt"`
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.SubjectID) == "" {
		return fmt.Errorf("%w: subject id is required", ErrInvalidEvent)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("%w: occurred at is required", ErrInvalidEvent)
	}
	return nil
}

type EntityKind string

const (
	EntityLink    EntityKind = "link"
	EntityText    EntityKind = "text"
	EntityVideo   EntityKind = "video"
	EntityImage   EntityKind = "image"
	EntityMusic   EntityKind = "music"
	EntitySection EntityKind = "section"
	EntityEvent   EntityKind = "event"
)

// EntityKinds lists every collection that shares a user's order key space.
var EntityKinds = []EntityKind{
	EntityLink,
	EntityText,
	EntityVideo,
	EntityImage,
	EntityMusic,
	EntitySection,
	EntityEvent,
}

var entityTables = map[EntityKind]string{
	EntityLink:    "links",
	EntityText:    "texts",
	EntityVideo:   "videos",
	EntityImage:   "images",
	EntityMusic:   "music",
	EntitySection: "sections",
	EntityEvent:   "events",
}

func ParseEntityKind(s string) (EntityKind, error) {
	kind := EntityKind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := entityTables[kind]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return kind, nil
}

func (k EntityKind) Table() string {
	return entityTables[k]
}

// OrderKey positions an entity among all of its owner's entities, lowest first.
type OrderKey int64

// IntakePayload carries everything needed to materialize one entity row.
// Kind selects which of the optional fields are meaningful.
type IntakePayload struct {
	Kind         EntityKind `json:"kind"`
	UserID       string     `json:"userId"`
	SubmissionID string     `json:"submissionId,omitempty"`
	EnqueuedAt   time.Time  `json:"enqueuedAt"`

	Title    string     `json:"title,omitempty"`
	URL      string     `json:"url,omitempty"`
	Slug     string     `json:"slug,omitempty"`
	Body     string     `json:"body,omitempty"`
	Alt      string     `json:"alt,omitempty"`
	Artist   string     `json:"artist,omitempty"`
	Location string     `json:"location,omitempty"`
	StartsAt *time.Time `json:"startsAt,omitempty"`
}

func (p IntakePayload) Validate() error {
	if _, ok := entityTables[p.Kind]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, p.Kind)
	}
	if strings.TrimSpace(p.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidPayload)
	}

	switch p.Kind {
	case EntityLink, EntityVideo, EntityImage, EntityMusic:
		if err := validateHTTPURL(p.URL); err != nil {
			return err
		}
	case EntityText:
		if strings.TrimSpace(p.Body) == "" {
			return fmt.Errorf("%w: body is required", ErrInvalidPayload)
		}
	case EntitySection:
		if strings.TrimSpace(p.Title) == "" {
			return fmt.Errorf("%w: title is required", ErrInvalidPayload)
		}
	case EntityEvent:
		if strings.TrimSpace(p.Title) == "" || p.StartsAt == nil {
			return fmt.Errorf("%w: title and start time are required", ErrInvalidPayload)
		}
	}
	return nil
}

func validateHTTPURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidPayload)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url must be an absolute http(s) url", ErrInvalidPayload)
	}
	return nil
}

type QRFormat string

const (
	QRFormatPNG QRFormat = "png"
	QRFormatSVG QRFormat = "svg"
)

func ParseQRFormat(s string) (QRFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "png", "raster", "":
		return QRFormatPNG, nil
	case "svg", "vector":
		return QRFormatSVG, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidFormat, s)
}

func (f QRFormat) ContentType() string {
	if f == QRFormatSVG {
		return "image/svg+xml"
	}
	return "image/png"
}

// QRRecord describes one rendered QR asset. A record is shared by every
// owner that resolved the same canonical URL at the same format and size.
type QRRecord struct {
	ID           string    `json:"id"`
	ContentHash  string    `json:"content_hash"`
	CanonicalURL string    `json:"canonical_url"`
	Format       QRFormat  `json:"format"`
	Size         int       `json:"size"`
	SizeBytes    int64     `json:"size_bytes"`
	StoragePath  string    `json:"storage_path"`
	ServingURL   string    `json:"serving_url"`
	OwnerID      string    `json:"owner_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Delivery names the guarantee a background pipeline gives its entries.
type Delivery string

const (
	// DeliveryAtLeastOnce entries are removed only after they are persisted;
	// a crash replays them.
	DeliveryAtLeastOnce Delivery = "at-least-once"
	// DeliveryAtMostOnce entries are removed before they are persisted; a
	// crash loses them.
	DeliveryAtMostOnce Delivery = "at-most-once"
)
