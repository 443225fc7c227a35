package seerr

import "time"

// MediaType is either movie or tv.
type MediaType string

const (
	// Movie is a feature film.
	Movie MediaType = "movie"
	// TV is a series.
	TV MediaType = "tv"
)

// Valid reports whether t is a known media type.
func (t MediaType) Valid() bool {
	return t == Movie || t == TV
}

// Availability of a title in the library.
type Availability string

const (
	AvailabilityUnknown    Availability = "unknown"
	AvailabilityPending    Availability = "pending"
	AvailabilityProcessing Availability = "processing"
	AvailabilityPartial    Availability = "partial"
	AvailabilityAvailable  Availability = "available"
)

// Request statuses shared with the database.
const (
	StatusPending     = "pending"
	StatusApproved    = "approved"
	StatusDeclined    = "declined"
	StatusDownloading = "downloading"
	StatusAvailable   = "available"
	StatusFailed      = "failed"
)

// MediaItem is a search, trending or library entry.
type MediaItem struct {
	ID           int64        `json:"id"`
	MediaType    MediaType    `json:"mediaType"`
	Title        string       `json:"title"`
	Year         int          `json:"year,omitempty"`
	Overview     string       `json:"overview,omitempty"`
	Availability Availability `json:"availability,omitempty"`
	Requested    bool         `json:"requested,omitempty"`
	AddedAt      *time.Time   `json:"addedAt,omitempty"`
}

// Available reports whether the item can already be watched.
func (m MediaItem) Available() bool {
	return m.Availability == AvailabilityAvailable
}

// InFlight reports whether someone already asked for the item.
func (m MediaItem) InFlight() bool {
	return m.Requested || m.Availability == AvailabilityPending || m.Availability == AvailabilityProcessing
}

// Request is a media request tracked by the application.
type Request struct {
	ID            int64     `json:"id"`
	MediaType     MediaType `json:"mediaType"`
	TMDBID        int64     `json:"tmdbId"`
	Title         string    `json:"title"`
	Status        string    `json:"status"`
	RequestedBy   string    `json:"requestedBy,omitempty"`
	FailureReason *string   `json:"failureReason,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ServiceStatus is one entry of the health snapshot.
type ServiceStatus struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	LatencyMS int    `json:"latencyMs,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Health is the service-health snapshot.
type Health struct {
	Services []ServiceStatus `json:"services"`
}

// Healthy reports whether every service is up.
func (h Health) Healthy() bool {
	for _, s := range h.Services {
		if !s.Healthy {
			return false
		}
	}
	return true
}

type listResponse[T any] struct {
	Results []T `json:"results"`
}

type submitBody struct {
	MediaType MediaType `json:"mediaType"`
	MediaID   int64     `json:"mediaId"`
}
