package model

import "fmt"

// EncodingStatus tracks whether a frame has been written into a video container.
type EncodingStatus int

const (
	EncodingPending EncodingStatus = iota
	EncodingSuccess
	EncodingFailed
)

var encodingStatusNames = map[EncodingStatus]string{
	EncodingPending: "pending",
	EncodingSuccess: "success",
	EncodingFailed:  "failed",
}

// String returns the persisted text form.
func (s EncodingStatus) String() string {
	if name, ok := encodingStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("EncodingStatus(%d)", int(s))
}

// ParseEncodingStatus maps the persisted text form back to the enum.
func ParseEncodingStatus(s string) (EncodingStatus, error) {
	for status, name := range encodingStatusNames {
		if name == s {
			return status, nil
		}
	}
	return 0, fmt.Errorf("unknown encoding status %q", s)
}

// ProcessingStatus tracks a frame through the OCR pipeline.
type ProcessingStatus int

const (
	ProcessingPending ProcessingStatus = iota
	ProcessingInProgress
	ProcessingCompleted
	ProcessingFailed
	ProcessingSkipped
)

var processingStatusNames = map[ProcessingStatus]string{
	ProcessingPending:    "pending",
	ProcessingInProgress: "processing",
	ProcessingCompleted:  "completed",
	ProcessingFailed:     "failed",
	ProcessingSkipped:    "skipped",
}

// String returns the persisted text form.
func (s ProcessingStatus) String() string {
	if name, ok := processingStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ProcessingStatus(%d)", int(s))
}

// ParseProcessingStatus maps the persisted text form back to the enum.
func ParseProcessingStatus(s string) (ProcessingStatus, error) {
	for status, name := range processingStatusNames {
		if name == s {
			return status, nil
		}
	}
	return 0, fmt.Errorf("unknown processing status %q", s)
}

// VideoState is the processing state of a video container.
type VideoState int

const (
	VideoRecording VideoState = iota
	VideoFinalized
	VideoFailed
)

var videoStateNames = map[VideoState]string{
	VideoRecording: "recording",
	VideoFinalized: "finalized",
	VideoFailed:    "failed",
}

// String returns the persisted text form.
func (s VideoState) String() string {
	if name, ok := videoStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("VideoState(%d)", int(s))
}

// ParseVideoState maps the persisted text form back to the enum.
func ParseVideoState(s string) (VideoState, error) {
	for state, name := range videoStateNames {
		if name == s {
			return state, nil
		}
	}
	return 0, fmt.Errorf("unknown video state %q", s)
}

// EntityType names the tables whose identifiers can be reconciled across sources.
type EntityType string

const (
	EntitySegment EntityType = "segment"
	EntityFrame   EntityType = "frame"
	EntityVideo   EntityType = "video"
)

// EntityTypes lists every reconcilable entity type in offset order.
var EntityTypes = []EntityType{EntitySegment, EntityFrame, EntityVideo}

// Table returns the storage table that owns the entity's integer identifiers.
func (e EntityType) Table() string {
	return string(e)
}

// ParseEntityType validates an entity type name.
func ParseEntityType(s string) (EntityType, error) {
	for _, e := range EntityTypes {
		if string(e) == s {
			return e, nil
		}
	}
	return "", fmt.Errorf("unknown entity type %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s EncodingStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *EncodingStatus) UnmarshalText(b []byte) error {
	v, err := ParseEncodingStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (s ProcessingStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ProcessingStatus) UnmarshalText(b []byte) error {
	v, err := ParseProcessingStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (s VideoState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *VideoState) UnmarshalText(b []byte) error {
	v, err := ParseVideoState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
