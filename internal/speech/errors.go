package speech

import "errors"

var (
	// ErrEmptyText is returned when there is nothing to synthesize.
	ErrEmptyText = errors.New("empty text for speech synthesis")

	// ErrUnsupportedFormat is returned for audio formats the provider cannot produce.
	ErrUnsupportedFormat = errors.New("unsupported audio format")

	// ErrAudioNotFound is returned when a cached audio file does not exist
	// or its name is not a cache file name.
	ErrAudioNotFound = errors.New("audio not found")

	// ErrEmptyAudio is returned when a transcription input has no bytes.
	ErrEmptyAudio = errors.New("empty audio input")
)
