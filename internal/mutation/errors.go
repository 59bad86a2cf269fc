// internal/mutation/errors.go
package mutation

import "errors"

var (
	// ErrInvertedInterval signals a range whose start lies past its end. It means a
	// filter upstream let malformed geometry through.
	ErrInvertedInterval = errors.New("inverted interval")

	// ErrInvalidPixelValue is returned when a computed length is not a finite pixel value.
	ErrInvalidPixelValue = errors.New("invalid pixel value")

	// ErrGeometryAnomaly marks an overlap whose minimum offset exceeds the room left in its container.
	ErrGeometryAnomaly = errors.New("geometry anomaly")

	// ErrIndexOutOfRange is returned by SelectContainers for a filter index past the selection.
	ErrIndexOutOfRange = errors.New("container index out of range")

	// ErrUnknownManipulation is returned for a manipulation kind the engine does not implement.
	ErrUnknownManipulation = errors.New("unknown manipulation")
)
