package config

import "errors"

var (
	// ErrInvalidConfig wraps every validation problem.
	ErrInvalidConfig = errors.New("config: invalid configuration")

	// ErrUnknownFormat is returned for file extensions other than
	// .toml, .yaml and .yml.
	ErrUnknownFormat = errors.New("config: unknown file format")
)
