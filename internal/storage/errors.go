package storage

import "errors"

var (
	ErrStorageInit   = errors.New("storage initialization failed")
	ErrFileOperation = errors.New("file operation failed")
	ErrInvalidPath   = errors.New("invalid output path")
	ErrEmptyMapping  = errors.New("nothing to write")
)
