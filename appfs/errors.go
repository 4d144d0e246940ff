package appfs

import "errors"

// Errors reported by the path-level filesystem. Callers should test with
// errors.Is; operations wrap these with call-site context.
var (
	ErrPathNotValid          = errors.New("path is not valid")
	ErrFilenameTooLong       = errors.New("filename too long")
	ErrFileNotFound          = errors.New("file not found")
	ErrFileExists            = errors.New("file already exists")
	ErrNotADirectory         = errors.New("not a directory")
	ErrIsADirectory          = errors.New("is a directory")
	ErrDirectoryNotEmpty     = errors.New("directory not empty")
	ErrChildLimitReached     = errors.New("directory child limit reached")
	ErrFileTooBig            = errors.New("file too big")
	ErrNoFreeSpace           = errors.New("no free space in package")
	ErrAccessDenied          = errors.New("access denied")
	ErrNotSupported          = errors.New("operation not supported")
	ErrNotImplemented        = errors.New("operation not implemented")
	ErrInvalidOpenMode       = errors.New("invalid open mode")
	ErrInodeSaveInvalid      = errors.New("inode not valid for saving")
	ErrInodeSaveFailed       = errors.New("unable to save inode")
	ErrInodeExhaustion       = errors.New("no free inode ids available")
	ErrInternalInconsistency = errors.New("internal inconsistency in package")

	// ErrPackageNotFound and ErrPackageNotValid are reported when opening a
	// package file.
	ErrPackageNotFound = errors.New("package not found")
	ErrPackageNotValid = errors.New("package is not a valid filesystem")
)

// Internal result conditions produced by the low-level engine. The path
// layer translates these into the public errors above.
var (
	errGeneralFailure       = errors.New("general failure")
	errInvalidFilename      = errors.New("invalid filename")
	errInvalidPath          = errors.New("invalid path")
	errInvalidPosition      = errors.New("invalid block position")
	errInodeAlreadyAssigned = errors.New("inode id already assigned")
	errInodeNotAssigned     = errors.New("inode id not assigned")
	errInodeNotValid        = errors.New("inode not valid")
	errNotADirectory        = errors.New("parent inode is not a directory")
	errNotAFile             = errors.New("inode is not a file")
	errNotUnique            = errors.New("filename is not unique in directory")
	errMaximumChildren      = errors.New("directory has reached the maximum number of children")
	errNotFound             = errors.New("no such entry")
	errStreamFailed         = errors.New("stream is in a failed state")
)
