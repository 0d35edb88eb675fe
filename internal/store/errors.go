package store

import "errors"

// ErrNotFound is returned when a site or user row does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a row with the same unique key exists.
var ErrConflict = errors.New("already exists")

// StorageError reports a failure of the underlying database: a missing
// table, a lost connection or a rejected statement. Callers decide whether
// to retry; the store never does.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
