package store

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedDriver is returned for a driver other than postgres,
	// sqlite or mssql
	ErrUnsupportedDriver = errors.New("unsupported database driver")

	// ErrUnsupportedORM is returned for a query layer other than bun, gorm
	// or sql
	ErrUnsupportedORM = errors.New("unsupported ORM")
)

// ConnectionError wraps errors that occur while opening the store
type ConnectionError struct {
	Driver    string
	Operation string
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s connection %s: %v", e.Driver, e.Operation, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func NewConnectionError(driver, operation string, err error) *ConnectionError {
	return &ConnectionError{Driver: driver, Operation: operation, Err: err}
}

// ConfigurationError names the configuration field that is wrong
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in field '%s': %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func NewConfigurationError(field string, err error) *ConfigurationError {
	return &ConfigurationError{Field: field, Err: err}
}
