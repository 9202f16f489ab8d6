package domain

import "errors"

var (
	ErrInvalidGroup     = errors.New("invalid group")
	ErrInvalidRowID     = errors.New("invalid row id")
	ErrInvalidFieldName = errors.New("invalid field name")
	ErrInvalidFieldKey  = errors.New("invalid field key")
	ErrInvalidDate      = errors.New("invalid date")
)
