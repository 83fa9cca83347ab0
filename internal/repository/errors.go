package repository

import "errors"

var (
	ErrNotFound     = errors.New("record not found")
	ErrTokenExpired = errors.New("access token expired")
)
