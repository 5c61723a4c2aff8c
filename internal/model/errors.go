package model

import "errors"

var (
	ErrInvalidProbability       = errors.New("invalid probability")
	ErrInvalidEventGeometry     = errors.New("invalid event geometry")
	ErrInvalidThresholdOrdering = errors.New("invalid threshold ordering")
	ErrAlertNotFound            = errors.New("alert not found")
	ErrAlertAlreadyAcknowledged = errors.New("alert already acknowledged")
	ErrInvalidState             = errors.New("invalid state")
)
