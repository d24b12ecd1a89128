package model

import "github.com/m-mizutani/goerr/v2"

// Error classes. Errors are tagged at the point they are raised and tested with goerr.HasTag.
var (
	// ErrTagProvider marks embedding or generation failures. They are retried, then dropped.
	ErrTagProvider = goerr.NewTag("provider")
	// ErrTagIndex marks vector index or durable store failures.
	ErrTagIndex = goerr.NewTag("index")
	// ErrTagConfig marks invalid configuration detected at construction.
	ErrTagConfig = goerr.NewTag("config")
	// ErrTagValidation marks malformed input.
	ErrTagValidation = goerr.NewTag("validation")
)

var (
	ErrEmptyContent  = goerr.New("memory content is empty", goerr.T(ErrTagValidation))
	ErrEmptyQuestion = goerr.New("question is empty", goerr.T(ErrTagValidation))
)
