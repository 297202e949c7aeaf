package corpus

import "errors"

var (
	ErrEmptyCorpus   = errors.New("corpus contains no books")
	ErrInvalidRecord = errors.New("invalid book record")
	ErrSlugCollision = errors.New("slug collision")
)
