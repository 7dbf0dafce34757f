package btree

import "github.com/go-faster/errors"

var errHeaderPageMismatch = errors.New("btree: header page id mismatch on fresh disk")
