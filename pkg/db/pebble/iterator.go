package pebble

import (
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/eigerco/refstore/pkg/db"
)

type Iterator struct {
	iter       *pebble.Iterator
	positioned bool
}

func (p *KVStore) NewIterator(opts db.IterOptions) (db.Iterator, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrClosed
	}

	iter, err := p.db.NewIter(iterOptions(opts))
	if err != nil {
		return nil, fmt.Errorf(ErrInIteratorCreation, err)
	}
	return &Iterator{iter: iter}, nil
}

func iterOptions(opts db.IterOptions) *pebble.IterOptions {
	return &pebble.IterOptions{
		LowerBound: opts.LowerBound,
		UpperBound: opts.UpperBound,
	}
}

func (it *Iterator) First() bool {
	it.positioned = true
	return it.iter.First()
}

func (it *Iterator) Last() bool {
	it.positioned = true
	return it.iter.Last()
}

func (it *Iterator) SeekGE(key []byte) bool {
	it.positioned = true
	return it.iter.SeekGE(key)
}

func (it *Iterator) Next() bool {
	// If the iterator was never positioned, position it at the first key
	if !it.positioned {
		return it.First()
	}
	return it.iter.Next()
}

func (it *Iterator) Prev() bool {
	if !it.positioned {
		return it.Last()
	}
	return it.iter.Prev()
}

func (it *Iterator) Key() []byte {
	key := it.iter.Key()
	result := make([]byte, len(key))
	copy(result, key)
	return result
}

func (it *Iterator) Value() ([]byte, error) {
	if !it.iter.Valid() {
		return nil, ErrIteratorInvalid
	}

	val, err := it.iter.ValueAndErr()
	if err != nil {
		return nil, fmt.Errorf(ErrIteratorValue, err)
	}

	result := make([]byte, len(val))
	copy(result, val)
	return result, nil
}

func (it *Iterator) Valid() bool {
	return it.iter.Valid()
}

func (it *Iterator) Error() error {
	return it.iter.Error()
}

func (it *Iterator) Close() error {
	return it.iter.Close()
}
