// Package tokenblock implements the injectable FIFO of pre-built
// tokens fed back into the lexer ahead of live input: the lexer drains
// pending blocks before it consults its include stack. (Block-generator
// output does not go through here; the lexer pushes it onto the
// include stack as a buffer frame.)
package tokenblock

import "github.com/standardbeagle/lci-cfg/internal/lexertoken"

// Block holds tokens written during a write phase and then read back
// during a read phase. The two phases never interleave: once Next has
// been called, Append panics (an internal invariant violation, never
// user-triggerable, matching spec.md §4.2's "never interleaved" rule).
type Block struct {
	tokens  []lexertoken.Token
	pos     int
	reading bool
}

// New creates an empty Block in the write phase.
func New() *Block {
	return &Block{}
}

// Append copies tok into the block. It is only valid during the write
// phase.
func (b *Block) Append(tok lexertoken.Token) {
	if b.reading {
		panic("tokenblock: Append called after Next (write/read phases may not interleave)")
	}
	b.tokens = append(b.tokens, tok)
}

// Next returns the next token in FIFO order and transitions the block
// into the read phase. The second return value is false once the
// block is exhausted.
func (b *Block) Next() (lexertoken.Token, bool) {
	b.reading = true
	if b.pos >= len(b.tokens) {
		return lexertoken.Token{}, false
	}
	tok := b.tokens[b.pos]
	b.pos++
	return tok, true
}

// Exhausted reports whether every token has been consumed.
func (b *Block) Exhausted() bool {
	return b.pos >= len(b.tokens)
}

// Len reports the total number of tokens written to the block.
func (b *Block) Len() int {
	return len(b.tokens)
}

// Queue is a FIFO of pending Blocks owned by the lexer. Blocks are
// drained in the order they were pushed; an exhausted block is
// dropped (freed, per spec.md §4.2) by the first Next or Empty call
// that finds it has no tokens left.
type Queue struct {
	blocks []*Block
}

// Push appends a block to the back of the queue.
func (q *Queue) Push(b *Block) {
	q.blocks = append(q.blocks, b)
}

// Next returns the next pending token across all queued blocks, in
// FIFO order, discarding exhausted blocks as it goes. The second
// return value is false if no pending tokens remain.
func (q *Queue) Next() (lexertoken.Token, bool) {
	for len(q.blocks) > 0 {
		tok, ok := q.blocks[0].Next()
		if ok {
			return tok, true
		}
		q.blocks = q.blocks[1:]
	}
	return lexertoken.Token{}, false
}

// Empty reports whether the queue has no pending tokens.
func (q *Queue) Empty() bool {
	for len(q.blocks) > 0 {
		if !q.blocks[0].Exhausted() {
			return false
		}
		q.blocks = q.blocks[1:]
	}
	return true
}
