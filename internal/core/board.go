package core

import "github.com/dkeye/Sketch/internal/domain"

// Board is the history/redo pair of a single room.
// It is not safe for concurrent use; the owning room serializes access.
type Board struct {
	history []domain.DrawOp
	redo    []domain.DrawOp
}

func NewBoard() *Board {
	return &Board{}
}

// Draw appends op and invalidates every undone operation.
func (b *Board) Draw(op domain.DrawOp) {
	b.history = append(b.history, op)
	b.redo = nil
}

func (b *Board) Undo() error {
	n := len(b.history)
	if n == 0 {
		return ErrNothingToUndo
	}
	op := b.history[n-1]
	b.history = b.history[:n-1]
	b.redo = append(b.redo, op)
	return nil
}

func (b *Board) Redo() error {
	n := len(b.redo)
	if n == 0 {
		return ErrNothingToRedo
	}
	op := b.redo[n-1]
	b.redo = b.redo[:n-1]
	b.history = append(b.history, op)
	return nil
}

func (b *Board) Clear() {
	b.history = nil
	b.redo = nil
}

func (b *Board) Len() int { return len(b.history) }

func (b *Board) RedoLen() int { return len(b.redo) }

// Snapshot copies both sequences. Ops themselves are shared; they are
// never mutated after being stored.
func (b *Board) Snapshot() domain.Snapshot {
	s := domain.Snapshot{
		History:   make([]domain.DrawOp, len(b.history)),
		RedoStack: make([]domain.DrawOp, len(b.redo)),
	}
	copy(s.History, b.history)
	copy(s.RedoStack, b.redo)
	return s
}
