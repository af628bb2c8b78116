//go:build !linux

package gpio

// Board is not available on non-Linux platforms.
type Board struct{}

// NewBoard returns an error on non-Linux platforms.
func NewBoard(cfg Config) (*Board, error) {
	return nil, ErrNotSupported
}

func (b *Board) Read() (Sample, error)    { return Sample{}, ErrNotSupported }
func (b *Board) Activate(p Pin) error     { return ErrNotSupported }
func (b *Board) Deactivate(p Pin) error   { return ErrNotSupported }
func (b *Board) Value(p Pin) (int, error) { return 0, ErrNotSupported }
func (b *Board) Set(p Pin) error          { return ErrNotSupported }
func (b *Board) Clear(p Pin) error        { return ErrNotSupported }
func (b *Board) Close() error             { return nil }
