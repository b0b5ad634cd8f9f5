package protocol

// Direction tells whether a transfer is read from or written to this end.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

// String returns the string representation of Direction
func (d Direction) String() string {
	if d == Outbound {
		return "outbound"
	}
	return "inbound"
}

// TransferState tracks one file transfer.
// BytesTransferred never exceeds TotalBytes; owners drop the state as soon as
// Done reports true.
type TransferState struct {
	FileName         string
	TotalBytes       uint64
	BytesTransferred uint64
	Direction        Direction
}

// NewTransferState returns a state with nothing transferred yet.
func NewTransferState(name string, total uint64, dir Direction) *TransferState {
	return &TransferState{FileName: name, TotalBytes: total, Direction: dir}
}

// Remaining returns the number of bytes still expected.
func (t *TransferState) Remaining() uint64 {
	return t.TotalBytes - t.BytesTransferred
}

// Advance accounts for n more bytes and returns how many of them belong to
// the transfer. Bytes beyond TotalBytes are not counted.
func (t *TransferState) Advance(n uint64) uint64 {
	if r := t.Remaining(); n > r {
		n = r
	}
	t.BytesTransferred += n
	return n
}

// Done reports whether every byte has been transferred.
func (t *TransferState) Done() bool {
	return t.BytesTransferred == t.TotalBytes
}

// Fraction returns progress in [0, 1]. Empty transfers are complete.
func (t *TransferState) Fraction() float64 {
	if t.TotalBytes == 0 {
		return 1
	}
	return float64(t.BytesTransferred) / float64(t.TotalBytes)
}
