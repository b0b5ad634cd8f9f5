package protocol

import "fmt"

// ChunkKind is the classification of an inbound frame.
type ChunkKind int

const (
	// ChunkControl is a decoded control message.
	ChunkControl ChunkKind = iota
	// ChunkPayload belongs to an active transfer.
	ChunkPayload
	// ChunkUnexpected is transfer data with no transfer to feed. It is
	// dropped by the caller.
	ChunkUnexpected
)

// String returns the string representation of ChunkKind
func (k ChunkKind) String() string {
	switch k {
	case ChunkControl:
		return "control"
	case ChunkPayload:
		return "payload"
	default:
		return "unexpected"
	}
}

// Chunk is the result of Discriminate.
type Chunk struct {
	Kind    ChunkKind
	Message *Message
	// Origin is the sending peer of relayed data, empty for the connection's
	// own payload frames.
	Origin string
	// Payload is capped at the transfer's remaining byte count.
	Payload []byte
	// Excess counts bytes beyond the end of the transfer that were cut off.
	Excess int
}

// TransferLookup returns the active transfer fed by origin, or nil.
// Origin is empty for bare payload frames.
type TransferLookup func(origin string) *TransferState

// Discriminate classifies an inbound frame given the transfers active on the
// connection. Control frames must decode under the codec named by their tag;
// transfer data is only accepted while lookup reports an unfinished transfer
// for its origin. Discriminate never mutates the transfer state.
func Discriminate(f Frame, role Role, lookup TransferLookup) (Chunk, error) {
	switch {
	case f.Tag.IsControl():
		codec, err := CodecFor(f.Tag, role)
		if err != nil {
			return Chunk{}, err
		}
		m, err := codec.Unmarshal(f.Body)
		if err != nil {
			return Chunk{}, err
		}
		return Chunk{Kind: ChunkControl, Message: m}, nil

	case f.Tag == TagPayload || f.Tag == TagRelay:
		origin, data := "", f.Body
		if f.Tag == TagRelay {
			if role == RoleServer {
				return Chunk{Kind: ChunkUnexpected, Payload: data}, nil
			}
			var err error
			if origin, data, err = SplitRelay(f.Body); err != nil {
				return Chunk{}, err
			}
		}
		var st *TransferState
		if lookup != nil {
			st = lookup(origin)
		}
		if st == nil || st.Done() {
			return Chunk{Kind: ChunkUnexpected, Origin: origin, Payload: data}, nil
		}
		n := len(data)
		if r := st.Remaining(); uint64(n) > r {
			n = int(r)
		}
		return Chunk{Kind: ChunkPayload, Origin: origin, Payload: data[:n], Excess: len(data) - n}, nil

	default:
		return Chunk{}, fmt.Errorf("%w: unknown frame tag %s", ErrMalformedMessage, f.Tag)
	}
}
